package archive

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrPasswordRequired  = errors.New("archive is encrypted, password required")
	ErrPasswordIncorrect = errors.New("incorrect archive password")
	ErrCorrupted         = errors.New("archive is corrupted or unreadable")
	ErrEntryNotFound     = errors.New("entry not found in archive")
	ErrPathTraversal     = errors.New("entry path escapes the extraction root")
	ErrSizeLimit         = errors.New("extraction size limit exceeded")
)
