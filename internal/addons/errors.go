package addons

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/bnema/xpinstall/internal/archive"
)

var (
	ErrNotAnAddon            = errors.New("no add-on marker found")
	ErrUnrecognizedNavdata   = errors.New("unrecognized navdata format")
	ErrPasswordRequired      = archive.ErrPasswordRequired
	ErrPasswordIncorrect     = archive.ErrPasswordIncorrect
	ErrUnsupportedArchive    = archive.ErrUnsupportedFormat
	ErrCorruptArchive        = archive.ErrCorrupted
	ErrPathTraversal         = archive.ErrPathTraversal
	ErrSizeExceeded          = errors.New("extraction size limit exceeded")
	ErrRatioExceeded         = errors.New("compression ratio limit exceeded")
	ErrDestinationConflict   = errors.New("destination already exists")
	ErrInsufficientSpace     = errors.New("insufficient disk space")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrCancelled             = errors.New("installation cancelled")
	ErrPartialBatch          = errors.New("some tasks failed")
	ErrLiveryAircraftMissing = errors.New("aircraft for livery not installed")
	ErrUnsafeRoot            = errors.New("add-on root resolves to a filesystem root")
	ErrSourceOverlapsTarget  = errors.New("source and destination overlap")
)

// ErrorKind is the category reported for a failed task
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotAnAddon
	KindUnrecognizedNavdataFormat
	KindPasswordRequired
	KindPasswordIncorrect
	KindUnsupportedOrCorruptArchive
	KindPathTraversalRejected
	KindExtractionSizeExceeded
	KindCompressionRatioExceeded
	KindDestinationConflict
	KindInsufficientDiskSpace
	KindPermissionDenied
	KindCancelled
	KindPartialBatchFailure
	KindLiveryAircraftMissing
	KindUnsafeRoot
	KindSourceOverlapsTarget
)

var errorKindNames = [...]string{
	KindUnknown:                     "Unknown",
	KindNotAnAddon:                  "NotAnAddon",
	KindUnrecognizedNavdataFormat:   "UnrecognizedNavdataFormat",
	KindPasswordRequired:            "PasswordRequired",
	KindPasswordIncorrect:           "PasswordIncorrect",
	KindUnsupportedOrCorruptArchive: "UnsupportedOrCorruptArchive",
	KindPathTraversalRejected:       "PathTraversalRejected",
	KindExtractionSizeExceeded:      "ExtractionSizeExceeded",
	KindCompressionRatioExceeded:    "CompressionRatioExceeded",
	KindDestinationConflict:         "DestinationConflict",
	KindInsufficientDiskSpace:       "InsufficientDiskSpace",
	KindPermissionDenied:            "PermissionDenied",
	KindCancelled:                   "Cancelled",
	KindPartialBatchFailure:         "PartialBatchFailure",
	KindLiveryAircraftMissing:       "LiveryAircraftMissing",
	KindUnsafeRoot:                  "UnsafeRoot",
	KindSourceOverlapsTarget:        "SourceOverlapsTarget",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return errorKindNames[KindUnknown]
}

// IsSecurity reports whether the kind stems from a hostile-archive defense
func (k ErrorKind) IsSecurity() bool {
	switch k {
	case KindPathTraversalRejected, KindExtractionSizeExceeded, KindCompressionRatioExceeded:
		return true
	}
	return false
}

var kindSentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrCancelled, KindCancelled},
	{context.Canceled, KindCancelled},
	{ErrPathTraversal, KindPathTraversalRejected},
	{ErrSizeExceeded, KindExtractionSizeExceeded},
	{archive.ErrSizeLimit, KindExtractionSizeExceeded},
	{ErrRatioExceeded, KindCompressionRatioExceeded},
	{ErrPasswordRequired, KindPasswordRequired},
	{ErrPasswordIncorrect, KindPasswordIncorrect},
	{ErrUnsupportedArchive, KindUnsupportedOrCorruptArchive},
	{ErrCorruptArchive, KindUnsupportedOrCorruptArchive},
	{archive.ErrEntryNotFound, KindUnsupportedOrCorruptArchive},
	{ErrInsufficientSpace, KindInsufficientDiskSpace},
	{syscall.ENOSPC, KindInsufficientDiskSpace},
	{ErrPermissionDenied, KindPermissionDenied},
	{os.ErrPermission, KindPermissionDenied},
	{ErrDestinationConflict, KindDestinationConflict},
	{ErrUnrecognizedNavdata, KindUnrecognizedNavdataFormat},
	{ErrNotAnAddon, KindNotAnAddon},
	{ErrLiveryAircraftMissing, KindLiveryAircraftMissing},
	{ErrUnsafeRoot, KindUnsafeRoot},
	{ErrSourceOverlapsTarget, KindSourceOverlapsTarget},
	{ErrPartialBatch, KindPartialBatchFailure},
}

// KindOf maps any wrapped error onto the taxonomy
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindUnknown
}
