// Package archive provides a uniform read-only view over the compressed
// containers add-ons are shipped in: ZIP (plain, ZipCrypto and WinZip AES),
// 7z (optionally AES encrypted) and RAR (optionally encrypted)
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/mholt/archives"
)

// Format identifies a supported container format
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatSevenZip
	FormatRar
)

// String returns the lowercase format name
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatSevenZip:
		return "7z"
	case FormatRar:
		return "rar"
	default:
		return "unknown"
	}
}

// SupportsInMemory reports whether a layer of this format can be opened from an
// in-memory buffer with random access. Only ZIP qualifies: its central
// directory allows entries to be read independently without a linear scan
func (f Format) SupportsInMemory() bool {
	return f == FormatZip
}

// FormatFromExt returns the format implied by the file name's extension
func FormatFromExt(name string) Format {
	switch strings.ToLower(path.Ext(strings.ReplaceAll(name, `\`, "/"))) {
	case ".zip":
		return FormatZip
	case ".7z":
		return FormatSevenZip
	case ".rar":
		return FormatRar
	default:
		return FormatUnknown
	}
}

// IsArchiveName reports whether the name carries a supported archive extension
func IsArchiveName(name string) bool {
	return FormatFromExt(name) != FormatUnknown
}

// Identify determines the format of the archive at path. The extension is
// trusted first; files without a known extension are sniffed by content
func Identify(ctx context.Context, filePath string) (Format, error) {
	if f := FormatFromExt(filePath); f != FormatUnknown {
		return f, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return FormatUnknown, err
	}
	defer func() { _ = file.Close() }()

	format, _, err := archives.Identify(ctx, filePath, file)
	if err != nil {
		if errors.Is(err, archives.NoMatch) {
			return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filePath)
		}
		return FormatUnknown, fmt.Errorf("identify %s: %w", filePath, err)
	}

	switch format.(type) {
	case archives.Zip:
		return FormatZip, nil
	case archives.SevenZip:
		return FormatSevenZip, nil
	case archives.Rar:
		return FormatRar, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, filePath, format.Extension())
	}
}
