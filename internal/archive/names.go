package archive

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// zipFlagUTF8 is general purpose bit 11: names and comments are UTF-8
const zipFlagUTF8 = 0x800

// LookupNameEncoding resolves a charset label ("cp437", "shift_jis",
// "windows-1252", ...) to the decoder used for legacy ZIP entry names.
// An empty label selects IBM code page 437, the historical ZIP default
func LookupNameEncoding(label string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "cp437", "ibm437", "437":
		return charmap.CodePage437, nil
	case "cp850", "ibm850", "850":
		return charmap.CodePage850, nil
	}

	enc, name := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("unknown filename encoding %q", label)
	}
	if name == "utf-8" {
		return encoding.Nop, nil
	}
	return enc, nil
}

// decodeName converts a raw ZIP entry name to UTF-8. Names flagged as UTF-8,
// or which already are valid UTF-8, are returned untouched
func decodeName(raw string, flags uint16, enc encoding.Encoding) string {
	if flags&zipFlagUTF8 != 0 || utf8.ValidString(raw) {
		return raw
	}
	if enc == nil {
		enc = charmap.CodePage437
	}
	decoded, err := enc.NewDecoder().String(raw)
	if err != nil {
		return strings.ToValidUTF8(raw, "_")
	}
	return decoded
}
