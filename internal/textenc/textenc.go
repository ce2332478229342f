// Package textenc converts entry names and comments between Go strings and
// the bytes stored in headers.
package textenc

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Default is the code page assumed for names without the UTF-8 flag.
var Default encoding.Encoding = charmap.CodePage437

// Decode returns raw as a string. UTF-8 names are used as-is; others are
// decoded with fallback (Default when nil).
func Decode(raw []byte, isUTF8 bool, fallback encoding.Encoding) string {
	if isUTF8 || isASCII(raw) {
		return string(raw)
	}
	if fallback == nil {
		fallback = Default
	}
	s, err := fallback.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}

// Encode returns the stored form of s and whether the UTF-8 flag must be
// set. ASCII is stored unflagged. Otherwise preferred is tried first when
// non-nil; text it cannot represent falls back to flagged UTF-8.
func Encode(s string, preferred encoding.Encoding) ([]byte, bool) {
	if isASCII([]byte(s)) {
		return []byte(s), false
	}
	if preferred != nil {
		if b, err := encoding.ReplaceUnsupported(preferred.NewEncoder()).Bytes([]byte(s)); err == nil && roundTrips(b, s, preferred) {
			return b, false
		}
	}
	return []byte(s), utf8.ValidString(s)
}

func roundTrips(b []byte, s string, enc encoding.Encoding) bool {
	back, err := enc.NewDecoder().Bytes(b)
	return err == nil && string(back) == s
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
