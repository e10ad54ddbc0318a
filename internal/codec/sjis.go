// Package codec implements the text machinery of the 2ch-compatible wire
// protocol: Shift_JIS transcoding, percent-decoding of form bodies, user text
// sanitisation, tripcode and daily author ID derivation, and the metadent
// fingerprint.
//
// Everything here is pure computation. All user-originated strings pass
// through Sanitize (or SanitizeThreadTitle) exactly once, before storage;
// sanitisation is idempotent on its own output.
package codec

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
)

// EncodeSJIS converts a UTF-8 string to Shift_JIS bytes. Runes with no
// Shift_JIS mapping are replaced by the encoder's substitute byte.
func EncodeSJIS(s string) []byte {
	enc := encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// DecodeSJIS converts Shift_JIS bytes to a UTF-8 string.
func DecodeSJIS(b []byte) string {
	out, err := japanese.ShiftJIS.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// DecodeForm parses an application/x-www-form-urlencoded body whose
// percent-escapes encode Shift_JIS bytes. Escapes are decoded to raw bytes
// first, then each value is Shift_JIS-decoded. '+' decodes to a space.
// Duplicate keys are last-write-wins. A pair without '=' or a malformed
// escape is an error.
func DecodeForm(body []byte) (map[string]string, error) {
	form := make(map[string]string)
	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return nil, fmt.Errorf("malformed form pair %q", pair)
		}
		key := pair[:eq]
		raw, err := percentDecode(pair[eq+1:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode form field %q: %w", key, err)
		}
		form[key] = DecodeSJIS(raw)
	}
	return form, nil
}

func percentDecode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			if i+2 >= len(s) {
				// Trailing truncated escape; the original scanner skips it.
				i = len(s)
				continue
			}
			hi, ok1 := hexDigit(s[i+1])
			lo, ok2 := hexDigit(s[i+2])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("invalid percent escape %q", s[i:i+3])
			}
			out = append(out, hi<<4|lo)
			i += 2
		case '+':
			out = append(out, ' ')
		default:
			out = append(out, s[i])
		}
	}
	return out, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
