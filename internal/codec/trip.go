package codec

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	crypt "github.com/amoghe/go-crypt"
)

// Trip derives a tripcode from the secret that followed '#' in a name field.
//
// The secret is re-encoded to Shift_JIS first; two secrets that encode to the
// same bytes produce the same trip. Secrets of 12+ bytes use the "new" SHA-1
// scheme, shorter ones the classic crypt(3)-DES scheme.
func Trip(secret string) string {
	b := EncodeSJIS(secret)

	if len(b) >= 12 {
		sum := sha1.Sum(b)
		enc := base64.StdEncoding.EncodeToString(sum[:])[:12]
		return strings.ReplaceAll(enc, "+", ".")
	}

	salt := make([]byte, 0, 4)
	if len(b) >= 3 {
		salt = append(salt, b[1], b[2])
	}
	salt = append(salt, 'H', '.')
	for i, c := range salt {
		switch {
		case c >= 0x3a && c <= 0x40:
			salt[i] = c + 7
		case c >= 0x5b && c <= 0x60:
			salt[i] = c + 6
		case c >= 0x2e && c <= 0x7a:
			// usable as-is
		default:
			salt[i] = '.'
		}
	}

	hashed, err := crypt.Crypt(string(b), string(salt[:2]))
	if err != nil || len(hashed) < 4 {
		return ""
	}
	return hashed[3:]
}
