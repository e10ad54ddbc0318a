package codec

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/edgebb/edgebb/internal/models"
)

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// metadent markers, longest first so "vvv" is not read as "v".
var metadentMarkers = []struct {
	prefix string
	level  models.MetadentLevel
}{
	{"!metadent:vvv:", models.MetadentVVVerbose},
	{"!metadent:vv:", models.MetadentVVerbose},
	{"!metadent:v:", models.MetadentVerbose},
}

// ParseMetadentMarker detects an opt-in marker at the start of a body. On a
// match it returns the chosen level and the body with the marker rewritten to
// its confirmed form; otherwise MetadentNone and the body untouched.
func ParseMetadentMarker(body string) (models.MetadentLevel, string) {
	for _, m := range metadentMarkers {
		if strings.HasPrefix(body, m.prefix) {
			rewritten := fmt.Sprintf("!metadent:%s - configured%s",
				m.level.String(), body[len(m.prefix):])
			return m.level, rewritten
		}
	}
	return models.MetadentNone, body
}

// UAFamily maps a User-Agent to the client family code used in metaident.
func UAFamily(ua string) int {
	switch {
	case strings.Contains(ua, "Mate"):
		return 0
	case strings.Contains(ua, "twinkle"):
		return 1
	case strings.Contains(ua, "mae"):
		return 2
	case strings.Contains(ua, "Siki"):
		return 3
	case strings.Contains(ua, "Xeno"):
		return 4
	case strings.Contains(ua, "ThreadMaster"):
		return 5
	default:
		return 6
	}
}

// DateSeed rotates weekly: floor(unix_sec / one week) clamped into int32.
func DateSeed(unixSec int64) int64 {
	return (unixSec / (86400 * 7)) % math.MaxInt32
}

func base62Pair(v int64) string {
	v %= 62 * 62
	return string([]byte{base62Chars[v/62], base62Chars[v%62]})
}

// Metaident derives the pseudonymised fingerprint XXYY-zABB from the AS
// number, the writer's IP, the User-Agent and the weekly date seed. The
// fingerprint deliberately survives IP churn inside one AS and one week but
// rotates afterwards.
func Metaident(asn uint32, ip, ua string, unixSec int64) string {
	seed := DateSeed(unixSec)

	xx := base62Pair(int64(asn) + seed)

	groups, v6 := ipGroups(ip)
	var sum int64
	for _, g := range groups {
		sum += g
	}
	yy := base62Pair(sum + seed)

	z := byte('4')
	if v6 {
		z = '6'
	}

	a := base62Chars[(int64(UAFamily(ua))+seed)%62]

	sum16 := md5.Sum([]byte(ua))
	bb := hex.EncodeToString(sum16[:])[:2]

	return fmt.Sprintf("%s%s-%c%c%s", xx, yy, z, a, bb)
}

// ipGroups returns the first four address groups as integers: decimal octets
// for IPv4, hex groups for IPv6. Unparsable groups count as zero.
func ipGroups(ip string) ([]int64, bool) {
	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		if len(parts) > 4 {
			parts = parts[:4]
		}
		groups := make([]int64, 0, 4)
		for _, p := range parts {
			g, err := strconv.ParseInt(p, 16, 64)
			if err != nil {
				g = 0
			}
			groups = append(groups, g)
		}
		return groups, true
	}
	parts := strings.Split(ip, ".")
	groups := make([]int64, 0, 4)
	for i := 0; i < len(parts) && i < 4; i++ {
		g, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			g = 0
		}
		groups = append(groups, g)
	}
	return groups, false
}

// MetadentSuffix renders the name decoration for a post in a metadent
// thread. tinkerLevel feeds the (L{n}) part, metaident the fingerprint.
func MetadentSuffix(level models.MetadentLevel, tinkerLevel int, metaident string) string {
	switch level {
	case models.MetadentVerbose:
		return fmt.Sprintf(" </b>(L%d)<b>", tinkerLevel)
	case models.MetadentVVerbose:
		return fmt.Sprintf(" </b>(%s)<b>", metaident)
	case models.MetadentVVVerbose:
		return fmt.Sprintf(" </b>(L%d) (%s)<b>", tinkerLevel, metaident)
	default:
		return ""
	}
}
