package codec

import (
	"fmt"
	"strings"
	"time"
)

// CapAuthorID is the masked author ID shown on moderator-cap posts.
const CapAuthorID = "????"

// JST is the fixed board timezone. Post dates and author IDs use UTC+9 with
// no DST; If-Modified-Since parsing does not (see ParseIfModifiedSince).
var JST = time.FixedZone("JST", 9*60*60)

// ReducedIP collapses an address for identity derivation: IPv4 stays whole,
// IPv6 keeps its first four colon-separated groups.
func ReducedIP(ip string) string {
	if !strings.Contains(ip, ":") {
		return ip
	}
	groups := strings.Split(ip, ":")
	if len(groups) > 4 {
		groups = groups[:4]
	}
	return strings.Join(groups, ":")
}

// EqualIP reports whether two addresses are the same writer for auth
// purposes: exact match for IPv4, first-four-group match for IPv6.
func EqualIP(a, b string) bool {
	return ReducedIP(a) == ReducedIP(b)
}

// AuthorID derives the 9-character daily ID for a writer on a board. The
// same origin IP gets the same ID for one JST calendar day per board.
func AuthorID(originIP string, now time.Time, boardID int) string {
	day := now.In(JST).Format("2006-01-02")
	seed := fmt.Sprintf("%s:%s:%d", ReducedIP(originIP), day, boardID)
	trip := Trip(seed)
	runes := []rune(trip)
	if len(runes) > 9 {
		runes = runes[:9]
	}
	return string(runes)
}

// PostDate renders a response date the way clients expect:
// 2023/11/14(Tue) 22:13:20.123 in JST.
func PostDate(now time.Time) string {
	return now.In(JST).Format("2006/01/02(Mon) 15:04:05.000")
}

// ParseIfModifiedSince parses the protocol's If-Modified-Since shape
// (2023/11/14 22:13:20) into unix seconds. The wall time is taken as-is
// against the epoch; the thread clock it is compared to is an epoch string.
func ParseIfModifiedSince(v string) (int64, bool) {
	t, err := time.ParseInLocation("2006/01/02 15:04:05", v, time.UTC)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}
