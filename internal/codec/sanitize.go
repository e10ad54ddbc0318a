package codec

import (
	"regexp"
	"strings"
)

var sanitizer = strings.NewReplacer(
	"<br>", "<br>",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\n", "<br>",
	"\r", "",
	"&#10;", "",
)

// Sanitize neutralises user-originated text for storage and rendering:
// <, > and " become entities, newlines become <br>, carriage returns and
// literal &#10; sequences are removed. An already-formed <br> passes through
// unchanged, which keeps the function idempotent on its own output.
func Sanitize(input string) string {
	return sanitizer.Replace(input)
}

// SanitizeThreadTitle applies Sanitize and then the stricter title rules:
// every numeric character reference for newline (&#10; in any decimal or hex
// spelling) is stripped, and any numeric character reference that is not
// terminated by a semicolon is elided from its opening '&' up to the
// offending character, where scanning resumes.
func SanitizeThreadTitle(input string) string {
	return stripNumericRefs(Sanitize(input))
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isDecDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func stripNumericRefs(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	i := 0
	for i < len(s) {
		if s[i] != '&' || i+1 >= len(s) || s[i+1] != '#' {
			out.WriteByte(s[i])
			i++
			continue
		}

		// Scan &#[xX]?[0-9A-Fa-f]+
		j := i + 2
		hex := false
		if j < len(s) && (s[j] == 'x' || s[j] == 'X') {
			hex = true
			j++
		}
		digitStart := j
		for j < len(s) && isHexDigit(s[j]) {
			j++
		}
		if j == digitStart {
			// "&#" with no digits is not a reference; keep it literally.
			out.WriteString(s[i : i+2])
			i += 2
			continue
		}

		if j < len(s) && s[j] == ';' {
			// Terminated reference: drop it if it spells newline, keep otherwise.
			if !isNewlineRef(s[digitStart:j], hex) {
				out.WriteString(s[i : j+1])
			}
			i = j + 1
			continue
		}

		// Unterminated: discard everything from '&' and resume at the
		// offending character (which may itself open another reference).
		i = j
	}
	return out.String()
}

// isNewlineRef reports whether the digit run names code point 10.
func isNewlineRef(digits string, hex bool) bool {
	trimmed := strings.TrimLeft(digits, "0")
	if hex {
		return trimmed == "a" || trimmed == "A"
	}
	for i := 0; i < len(digits); i++ {
		if !isDecDigit(digits[i]) {
			return false
		}
	}
	return trimmed == "10"
}

var tokenLikeName = regexp.MustCompile(`[a-z0-9]{30,}`)

// RemoveTokenLikeName blanks a name that looks like a pasted auth token
// (30+ chars of lowercase hex-ish noise), so a confused client cannot
// publish its own credential as an author name.
func RemoveTokenLikeName(name string) string {
	if len(name) >= 30 && tokenLikeName.MatchString(name) {
		return ""
	}
	return name
}
