package handlers

import (
	"strconv"
	"strings"

	"github.com/edgebb/edgebb/internal/models"
)

// Body text rewrites applied while rendering, never at storage time: the
// stored rows keep whatever domain the writer typed.
const (
	legacyDomain  = "edge.edgebb.workers.dev"
	currentDomain = "bbs.eddibb.cc"
)

// FormatResponses renders a thread as DAT text: one response per line in the
// fixed positional format, the thread title riding on the first line only.
// The format is assembled by hand rather than templated; a 1000-response
// thread renders on every client poll and the shape is strictly positional.
func FormatResponses(responses []models.Res, threadTitle, defaultName string) string {
	var b strings.Builder

	for i, r := range responses {
		title := ""
		if i == 0 {
			title = strings.ReplaceAll(threadTitle, "\n", "")
		}

		if r.IsAbone == 1 {
			b.WriteString("あぼーん<>あぼーん<> <> あぼーん<>")
			b.WriteString(title)
			b.WriteByte('\n')
			continue
		}

		name := strings.ReplaceAll(r.Name, "\n", "")
		if name == "" {
			name = defaultName
		}

		b.WriteString(name)
		b.WriteString("<>")
		b.WriteString(strings.ReplaceAll(r.Mail, "\n", ""))
		b.WriteString("<>")
		b.WriteString(r.Date)
		b.WriteString(" ID:")
		b.WriteString(r.AuthorID)
		b.WriteString("<> ")
		body := strings.ReplaceAll(r.Body, "\n", "<br>")
		b.WriteString(strings.ReplaceAll(body, legacyDomain, currentDomain))
		b.WriteString(" <>")
		b.WriteString(title)
		b.WriteByte('\n')
	}

	return b.String()
}

// FormatSubject renders subject.txt: one non-archived thread per line,
// newest activity first (the caller sorts).
func FormatSubject(threads []models.Thread) string {
	var b strings.Builder
	for _, t := range threads {
		b.WriteString(t.ThreadNumber)
		b.WriteString(".dat<>")
		b.WriteString(strings.ReplaceAll(t.Title, "\n", ""))
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(t.ResponseCount))
		b.WriteString(")\n")
	}
	return b.String()
}
