// Package routes maps request paths onto the protocol's route variants.
//
// AnalyzeRoute is a pure function: it owns no state and performs no I/O, so
// the dispatcher can call it before touching any backend. The grammar is the
// legacy 2ch URL surface: board-scoped flat files, dat and kako dat paths,
// the bbs.cgi write endpoint and the read.cgi web UI forms.
package routes

import "strings"

// Kind tags a parsed route.
type Kind int

const (
	KindNotFound Kind = iota
	KindIndex
	KindAuth
	KindAuthCode
	KindBbsCgi
	KindDat
	KindKakoDat
	KindSettingTxt
	KindSubjectTxt
	KindHeadTxt
	KindBoardIndex
	KindThreadWebUI
)

// Route is the tagged result of path analysis. BoardKey/BoardID are set for
// every board-scoped variant, ThreadID only for Dat/KakoDat/ThreadWebUI.
type Route struct {
	Kind     Kind
	BoardKey string
	BoardID  int
	ThreadID string
}

// NotFound is the zero route.
var NotFound = Route{Kind: KindNotFound}

// AnalyzeRoute classifies path against the configured board keys. Thread ids
// must be exactly 10 characters; Dat tolerates non-numeric content (passed
// through as-is), KakoDat and ThreadWebUI do not get that latitude beyond
// length because their handlers parse the id.
func AnalyzeRoute(path string, boardKeys map[string]int) Route {
	switch path {
	case "/", "/index.html":
		return Route{Kind: KindIndex}
	case "/auth", "/auth/":
		return Route{Kind: KindAuth}
	case "/auth-code", "/auth-code/":
		return Route{Kind: KindAuthCode}
	case "/test/bbs.cgi":
		return Route{Kind: KindBbsCgi}
	}

	if len(path) < 4 {
		return NotFound
	}

	switch path[len(path)-4:] {
	case ".dat":
		return analyzeDat(path, boardKeys)
	case ".txt", ".TXT":
		return analyzeTxt(path, boardKeys)
	}
	return analyzeWebUI(path, boardKeys)
}

// analyzeDat handles /:key/dat/:id.dat and /:key/kako/:id4/:id5/:id.dat.
func analyzeDat(path string, boardKeys map[string]int) Route {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '.'
	})
	// FieldsFunc drops the leading empty segment, so the plain dat form has
	// 4 parts and the kako form 6 (the trailing part being "dat").
	switch len(parts) {
	case 4:
		boardKey, kind, threadID := parts[0], parts[1], parts[2]
		if kind != "dat" || len(threadID) != 10 {
			return NotFound
		}
		boardID, ok := boardKeys[boardKey]
		if !ok {
			return NotFound
		}
		return Route{Kind: KindDat, BoardKey: boardKey, BoardID: boardID, ThreadID: threadID}
	case 6:
		boardKey, kind := parts[0], parts[1]
		top4, top5, threadID := parts[2], parts[3], parts[4]
		if kind != "kako" || len(threadID) != 10 {
			return NotFound
		}
		if top4 != threadID[:4] || top5 != threadID[:5] {
			return NotFound
		}
		boardID, ok := boardKeys[boardKey]
		if !ok {
			return NotFound
		}
		return Route{Kind: KindKakoDat, BoardKey: boardKey, BoardID: boardID, ThreadID: threadID}
	default:
		return NotFound
	}
}

// analyzeTxt handles /:key/SETTING.TXT, /:key/subject.txt and /:key/head.txt.
func analyzeTxt(path string, boardKeys map[string]int) Route {
	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		return NotFound
	}
	boardKey := parts[1]
	boardID, ok := boardKeys[boardKey]
	if !ok {
		return NotFound
	}
	switch parts[2] {
	case "SETTING.TXT":
		return Route{Kind: KindSettingTxt, BoardKey: boardKey, BoardID: boardID}
	case "subject.txt":
		return Route{Kind: KindSubjectTxt, BoardKey: boardKey, BoardID: boardID}
	case "head.txt":
		return Route{Kind: KindHeadTxt, BoardKey: boardKey, BoardID: boardID}
	default:
		return NotFound
	}
}

// analyzeWebUI handles /:key, /:key/:id and /test/read.cgi/:key/:id, all with
// an optional trailing slash.
func analyzeWebUI(path string, boardKeys map[string]int) Route {
	parts := strings.Split(path, "/")
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	switch len(parts) {
	case 2:
		boardKey := parts[1]
		boardID, ok := boardKeys[boardKey]
		if !ok {
			return NotFound
		}
		return Route{Kind: KindBoardIndex, BoardKey: boardKey, BoardID: boardID}
	case 3:
		boardKey, threadID := parts[1], parts[2]
		if len(threadID) != 10 {
			return NotFound
		}
		boardID, ok := boardKeys[boardKey]
		if !ok {
			return NotFound
		}
		return Route{Kind: KindThreadWebUI, BoardKey: boardKey, BoardID: boardID, ThreadID: threadID}
	case 5:
		if parts[1] != "test" || parts[2] != "read.cgi" {
			return NotFound
		}
		boardKey, threadID := parts[3], parts[4]
		if len(threadID) != 10 {
			return NotFound
		}
		boardID, ok := boardKeys[boardKey]
		if !ok {
			return NotFound
		}
		return Route{Kind: KindThreadWebUI, BoardKey: boardKey, BoardID: boardID, ThreadID: threadID}
	default:
		return NotFound
	}
}
