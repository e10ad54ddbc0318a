package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boardKeys() map[string]int {
	return map[string]int{"liveedge": 1}
}

func TestAnalyzeRoute_ConstPaths(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"/", KindIndex},
		{"/index.html", KindIndex},
		{"/auth", KindAuth},
		{"/auth/", KindAuth},
		{"/auth-code", KindAuthCode},
		{"/auth-code/", KindAuthCode},
		{"/test/bbs.cgi", KindBbsCgi},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AnalyzeRoute(tt.path, boardKeys()).Kind, "path=%s", tt.path)
	}
}

func TestAnalyzeRoute_Dat(t *testing.T) {
	tests := []struct {
		path string
		want Route
	}{
		{"/liveedge/dat/1666666666.dat", Route{KindDat, "liveedge", 1, "1666666666"}},
		// Non-numeric ids are tolerated for Dat; the handler decides.
		{"/liveedge/dat/fewdgerfef.dat", Route{KindDat, "liveedge", 1, "fewdgerfef"}},
		{"/liveedge/kako/1666/16666/1666666666.dat", Route{KindKakoDat, "liveedge", 1, "1666666666"}},
		{"/liveedge/dat/1666666666222.dat", NotFound},
		{"/liveedge/kako/9999/16666/1666666666.dat", NotFound},
		{"/liveedge/kako/1666/99999/1666666666.dat", NotFound},
		{"/unknown/dat/1666666666.dat", NotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AnalyzeRoute(tt.path, boardKeys()), "path=%s", tt.path)
	}
}

func TestAnalyzeRoute_Txt(t *testing.T) {
	tests := []struct {
		path string
		want Route
	}{
		{"/liveedge/SETTING.TXT", Route{KindSettingTxt, "liveedge", 1, ""}},
		{"/liveedge/subject.txt", Route{KindSubjectTxt, "liveedge", 1, ""}},
		{"/liveedge/head.txt", Route{KindHeadTxt, "liveedge", 1, ""}},
		{"/unknown/subject.txt", NotFound},
		{"/liveedge/other.txt", NotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AnalyzeRoute(tt.path, boardKeys()), "path=%s", tt.path)
	}
}

func TestAnalyzeRoute_WebUI(t *testing.T) {
	tests := []struct {
		path string
		want Route
	}{
		{"/liveedge", Route{KindBoardIndex, "liveedge", 1, ""}},
		{"/liveedge/", Route{KindBoardIndex, "liveedge", 1, ""}},
		{"/liveedge/1666666667/", Route{KindThreadWebUI, "liveedge", 1, "1666666667"}},
		{"/liveedge/1666666669", Route{KindThreadWebUI, "liveedge", 1, "1666666669"}},
		{"/test/read.cgi/liveedge/1666666668/", Route{KindThreadWebUI, "liveedge", 1, "1666666668"}},
		{"/test/read.cgi/liveedge/1666666666", Route{KindThreadWebUI, "liveedge", 1, "1666666666"}},
		{"/liveedge/12345", NotFound},
		{"/test/read.cgi/unknown/1666666666", NotFound},
		{"/nosuchboard", NotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AnalyzeRoute(tt.path, boardKeys()), "path=%s", tt.path)
	}
}

func TestAnalyzeRoute_RoundTrip(t *testing.T) {
	// Every constructible valid path maps back to its variant.
	paths := map[string]Kind{
		"/":                            KindIndex,
		"/auth":                        KindAuth,
		"/auth-code":                   KindAuthCode,
		"/test/bbs.cgi":                KindBbsCgi,
		"/liveedge/dat/1234512345.dat": KindDat,
		"/liveedge/kako/1234/12345/1234512345.dat": KindKakoDat,
		"/liveedge/SETTING.TXT":                    KindSettingTxt,
		"/liveedge/subject.txt":                    KindSubjectTxt,
		"/liveedge/head.txt":                       KindHeadTxt,
		"/liveedge":                                KindBoardIndex,
		"/liveedge/1234512345":                     KindThreadWebUI,
		"/test/read.cgi/liveedge/1234512345":       KindThreadWebUI,
	}
	for path, want := range paths {
		assert.Equal(t, want, AnalyzeRoute(path, boardKeys()).Kind, "path=%s", path)
	}
}
