package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebb/edgebb/internal/codec"
	"github.com/edgebb/edgebb/internal/models"
)

func seedDatThread(repo *fakeRepo) *models.Thread {
	thread := &models.Thread{
		ThreadNumber: "1666666666", Title: "実況スレ", ResponseCount: 2,
		LastModified: "1700000000", BoardID: 1, Active: 1,
	}
	repo.threads[threadKey(1, "1666666666")] = thread
	repo.responses = append(repo.responses,
		models.Res{
			Name: "", Mail: "", Date: "2023/11/14(Tue) 22:00:00.000",
			AuthorID: "abcdefghi", Body: "一番乗り", ThreadID: "1666666666",
			BoardID: 1, Timestamp: 1699999000,
		},
		models.Res{
			Name: "名無しさん", Mail: "sage", Date: "2023/11/14(Tue) 22:13:20.000",
			AuthorID: "abcdefghi", Body: "二番", ThreadID: "1666666666",
			BoardID: 1, Timestamp: 1700000000,
		},
	)
	return thread
}

func getDat(r http.Handler, mod func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/liveedge/dat/1666666666.dat", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	if mod != nil {
		mod(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDat_RendersThread(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo)
	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	w := getDat(r, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "s-maxage=1", w.Header().Get("Cache-Control"), "active threads cache for 1s")

	body := sjisBody(w)
	lines := []string{
		"エッヂの名無し<><>2023/11/14(Tue) 22:00:00.000 ID:abcdefghi<> 一番乗り <>実況スレ",
		"名無しさん<>sage<>2023/11/14(Tue) 22:13:20.000 ID:abcdefghi<> 二番 <>",
	}
	assert.Equal(t, lines[0]+"\n"+lines[1]+"\n", body)
}

func TestDat_RenderIsStable(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo)
	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	first := getDat(r, nil).Body.Bytes()
	second := getDat(r, nil).Body.Bytes()
	assert.Equal(t, first, second, "re-rendering yields byte-identical Shift_JIS output")
}

func TestDat_ConditionalGet(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo) // last_modified = 1700000000

	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	w := getDat(r, func(req *http.Request) {
		req.Header.Set("If-Modified-Since", "2023/11/14 22:13:20")
	})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Equal(t, "s-maxage=1", w.Header().Get("Cache-Control"))

	// An older client timestamp gets the full body.
	w = getDat(r, func(req *http.Request) {
		req.Header.Set("If-Modified-Since", "2023/11/14 22:13:19")
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// Garbage is ignored.
	w = getDat(r, func(req *http.Request) {
		req.Header.Set("If-Modified-Since", "not a date")
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDat_Range(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo)
	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	full := getDat(r, nil).Body.Bytes()

	w := getDat(r, func(req *http.Request) {
		req.Header.Set("User-Agent", "ThreadMaster/1.0")
		req.Header.Set("Range", "bytes=10-")
	})
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, full[10:], w.Body.Bytes())
}

func TestDat_RangeIgnoredForMateAndXeno(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo)
	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	for _, ua := range []string{"2chMate/0.8.10.153", "Xeno/1.2"} {
		w := getDat(r, func(req *http.Request) {
			req.Header.Set("User-Agent", ua)
			req.Header.Set("Range", "bytes=10-")
		})
		assert.Equal(t, http.StatusOK, w.Code, "ua=%s gets the full body", ua)
	}
}

func TestDat_InactiveThreadCachesLonger(t *testing.T) {
	repo := newFakeRepo()
	thread := seedDatThread(repo)
	thread.Active = 0

	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	w := getDat(r, nil)
	assert.Equal(t, "s-maxage=3600", w.Header().Get("Cache-Control"))
}

func TestDat_MissingThreadWithoutArchive(t *testing.T) {
	repo := newFakeRepo()
	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	w := getDat(r, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDat_WorkersDevMigrationNotice(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo)
	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	w := getDat(r, func(req *http.Request) {
		req.Host = "edge.edgebb.workers.dev"
	})
	assert.Contains(t, sjisBody(w), "あなたは将来的に廃止される旧ドメインを使用しています")
}

func TestDat_BodyDomainSubstitution(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo)
	repo.responses[0].Body = "see https://edge.edgebb.workers.dev/liveedge/"

	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	body := sjisBody(getDat(r, nil))
	assert.Contains(t, body, "bbs.eddibb.cc")
	assert.NotContains(t, body, "edge.edgebb.workers.dev")
}

func TestDat_AboneRow(t *testing.T) {
	repo := newFakeRepo()
	seedDatThread(repo)
	repo.responses[0].IsAbone = 1

	h := testHandlers(repo, time.Unix(1700000100, 0))
	r := testRouter(h)

	body := sjisBody(getDat(r, nil))
	assert.Contains(t, body, "あぼーん<>あぼーん<> <> あぼーん<>実況スレ\n")
}

func TestMateVersionAtLeast(t *testing.T) {
	tests := []struct {
		ua   string
		want bool
	}{
		{"2chMate/0.8.10.174", true},
		{"2chMate/0.8.10.175", true},
		{"2chMate/0.8.11.1", true},
		{"2chMate/1.0", true},
		{"2chMate/0.8.10.173", false},
		{"2chMate/0.8.9.200", false},
		{"Siki/3.0", true},
		{"twinkle/2.1", true},
		{"Mozilla/5.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, uaWantsArchiveRedirect(tt.ua), "ua=%s", tt.ua)
	}
}

func TestFormatResponses_EncodesToSJIS(t *testing.T) {
	responses := []models.Res{{
		Name: "", Date: "2023/11/14(Tue) 22:00:00.000", AuthorID: "abc",
		Body: "てすと", ThreadID: "1666666666", BoardID: 1,
	}}
	rendered := FormatResponses(responses, "題", "エッヂの名無し")
	encoded := codec.EncodeSJIS(rendered)
	assert.Equal(t, rendered, codec.DecodeSJIS(encoded))
}
