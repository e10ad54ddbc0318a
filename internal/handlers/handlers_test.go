package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/codec"
	"github.com/edgebb/edgebb/internal/config"
	"github.com/edgebb/edgebb/internal/db"
	"github.com/edgebb/edgebb/internal/models"
	"github.com/edgebb/edgebb/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRepo is the in-memory Repository used by handler tests.
type fakeRepo struct {
	boards     map[int]*models.Board
	threads    map[string]*models.Thread // boardID:threadNumber
	responses  []models.Res
	cookies    map[string]*models.AuthedCookie
	capsByHash map[string]*models.Cap
	shardCount int

	createThreadErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		boards:     make(map[int]*models.Board),
		threads:    make(map[string]*models.Thread),
		cookies:    make(map[string]*models.AuthedCookie),
		capsByHash: make(map[string]*models.Cap),
		shardCount: 3,
	}
}

func threadKey(boardID int, threadNumber string) string {
	return fmt.Sprintf("%d:%s", boardID, threadNumber)
}

func (f *fakeRepo) GetBoardInfo(_ context.Context, boardID int) (*models.Board, error) {
	return f.boards[boardID], nil
}

func (f *fakeRepo) GetThread(_ context.Context, boardID int, threadID string) (*models.Thread, error) {
	return f.threads[threadKey(boardID, threadID)], nil
}

func (f *fakeRepo) GetThreads(_ context.Context, boardID int, status models.ThreadStatus) ([]models.Thread, error) {
	var out []models.Thread
	for _, t := range f.threads {
		if t.BoardID != boardID {
			continue
		}
		switch status {
		case models.ThreadActive:
			if t.Active != 1 {
				continue
			}
		case models.ThreadInactive:
			if t.Active != 0 || t.Archived != 0 {
				continue
			}
		case models.ThreadArchived:
			if t.Archived != 1 {
				continue
			}
		case models.ThreadUnarchived:
			if t.Archived != 0 {
				continue
			}
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadNumber < out[j].ThreadNumber })
	return out, nil
}

func (f *fakeRepo) GetResponses(_ context.Context, boardID int, threadID string, _ int) ([]models.Res, error) {
	var out []models.Res
	for _, r := range f.responses {
		if r.BoardID == boardID && r.ThreadID == threadID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetResponsesByAuthedTokenAndTimestamp(_ context.Context, authedToken string, minTimestamp int64) ([]models.Res, error) {
	var out []models.Res
	for _, r := range f.responses {
		if r.AuthedToken == authedToken && r.Timestamp > minTimestamp {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetAuthedToken(_ context.Context, cookie string) (*models.AuthedCookie, error) {
	return f.cookies[cookie], nil
}

func (f *fakeRepo) GetAuthedTokenByOriginIPAndAuthCode(_ context.Context, originIP, authCode string) (*models.AuthedCookie, error) {
	for _, c := range f.cookies {
		if c.OriginIP == originIP && c.AuthCode == authCode {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateThread(_ context.Context, thread db.CreatingThread) error {
	if f.createThreadErr != nil {
		return f.createThreadErr
	}
	number := strconv.FormatInt(thread.UnixTime, 10)
	key := threadKey(thread.BoardID, number)
	if _, exists := f.threads[key]; exists {
		return db.ErrThreadAlreadyExists
	}
	f.threads[key] = &models.Thread{
		ThreadNumber:  number,
		Title:         thread.Title,
		ResponseCount: 1,
		LastModified:  number,
		BoardID:       thread.BoardID,
		Metadent:      thread.Metadent,
		Active:        1,
		Modulo:        int(thread.UnixTime % int64(f.shardCount)),
		AuthedCookie:  thread.AuthedToken,
	}
	f.responses = append(f.responses, models.Res{
		Name: thread.Name, Mail: thread.Mail, Date: thread.DateTime,
		AuthorID: thread.AuthorID, Body: thread.Body, ThreadID: number,
		BoardID: thread.BoardID, IPAddr: thread.IPAddr,
		AuthedToken: thread.AuthedToken, Timestamp: thread.UnixTime,
	})
	return nil
}

func (f *fakeRepo) CreateResponse(_ context.Context, res db.CreatingRes, _ int) error {
	t := f.threads[threadKey(res.BoardID, res.ThreadID)]
	if t != nil {
		if t.ResponseCount >= 999 {
			t.Active = 0
		}
		t.ResponseCount++
		t.LastModified = strconv.FormatInt(res.UnixTime, 10)
	}
	f.responses = append(f.responses, models.Res{
		Name: res.Name, Mail: res.Mail, Date: res.DateTime,
		AuthorID: res.AuthorID, Body: res.Body, ThreadID: res.ThreadID,
		BoardID: res.BoardID, IPAddr: res.IPAddr,
		AuthedToken: res.AuthedToken, Timestamp: res.UnixTime,
	})
	return nil
}

func (f *fakeRepo) CreateAuthedToken(_ context.Context, token db.CreatingAuthedToken) error {
	f.cookies[token.Token] = &models.AuthedCookie{
		ID:         int64(len(f.cookies) + 1),
		Cookie:     token.Token,
		OriginIP:   token.OriginIP,
		Authed:     0,
		AuthCode:   token.AuthCode,
		WritedTime: strconv.FormatInt(token.WritedTime, 10),
	}
	return nil
}

func (f *fakeRepo) UpdateAuthedStatus(_ context.Context, cookie string, authedTime int64) error {
	if c := f.cookies[cookie]; c != nil {
		c.Authed = 1
		c.AuthedTime = strconv.FormatInt(authedTime, 10)
	}
	return nil
}

func (f *fakeRepo) UpdateAuthedTokenLastThreadCreation(_ context.Context, cookie string, unixTime int64) error {
	if c := f.cookies[cookie]; c != nil {
		c.LastThreadCreation = strconv.FormatInt(unixTime, 10)
	}
	return nil
}

func (f *fakeRepo) UpdateAuthedTokenLastWroteTime(_ context.Context, cookie string, unixTime int64) error {
	if c := f.cookies[cookie]; c != nil {
		c.LastWroteTime = strconv.FormatInt(unixTime, 10)
	}
	return nil
}

func (f *fakeRepo) GetCapByPasswordHash(_ context.Context, hash string) (*models.Cap, error) {
	return f.capsByHash[hash], nil
}

func (f *fakeRepo) ShardCount() int {
	return f.shardCount
}

// testBoards returns the standard single-board table.
func testBoards() *config.Boards {
	return &config.Boards{
		Keys: map[string]int{"liveedge": 1},
		List: []models.Board{{
			ID: 1, BoardKey: "liveedge", Title: "エッヂ",
			DefaultName: "エッヂの名無し", LocalRule: "仲良く使ってね",
		}},
	}
}

// testHandlers builds a handler set over the fake repo with a fixed clock
// and a fixed 6-digit code.
func testHandlers(repo *fakeRepo, now time.Time) *Handlers {
	h := New(Config{
		Repo:         repo,
		Boards:       testBoards(),
		Limiter:      ratelimit.NewLimiter(),
		WebUIEnabled: true,
		SiteTitle:    "edgebb",
	})
	h.nowFn = func() time.Time { return now }
	h.codeFn = func() string { return "123456" }
	return h
}

func testRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.NoRoute(h.Dispatch)
	return r
}

// sjisForm encodes fields as a Shift_JIS urlencoded body in a fixed order.
// Raw SJIS bytes ride unescaped; the decoder accepts both shapes.
func sjisForm(pairs [][2]string) []byte {
	var b []byte
	for i, kv := range pairs {
		if i > 0 {
			b = append(b, '&')
		}
		b = append(b, kv[0]...)
		b = append(b, '=')
		b = append(b, codec.EncodeSJIS(kv[1])...)
	}
	return b
}

func postBbsCgi(r *gin.Engine, body []byte, mod func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/test/bbs.cgi", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("CF-Connecting-IP", "1.1.1.1")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	if mod != nil {
		mod(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// sjisBody decodes a Shift_JIS response body for assertions.
func sjisBody(w *httptest.ResponseRecorder) string {
	return codec.DecodeSJIS(w.Body.Bytes())
}

// authedCookie seeds an activated cookie row.
func (f *fakeRepo) authedCookie(token, ip string) *models.AuthedCookie {
	c := &models.AuthedCookie{
		ID: int64(len(f.cookies) + 1), Cookie: token, OriginIP: ip, Authed: 1,
	}
	f.cookies[token] = c
	return c
}
