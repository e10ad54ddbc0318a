// Package handlers implements the protocol endpoints of the edgebb API: the
// bbs.cgi write pipeline, the .dat responder, the board flat files
// (subject.txt, SETTING.TXT, head.txt), the browser auth endpoints and the
// minimal web UI.
//
// Handlers dispatch through the pure route analyser rather than Gin's
// pattern router because the legacy URL surface (kako prefixes, read.cgi
// forms, 10-digit literals) is easier to state in one function than as
// wildcard patterns, and the protocol requires exact grammar.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/archive"
	"github.com/edgebb/edgebb/internal/captcha"
	"github.com/edgebb/edgebb/internal/codec"
	"github.com/edgebb/edgebb/internal/config"
	"github.com/edgebb/edgebb/internal/db"
	"github.com/edgebb/edgebb/internal/models"
	"github.com/edgebb/edgebb/internal/ratelimit"
	"github.com/edgebb/edgebb/internal/routes"
	"github.com/edgebb/edgebb/internal/tinker"
)

// Repository is the storage surface the handlers need. *db.BbsRepository
// implements it; tests substitute an in-memory store.
type Repository interface {
	GetBoardInfo(ctx context.Context, boardID int) (*models.Board, error)
	GetThread(ctx context.Context, boardID int, threadID string) (*models.Thread, error)
	GetThreads(ctx context.Context, boardID int, status models.ThreadStatus) ([]models.Thread, error)
	GetResponses(ctx context.Context, boardID int, threadID string, modulo int) ([]models.Res, error)
	GetResponsesByAuthedTokenAndTimestamp(ctx context.Context, authedToken string, minTimestamp int64) ([]models.Res, error)
	GetAuthedToken(ctx context.Context, cookie string) (*models.AuthedCookie, error)
	GetAuthedTokenByOriginIPAndAuthCode(ctx context.Context, originIP, authCode string) (*models.AuthedCookie, error)
	CreateThread(ctx context.Context, thread db.CreatingThread) error
	CreateResponse(ctx context.Context, res db.CreatingRes, modulo int) error
	CreateAuthedToken(ctx context.Context, token db.CreatingAuthedToken) error
	UpdateAuthedStatus(ctx context.Context, cookie string, authedTime int64) error
	UpdateAuthedTokenLastThreadCreation(ctx context.Context, cookie string, unixTime int64) error
	UpdateAuthedTokenLastWroteTime(ctx context.Context, cookie string, unixTime int64) error
	GetCapByPasswordHash(ctx context.Context, hash string) (*models.Cap, error)
	ShardCount() int
}

// Config carries the handler wiring.
type Config struct {
	Repo             Repository
	Boards           *config.Boards
	Limiter          *ratelimit.Limiter
	Signer           *tinker.Signer    // nil disables the tinker flow
	Verifier         *captcha.Verifier // CAPTCHA oracle
	Bucket           *archive.Bucket   // nil means no archive configured
	SiteKey          string            // Turnstile site key
	RecaptchaSiteKey string
	DebugIP          string // substitutes the client IP in local mode
	HardMinSpan      bool   // HARD_MIN_RECENT_RES_SPAN_CAP
	WebUIEnabled     bool
	SiteTitle        string
}

// Handlers serves the whole protocol surface.
type Handlers struct {
	cfg Config

	// injectable clocks/codes for tests
	nowFn  func() time.Time
	codeFn func() string
}

// New creates the handler set.
func New(cfg Config) *Handlers {
	return &Handlers{
		cfg:    cfg,
		nowFn:  time.Now,
		codeFn: generateSixDigitCode,
	}
}

// Dispatch analyses the path and fans out. Wired as Gin's only route.
func (h *Handlers) Dispatch(c *gin.Context) {
	route := routes.AnalyzeRoute(c.Request.URL.Path, h.cfg.Boards.Keys)

	switch route.Kind {
	case routes.KindIndex:
		h.Index(c)
	case routes.KindAuth:
		switch c.Request.Method {
		case http.MethodGet:
			h.AuthGet(c)
		case http.MethodPost:
			h.AuthPost(c)
		default:
			c.String(http.StatusBadRequest, "Bad request")
		}
	case routes.KindAuthCode:
		switch c.Request.Method {
		case http.MethodGet:
			h.AuthCodeGet(c)
		case http.MethodPost:
			h.AuthCodePost(c)
		default:
			c.String(http.StatusBadRequest, "Bad request")
		}
	case routes.KindBbsCgi:
		if c.Request.Method != http.MethodPost {
			c.String(http.StatusBadRequest, "Bad request")
			return
		}
		h.BbsCgi(c)
	case routes.KindDat:
		h.Dat(c, route)
	case routes.KindKakoDat:
		h.KakoDat(c, route)
	case routes.KindSettingTxt:
		h.SettingTxt(c, route)
	case routes.KindSubjectTxt:
		h.SubjectTxt(c, route)
	case routes.KindHeadTxt:
		h.HeadTxt(c, route)
	case routes.KindBoardIndex:
		h.BoardIndex(c, route)
	case routes.KindThreadWebUI:
		h.ThreadWebUI(c, route)
	default:
		c.String(http.StatusNotFound, "Not found - other route %s", c.Request.URL.Path)
	}
}

// clientIP resolves the writer's address: the edge-provided header in
// production, DEBUG_IP in local mode. The second return is true in local
// mode, which switches the challenge page variant.
func (h *Handlers) clientIP(c *gin.Context) (string, bool, bool) {
	if ip := c.GetHeader("CF-Connecting-IP"); ip != "" {
		return ip, false, true
	}
	if h.cfg.DebugIP != "" {
		return h.cfg.DebugIP, true, true
	}
	return "", false, false
}

// clientASN reads the AS number forwarded by the edge, 0 when absent.
func clientASN(c *gin.Context) uint32 {
	raw := c.GetHeader("CF-ASN")
	if raw == "" {
		return 0
	}
	asn, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(asn)
}

// sjisPlain writes a Shift_JIS text/plain response. The charset marker is
// omitted on purpose: clients rely on path convention.
func sjisPlain(c *gin.Context, status int, body string) {
	c.Data(status, "text/plain", codec.EncodeSJIS(body))
}

// sjisPlainCached is sjisPlain plus an edge cache lifetime.
func sjisPlainCached(c *gin.Context, status int, body string, sMaxAge int) {
	c.Header("Cache-Control", "s-maxage="+strconv.Itoa(sMaxAge))
	sjisPlain(c, status, body)
}

// sjisHTML writes a Shift_JIS HTML page the legacy clients can parse.
func sjisHTML(c *gin.Context, body string) {
	c.Data(http.StatusOK, "text/html; charset=x-sjis", codec.EncodeSJIS(body))
}

// host returns the request host for the workers.dev gates.
func host(c *gin.Context) string {
	if c.Request.Host != "" {
		return c.Request.Host
	}
	return c.GetHeader("Host")
}

// uaContains matches a client family in the User-Agent.
func uaContains(c *gin.Context, needle string) bool {
	return strings.Contains(c.Request.UserAgent(), needle)
}
