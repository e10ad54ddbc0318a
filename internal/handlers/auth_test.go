package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebb/edgebb/internal/captcha"
	"github.com/edgebb/edgebb/internal/db"
	"github.com/edgebb/edgebb/internal/models"
)

// captchaOracle returns a Verifier whose providers always answer success.
func captchaOracle(t *testing.T) (*captcha.Verifier, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"challenge_ts":"","hostname":""}`))
	}))
	v := &captcha.Verifier{
		TurnstileSecret: "ts",
		RecaptchaSecret: "gr",
		TurnstileURL:    srv.URL,
		RecaptchaURL:    srv.URL,
		Client:          http.DefaultClient,
	}
	return v, srv.Close
}

func postForm(r http.Handler, path string, form url.Values, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("CF-Connecting-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthCode_ActivatesPendingRow(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.CreateAuthedToken(nil, db.CreatingAuthedToken{
		Token: "deadbeefdeadbeefdeadbeefdeadbeef", OriginIP: "1.1.1.1",
		WritedTime: 1666666600, AuthCode: "123456",
	}))

	verifier, done := captchaOracle(t)
	defer done()

	h := testHandlers(repo, time.Unix(1666666700, 0)) // 100s later, within 5min
	h.cfg.Verifier = verifier
	r := testRouter(h)

	w := postForm(r, "/auth-code", url.Values{
		"cf-turnstile-response": {"ok"},
		"g-recaptcha-response":  {"ok"},
		"auth-code":             {"123456"},
	}, "1.1.1.1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "認証しました")
	assert.Equal(t, 1, repo.cookies["deadbeefdeadbeefdeadbeefdeadbeef"].Authed)
}

func TestAuthCode_ExpiredCode(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.CreateAuthedToken(nil, db.CreatingAuthedToken{
		Token: "deadbeefdeadbeefdeadbeefdeadbeef", OriginIP: "1.1.1.1",
		WritedTime: 1666666000, AuthCode: "123456",
	}))

	verifier, done := captchaOracle(t)
	defer done()

	h := testHandlers(repo, time.Unix(1666666400, 0)) // 400s later, past 5min
	h.cfg.Verifier = verifier
	r := testRouter(h)

	w := postForm(r, "/auth-code", url.Values{
		"cf-turnstile-response": {"ok"},
		"g-recaptcha-response":  {"ok"},
		"auth-code":             {"123456"},
	}, "1.1.1.1")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "認証コードの有効期限が切れています")
	assert.Equal(t, 0, repo.cookies["deadbeefdeadbeefdeadbeefdeadbeef"].Authed)
}

func TestAuthCode_WrongIPOrCode(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.CreateAuthedToken(nil, db.CreatingAuthedToken{
		Token: "deadbeefdeadbeefdeadbeefdeadbeef", OriginIP: "1.1.1.1",
		WritedTime: 1666666600, AuthCode: "123456",
	}))

	verifier, done := captchaOracle(t)
	defer done()

	h := testHandlers(repo, time.Unix(1666666700, 0))
	h.cfg.Verifier = verifier
	r := testRouter(h)

	w := postForm(r, "/auth-code", url.Values{
		"cf-turnstile-response": {"ok"},
		"g-recaptcha-response":  {"ok"},
		"auth-code":             {"123456"},
	}, "2.2.2.2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "認証コード、もしくはIPアドレスが一致しません")
}

func TestAuthCode_CaptchaRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error-codes":["bad"],"challenge_ts":"","hostname":""}`))
	}))
	defer srv.Close()

	repo := newFakeRepo()
	h := testHandlers(repo, time.Unix(1666666700, 0))
	h.cfg.Verifier = &captcha.Verifier{
		TurnstileSecret: "ts", TurnstileURL: srv.URL, Client: http.DefaultClient,
	}
	r := testRouter(h)

	w := postForm(r, "/auth-code", url.Values{
		"cf-turnstile-response": {"bad"},
		"g-recaptcha-response":  {"bad"},
		"auth-code":             {"123456"},
	}, "1.1.1.1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "認証に失敗しました")
}

func TestAuth_ActivatesByToken(t *testing.T) {
	repo := newFakeRepo()
	repo.cookies["deadbeefdeadbeefdeadbeefdeadbeef"] = &models.AuthedCookie{
		Cookie: "deadbeefdeadbeefdeadbeefdeadbeef", OriginIP: "2001:db8:1:2::1",
		WritedTime: "1666666600",
	}

	verifier, done := captchaOracle(t)
	defer done()

	h := testHandlers(repo, time.Unix(1666666700, 0))
	h.cfg.Verifier = verifier
	r := testRouter(h)

	// IPv6 match is by the first four groups; interface bits may move.
	w := postForm(r, "/auth", url.Values{
		"cf-turnstile-response": {"ok"},
		"g-recaptcha-response":  {"ok"},
		"edge-token":            {"deadbeefdeadbeefdeadbeefdeadbeef"},
	}, "2001:db8:1:2:ffff::9")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, repo.cookies["deadbeefdeadbeefdeadbeefdeadbeef"].Authed)
}

func TestAuth_IPMismatch(t *testing.T) {
	repo := newFakeRepo()
	repo.cookies["deadbeefdeadbeefdeadbeefdeadbeef"] = &models.AuthedCookie{
		Cookie: "deadbeefdeadbeefdeadbeefdeadbeef", OriginIP: "1.1.1.1",
		WritedTime: "1666666600",
	}

	verifier, done := captchaOracle(t)
	defer done()

	h := testHandlers(repo, time.Unix(1666666700, 0))
	h.cfg.Verifier = verifier
	r := testRouter(h)

	w := postForm(r, "/auth", url.Values{
		"cf-turnstile-response": {"ok"},
		"g-recaptcha-response":  {"ok"},
		"edge-token":            {"deadbeefdeadbeefdeadbeefdeadbeef"},
	}, "3.3.3.3")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "IPが一致していません")
	assert.Equal(t, 0, repo.cookies["deadbeefdeadbeefdeadbeefdeadbeef"].Authed)
}

func TestAuthGet_ServesChallengePage(t *testing.T) {
	repo := newFakeRepo()
	h := testHandlers(repo, time.Unix(1666666700, 0))
	h.cfg.SiteKey = "site-key-1"
	h.cfg.RecaptchaSiteKey = "rc-key-1"
	r := testRouter(h)

	w := get(r, "/auth?token=deadbeef")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "site-key-1")
	assert.Contains(t, w.Body.String(), "deadbeef")

	w = get(r, "/auth-code")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "site-key-1")
	assert.Contains(t, w.Body.String(), "rc-key-1")
}
