// Package handlers implements the protocol endpoints of the edgebb API.
//
// This file is the browser-facing auth surface: /auth activates a pending
// token carried in the challenge link, /auth-code activates by 6-digit code.
// Both verify Turnstile and reCAPTCHA in parallel and both providers must
// pass.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/codec"
	"github.com/edgebb/edgebb/internal/tinker"
)

// authCodeValiditySeconds bounds how old a pending row may be for the
// code-entry flow.
const authCodeValiditySeconds = 5 * 60

func htmlPage(c *gin.Context, status int, body string) {
	c.Data(status, "text/html; charset=utf-8", []byte(body))
}

func authFailed(c *gin.Context, reason string) {
	htmlPage(c, http.StatusBadRequest, fmt.Sprintf(authFailedHTML, reason))
}

// AuthGet serves the challenge page for a pending token from the query
// string (?token=...).
func (h *Handlers) AuthGet(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}
	htmlPage(c, http.StatusOK, fmt.Sprintf(authGettingHTML, h.cfg.SiteKey, token, h.cfg.RecaptchaSiteKey))
}

// AuthPost verifies the CAPTCHA answers and activates the submitted token
// when its origin IP matches the caller.
func (h *Handlers) AuthPost(c *gin.Context) {
	ip, _, ok := h.clientIP(c)
	if !ok {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}
	turnstileToken := c.PostForm("cf-turnstile-response")
	recaptchaToken := c.PostForm("g-recaptcha-response")
	if turnstileToken == "" {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}

	passed, err := h.cfg.Verifier.Verify(c.Request.Context(), ip, turnstileToken, recaptchaToken)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error - captcha verification")
		return
	}
	if !passed {
		authFailed(c, "Cloudflareの認証に失敗しました")
		return
	}

	token := c.PostForm("edge-token")
	if token == "" {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}
	cookie, err := h.cfg.Repo.GetAuthedToken(c.Request.Context(), token)
	if err != nil || cookie == nil {
		c.String(http.StatusInternalServerError, "internal server error: DB get authed token")
		return
	}
	if !codec.EqualIP(cookie.OriginIP, ip) {
		authFailed(c, fmt.Sprintf("IPが一致していません: %s <-> %s", cookie.OriginIP, ip))
		return
	}

	if err := h.cfg.Repo.UpdateAuthedStatus(c.Request.Context(), token, h.nowFn().Unix()); err != nil {
		c.String(http.StatusInternalServerError, "internal server error: DB update authed token")
		return
	}
	htmlPage(c, http.StatusOK, fmt.Sprintf(authSuccessfulHTML, token))
}

// AuthCodeGet serves the code-entry challenge page.
func (h *Handlers) AuthCodeGet(c *gin.Context) {
	htmlPage(c, http.StatusOK, fmt.Sprintf(authCodeGettingHTML, h.cfg.SiteKey, h.cfg.RecaptchaSiteKey))
}

// AuthCodePost verifies the CAPTCHA answers and activates the pending row
// matching (caller IP, auth code) when it is younger than five minutes. On
// success a fresh tinker token is attached when signing is configured.
func (h *Handlers) AuthCodePost(c *gin.Context) {
	ip, _, ok := h.clientIP(c)
	if !ok {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}
	turnstileToken := c.PostForm("cf-turnstile-response")
	recaptchaToken := c.PostForm("g-recaptcha-response")
	if turnstileToken == "" {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}

	passed, err := h.cfg.Verifier.Verify(c.Request.Context(), ip, turnstileToken, recaptchaToken)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error - captcha verification")
		return
	}
	if !passed {
		authFailed(c, "Cloudflareの認証に失敗しました")
		return
	}

	authCode := c.PostForm("auth-code")
	if authCode == "" {
		c.String(http.StatusBadRequest, "Bad request")
		return
	}

	cookie, err := h.cfg.Repo.GetAuthedTokenByOriginIPAndAuthCode(c.Request.Context(), ip, authCode)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error: DB")
		return
	}
	if cookie == nil {
		authFailed(c, "認証コード、もしくはIPアドレスが一致しません")
		return
	}

	now := h.nowFn()
	writedTime, err := strconv.ParseInt(cookie.WritedTime, 10, 64)
	if err != nil || now.Unix()-writedTime > authCodeValiditySeconds {
		authFailed(c, "認証コードの有効期限が切れています")
		return
	}

	if err := h.cfg.Repo.UpdateAuthedStatus(c.Request.Context(), cookie.Cookie, now.Unix()); err != nil {
		c.String(http.StatusInternalServerError, "internal server error: DB")
		return
	}

	if h.cfg.Signer != nil {
		if signed, err := h.cfg.Signer.Sign(tinker.New(cookie.Cookie), now); err == nil {
			c.SetCookie("tinker-token", signed, cookieMaxAge, "/", "", false, false)
		}
	}
	htmlPage(c, http.StatusOK, fmt.Sprintf(authSuccessfulHTML, cookie.Cookie))
}
