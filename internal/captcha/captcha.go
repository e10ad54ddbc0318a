// Package captcha verifies browser challenges against Cloudflare Turnstile
// and Google reCAPTCHA.
//
// Both providers are consulted in parallel and both must report success for
// a verification to pass. A provider that is unreachable or answers with
// malformed JSON is an infrastructure error, not a failed challenge.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// TurnstileVerifyURL is Cloudflare's siteverify endpoint.
	TurnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	// RecaptchaVerifyURL is Google's siteverify endpoint.
	RecaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
)

// Verifier holds the provider secrets. Base URLs are fields so tests can
// point them at a local server.
type Verifier struct {
	TurnstileSecret string
	RecaptchaSecret string
	TurnstileURL    string
	RecaptchaURL    string
	Client          *http.Client
}

// NewVerifier creates a verifier against the real provider endpoints. The
// reCAPTCHA secret may be empty, in which case only Turnstile is consulted.
func NewVerifier(turnstileSecret, recaptchaSecret string) *Verifier {
	return &Verifier{
		TurnstileSecret: turnstileSecret,
		RecaptchaSecret: recaptchaSecret,
		TurnstileURL:    TurnstileVerifyURL,
		RecaptchaURL:    RecaptchaVerifyURL,
		Client:          http.DefaultClient,
	}
}

type turnstileResponse struct {
	Success     bool     `json:"success"`
	ErrorCodes  []string `json:"error-codes"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
}

type recaptchaResponse struct {
	Success     bool     `json:"success"`
	ErrorCodes  []string `json:"error-codes"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
}

// Verify checks both provider tokens for the calling IP. It returns true
// only when every configured provider reports success=true. Provider
// failures (network, non-JSON body) are returned as errors.
func (v *Verifier) Verify(ctx context.Context, ip, turnstileToken, recaptchaToken string) (bool, error) {
	var (
		tsOK, grOK = false, true
		g, gctx    = errgroup.WithContext(ctx)
	)

	g.Go(func() error {
		body, err := v.post(gctx, v.TurnstileURL, v.TurnstileSecret, turnstileToken, ip)
		if err != nil {
			return err
		}
		var resp turnstileResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("failed to parse turnstile response: %w", err)
		}
		tsOK = resp.Success
		return nil
	})

	if v.RecaptchaSecret != "" {
		grOK = false
		g.Go(func() error {
			body, err := v.post(gctx, v.RecaptchaURL, v.RecaptchaSecret, recaptchaToken, ip)
			if err != nil {
				return err
			}
			var resp recaptchaResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse recaptcha response: %w", err)
			}
			grOK = resp.Success
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}
	return tsOK && grOK, nil
}

func (v *Verifier) post(ctx context.Context, verifyURL, secret, token, ip string) ([]byte, error) {
	form := url.Values{}
	form.Set("secret", secret)
	form.Set("response", token)
	form.Set("remoteip", ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, verifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", verifyURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read siteverify response: %w", err)
	}
	return body, nil
}
