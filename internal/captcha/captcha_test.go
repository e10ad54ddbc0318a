package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyServer(t *testing.T, success bool, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.Form.Get("secret"))
		assert.NotEmpty(t, r.Form.Get("remoteip"))
		if success {
			w.Write([]byte(`{"success":true,"challenge_ts":"","hostname":""}`))
		} else {
			w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"],"challenge_ts":"","hostname":""}`))
		}
	}))
}

func TestVerify_BothSucceed(t *testing.T) {
	var tsHits, grHits int32
	ts := verifyServer(t, true, &tsHits)
	defer ts.Close()
	gr := verifyServer(t, true, &grHits)
	defer gr.Close()

	v := &Verifier{
		TurnstileSecret: "ts-secret",
		RecaptchaSecret: "gr-secret",
		TurnstileURL:    ts.URL,
		RecaptchaURL:    gr.URL,
		Client:          http.DefaultClient,
	}

	ok, err := v.Verify(context.Background(), "1.1.1.1", "tok-a", "tok-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tsHits), "both providers are consulted")
	assert.Equal(t, int32(1), atomic.LoadInt32(&grHits))
}

func TestVerify_OneProviderRejects(t *testing.T) {
	var tsHits, grHits int32
	ts := verifyServer(t, true, &tsHits)
	defer ts.Close()
	gr := verifyServer(t, false, &grHits)
	defer gr.Close()

	v := &Verifier{
		TurnstileSecret: "ts-secret",
		RecaptchaSecret: "gr-secret",
		TurnstileURL:    ts.URL,
		RecaptchaURL:    gr.URL,
		Client:          http.DefaultClient,
	}

	ok, err := v.Verify(context.Background(), "1.1.1.1", "tok-a", "tok-b")
	require.NoError(t, err)
	assert.False(t, ok, "both providers must succeed")
}

func TestVerify_TurnstileOnly(t *testing.T) {
	var tsHits int32
	ts := verifyServer(t, true, &tsHits)
	defer ts.Close()

	v := &Verifier{
		TurnstileSecret: "ts-secret",
		TurnstileURL:    ts.URL,
		Client:          http.DefaultClient,
	}

	ok, err := v.Verify(context.Background(), "1.1.1.1", "tok-a", "")
	require.NoError(t, err)
	assert.True(t, ok, "without a recaptcha secret only turnstile decides")
}

func TestVerify_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	v := &Verifier{
		TurnstileSecret: "ts-secret",
		TurnstileURL:    srv.URL,
		Client:          http.DefaultClient,
	}

	_, err := v.Verify(context.Background(), "1.1.1.1", "tok", "")
	assert.Error(t, err, "malformed provider output is an infrastructure error")
}

func TestVerify_Unreachable(t *testing.T) {
	v := &Verifier{
		TurnstileSecret: "ts-secret",
		TurnstileURL:    "http://127.0.0.1:1",
		Client:          http.DefaultClient,
	}

	_, err := v.Verify(context.Background(), "1.1.1.1", "tok", "")
	assert.Error(t, err)
}
