package tinker

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	s, err := NewSigner(secret)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestNewSigner_Disabled(t *testing.T) {
	s, err := NewSigner("")
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewSigner_BadBase64(t *testing.T) {
	_, err := NewSigner("%%%not-base64%%%")
	assert.Error(t, err)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	s := testSigner(t)
	now := time.Now()

	tk := New("cookie-1")
	tk.WroteCount = 7
	tk.Level = 3

	token, err := s.Sign(tk, now)
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "cookie-1", got.AuthedToken)
	assert.Equal(t, 7, got.WroteCount)
	assert.Equal(t, 3, got.Level)
}

func TestVerify_Tampered(t *testing.T) {
	s := testSigner(t)
	token, err := s.Sign(New("cookie-1"), time.Now())
	require.NoError(t, err)

	_, err = s.Verify(token + "x")
	assert.Error(t, err)
}

func TestVerify_WrongKey(t *testing.T) {
	s := testSigner(t)
	other, err := NewSigner(base64.StdEncoding.EncodeToString([]byte("another-key-another-key-another!")))
	require.NoError(t, err)

	token, err := s.Sign(New("cookie-1"), time.Now())
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	s := testSigner(t)
	now := time.Now()

	tk := New("cookie-1")
	tk.WroteCount = 5
	token, err := s.Sign(tk, now)
	require.NoError(t, err)

	// Matching cookie: state survives.
	got := s.Resolve(token, "cookie-1")
	assert.Equal(t, 5, got.WroteCount)

	// Token minted for another cookie: treated as absent.
	fresh := s.Resolve(token, "cookie-2")
	assert.Equal(t, 0, fresh.WroteCount)
	assert.Equal(t, "cookie-2", fresh.AuthedToken)

	// No token at all.
	fresh = s.Resolve("", "cookie-3")
	assert.Equal(t, "cookie-3", fresh.AuthedToken)
}

func TestRecordWrite_CountsAndLevel(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tk := New("c")
	tk.RecordWrite(now, true)
	assert.Equal(t, 1, tk.WroteCount)
	assert.Equal(t, 1, tk.CreatedThreadCount)
	assert.Equal(t, 1, tk.Level, "first write levels up from the zero state")
	assert.Equal(t, now.Unix(), tk.LastWroteAt)

	// A write within 23h bumps counts but not the level.
	tk.RecordWrite(now.Add(time.Hour), false)
	assert.Equal(t, 2, tk.WroteCount)
	assert.Equal(t, 1, tk.CreatedThreadCount)
	assert.Equal(t, 1, tk.Level)

	// A write past the 23h gap levels up.
	tk.RecordWrite(now.Add(24*time.Hour), false)
	assert.Equal(t, 2, tk.Level)
}

func TestRecordWrite_LevelCap(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tk := New("c")
	tk.Level = MaxLevel
	tk.LastLevelUpAt = 0

	tk.RecordWrite(now, false)
	assert.Equal(t, MaxLevel, tk.Level, "level never exceeds the cap")
}
