// Package handlers implements the protocol endpoints of the edgebb API.
//
// This file is the post ingest pipeline behind /test/bbs.cgi: form decode
// and validation, the rate gates, token resolution and the challenge flow,
// identity derivation (daily ID, tripcode, moderator cap, metadent), the
// tinker update, and the final repository commit.
//
// Protocol-level failures are answered as Shift_JIS HTML with HTTP 200 so
// the legacy client UIs can show the reason; only infrastructure failures
// produce non-2xx statuses.
package handlers

import (
	"crypto/md5"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/codec"
	"github.com/edgebb/edgebb/internal/db"
	"github.com/edgebb/edgebb/internal/logger"
	"github.com/edgebb/edgebb/internal/models"
	"github.com/edgebb/edgebb/internal/tinker"
)

const (
	// recentResSeconds is the lookback window of the hard span check.
	recentResSeconds = 40
	// maxRecentAuthPerIP caps challenge minting per IP per process lifetime.
	maxRecentAuthPerIP = 3
	// threadCreationCooldown spaces new threads per cookie.
	threadCreationCooldown = 120

	cookieMaxAge = 31536000
)

const (
	msgTooFast          = "5秒以内の連続投稿はできません"
	msgTooManyThreads   = "ちょっとスレ立てすぎ！"
	msgThreadExists     = "同じ時間に既にスレッドが立っています"
	msgThreadStopper    = "スレッドストッパーが働いたみたいなので書き込めません"
	msgNoSuchThread     = "そのようなスレは存在しません"
	msgNoSuchBoard      = "書き込もうとしている板が存在しません"
	msgAuthThrottled    = "発行ずみの認証トークンを使うか、時間を置いて再度アクセスして下さい"
	msgLegacyDomainGone = "旧ドメインからの新規認証は終了しました。<br>新ドメインの板 https://bbs.eddibb.cc/liveedge/ を新規に外部板登録してから書き込んでください。"
)

// bbsCgiForm is the decoded and sanitised write request.
type bbsCgiForm struct {
	subject  string // empty for replies
	name     string
	mail     string
	body     string
	boardKey string
	isThread bool
	threadID string // empty for new threads
	cap      string // raw cap/token segment of the mail field, post-sanitise
}

// validate enforces the protocol field limits. The returned string is the
// user-facing reason; empty means valid.
func (f *bbsCgiForm) validate() string {
	if f.isThread && len([]rune(f.subject)) > 96 {
		return "スレッドタイトルが長すぎます"
	}
	if len([]rune(f.name)) > 64 {
		return "名前が長すぎます"
	}
	if len([]rune(f.mail)) > 64 {
		return "メールアドレスが長すぎます"
	}
	body := []rune(f.body)
	if len(body) > 4096 {
		return "本文が長すぎます"
	}
	// The body is already sanitised here, so each newline is a <br>.
	if strings.Count(f.body, "<br>") > 32 {
		return "本文に改行が多すぎます"
	}
	return ""
}

// extractForm parses the Shift_JIS form body into a bbsCgiForm. Validation
// of limits happens separately; this only rejects structurally bad input.
func extractForm(body []byte) (*bbsCgiForm, error) {
	fields, err := codec.DecodeForm(body)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{"submit", "bbs", "FROM", "mail", "MESSAGE"} {
		if _, ok := fields[required]; !ok {
			return nil, fmt.Errorf("missing form field %q", required)
		}
	}

	form := &bbsCgiForm{boardKey: fields["bbs"]}

	switch fields["submit"] {
	case "書き込む":
		form.isThread = false
	case "新規スレッド作成":
		form.isThread = true
	default:
		return nil, fmt.Errorf("unknown submit value %q", fields["submit"])
	}

	if form.isThread {
		subject, ok := fields["subject"]
		if !ok {
			return nil, errors.New("missing form field \"subject\"")
		}
		form.subject = codec.SanitizeThreadTitle(subject)
	} else {
		threadID, ok := fields["key"]
		if !ok {
			return nil, errors.New("missing form field \"key\"")
		}
		form.threadID = threadID
	}

	// mail#cap: the segment after '#' is either an auth token (cap override)
	// or a moderator cap password; the pipeline decides which.
	mailSegments := strings.Split(fields["mail"], "#")
	form.mail = codec.Sanitize(mailSegments[0])
	if len(mailSegments) > 1 {
		form.cap = codec.Sanitize(strings.Join(mailSegments[1:], ""))
	}

	// name#trip: a trip segment replaces token hygiene with trip derivation.
	nameSegments := strings.Split(fields["FROM"], "#")
	if len(nameSegments) == 1 {
		name := codec.RemoveTokenLikeName(nameSegments[0])
		form.name = demoteDiamonds(codec.Sanitize(name))
	} else {
		tripSecret := demoteDiamonds(codec.Sanitize(strings.Join(nameSegments[1:], "")))
		trip := codec.Trip(tripSecret)
		form.name = fmt.Sprintf("%s◆%s", demoteDiamonds(codec.Sanitize(nameSegments[0])), trip)
	}

	form.body = codec.Sanitize(fields["MESSAGE"])
	return form, nil
}

// demoteDiamonds keeps user text from impersonating a real tripcode marker.
func demoteDiamonds(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "◆", "◇"), "&#9670;", "◇")
}

func generateSixDigitCode() string {
	r := rand.New(rand.NewSource(time.Now().UnixMilli()))
	return fmt.Sprintf("%06d", r.Intn(1000000))
}

func (h *Handlers) failPage(c *gin.Context, reason string) {
	sjisHTML(c, fmt.Sprintf(writingFailedHTML, reason))
}

// BbsCgi runs the write pipeline.
func (h *Handlers) BbsCgi(c *gin.Context) {
	log := logger.Ingest()

	ip, localDebug, ok := h.clientIP(c)
	if !ok {
		c.String(http.StatusInternalServerError, "internal server error - cf-connecting-ip")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "Bad request - read bytes")
		return
	}
	form, err := extractForm(body)
	if err != nil {
		c.String(http.StatusBadRequest, "Bad request - extract forms")
		return
	}
	if reason := form.validate(); reason != "" {
		h.failPage(c, reason)
		return
	}

	boardID, ok := h.cfg.Boards.Keys[form.boardKey]
	if !ok {
		h.failPage(c, msgNoSuchBoard)
		return
	}

	now := h.nowFn()
	unixTime := now.Unix()

	// Gate 1: too-fast writes by IP, before any backend work.
	if h.cfg.Limiter.MaybeRejectIP(ip, now) {
		h.failPage(c, msgTooFast)
		return
	}

	// Token resolution, row-first by the UA-sensitive precedence table.
	edgeToken, _ := c.Cookie("edge-token")
	tokenCandidate, isCap := resolveTokenSource(edgeToken, form.cap, c.Request.UserAgent())

	var cookie *models.AuthedCookie
	if tokenCandidate != "" {
		cookie, err = h.cfg.Repo.GetAuthedToken(c.Request.Context(), tokenCandidate)
		if err != nil {
			c.String(http.StatusInternalServerError, "internal server error - check auth")
			return
		}
		if cookie != nil && cookie.Authed != 1 {
			cookie = nil
		}
	}

	if cookie == nil {
		h.challenge(c, ip, localDebug, unixTime)
		return
	}

	// Gate 2: too-fast writes by cookie.
	if h.cfg.Limiter.MaybeRejectCookie(cookie.Cookie, now) {
		h.failPage(c, msgTooFast)
		return
	}

	// Gate 3 (feature-flagged): the hard cross-shard span check.
	if h.cfg.HardMinSpan {
		span, err := h.minRecentResSpan(c, cookie.Cookie, unixTime)
		if err != nil {
			c.String(http.StatusInternalServerError, "internal server error - auth min response span")
			return
		}
		if span < 5 {
			h.failPage(c, msgTooFast)
			return
		}
	}

	// Gate 4: thread creation cadence.
	if form.isThread && cookie.LastThreadCreation != "" {
		if last, err := strconv.ParseInt(cookie.LastThreadCreation, 10, 64); err == nil {
			if unixTime-last < threadCreationCooldown {
				h.failPage(c, msgTooManyThreads)
				return
			}
		}
	}

	// Identity: daily ID from the cookie's origin IP, cap override on a
	// matching moderator password.
	authorID := codec.AuthorID(cookie.OriginIP, now, boardID)
	displayName := form.name
	if form.cap != "" {
		hash := sha512.Sum512([]byte(form.cap))
		capInfo, err := h.cfg.Repo.GetCapByPasswordHash(c.Request.Context(), hex.EncodeToString(hash[:]))
		if err != nil {
			c.String(http.StatusInternalServerError, "internal server error - cap")
			return
		}
		if capInfo != nil {
			authorID = codec.CapAuthorID
			displayName = fmt.Sprintf("%s ★ %s", displayName, capInfo.CapName)
		}
	}

	// Tinker: load or mint, re-check the 5s spacing on the claim itself,
	// then record the write.
	var tk *tinker.Tinker
	if h.cfg.Signer != nil {
		tinkerToken, _ := c.Cookie("tinker-token")
		tk = h.cfg.Signer.Resolve(tinkerToken, cookie.Cookie)
		if tk.LastWroteAt > 0 && unixTime-tk.LastWroteAt <= 5 {
			h.failPage(c, msgTooFast)
			return
		}
		tk.RecordWrite(now, form.isThread)
	}

	// Metadent: a new thread may opt in via the body marker; replies follow
	// the thread's stored level.
	metadentLevel := models.MetadentNone
	commitBody := form.body
	if form.isThread {
		metadentLevel, commitBody = codec.ParseMetadentMarker(form.body)
	}

	if form.isThread {
		err = h.commitThread(c, form, commitBody, displayName, authorID, cookie, unixTime, now, metadentLevel, tk)
	} else {
		err = h.commitResponse(c, form, displayName, authorID, cookie, unixTime, now, tk)
	}
	if err != nil {
		// The commit wrote the HTTP response already.
		return
	}

	if err := h.cfg.Repo.UpdateAuthedTokenLastWroteTime(c.Request.Context(), cookie.Cookie, unixTime); err != nil {
		log.Warn().Err(err).Msg("failed to stamp last wrote time")
	}

	if isCap {
		c.SetCookie("edge-token", cookie.Cookie, cookieMaxAge, "/", "", false, false)
	}
	if tk != nil {
		signed, err := h.cfg.Signer.Sign(tk, now)
		if err != nil {
			c.String(http.StatusInternalServerError, "internal server error")
			return
		}
		c.SetCookie("tinker-token", signed, cookieMaxAge, "/", "", false, false)
	}

	sjisHTML(c, writingSuccessHTML)
}

// resolveTokenSource picks the token to authenticate with. Row-first:
// BathyScaphe posts its cap as the credential; a cookieless 2chMate is
// forced into the challenge flow even when a cap is present; otherwise the
// cookie wins and the cap is the fallback.
func resolveTokenSource(cookie, capValue, ua string) (token string, isCap bool) {
	switch {
	case strings.Contains(ua, "BathyScaphe") && capValue != "":
		return capValue, true
	case cookie == "" && strings.Contains(ua, "2chMate"):
		return "", false
	case cookie != "":
		return cookie, false
	case capValue != "":
		return capValue, true
	default:
		return "", false
	}
}

// challenge mints a pending token and answers with the auth page. Terminal
// for the request.
func (h *Handlers) challenge(c *gin.Context, ip string, localDebug bool, unixTime int64) {
	// Legacy-domain writers are told to migrate instead of being issued a
	// token that would bind to the dying origin.
	if strings.Contains(host(c), "workers.dev") {
		h.failPage(c, msgLegacyDomainGone)
		return
	}

	if h.cfg.Limiter.BumpRecentAuth(ip) >= maxRecentAuthPerIP {
		h.failPage(c, msgAuthThrottled)
		return
	}

	sum := md5.Sum([]byte(ip + strconv.FormatInt(unixTime, 10)))
	token := hex.EncodeToString(sum[:])
	authCode := h.codeFn()

	err := h.cfg.Repo.CreateAuthedToken(c.Request.Context(), db.CreatingAuthedToken{
		Token:      token,
		OriginIP:   ip,
		WritedTime: unixTime,
		AuthCode:   authCode,
	})
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error - %v", err)
		return
	}

	var page string
	switch {
	case localDebug:
		page = fmt.Sprintf(requestAuthLocalHTML, token)
	case uaContains(c, "Mate"):
		page = fmt.Sprintf(requestAuthMateHTML, host(c), token)
	default:
		page = fmt.Sprintf(requestAuthCodeHTML, host(c), authCode)
	}

	c.SetCookie("edge-token", token, cookieMaxAge, "/", "", false, false)
	sjisHTML(c, page)
}

// minRecentResSpan scans the cookie's writes in the last 40 seconds across
// all shards and returns the minimum consecutive gap with now included.
func (h *Handlers) minRecentResSpan(c *gin.Context, cookie string, unixTime int64) (int64, error) {
	responses, err := h.cfg.Repo.GetResponsesByAuthedTokenAndTimestamp(
		c.Request.Context(), cookie, unixTime-recentResSeconds)
	if err != nil {
		return 0, err
	}
	if len(responses) == 0 {
		return int64(^uint64(0) >> 1), nil
	}

	timestamps := make([]int64, 0, len(responses)+1)
	for _, r := range responses {
		timestamps = append(timestamps, r.Timestamp)
	}
	timestamps = append(timestamps, unixTime)
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	min := int64(^uint64(0) >> 1)
	for i := 1; i < len(timestamps); i++ {
		if gap := timestamps[i] - timestamps[i-1]; gap < min {
			min = gap
		}
	}
	return min, nil
}

// commitThread inserts a new thread. A non-nil return means the HTTP
// response has been written (success is signalled separately by nil).
func (h *Handlers) commitThread(c *gin.Context, form *bbsCgiForm, body, name, authorID string,
	cookie *models.AuthedCookie, unixTime int64, now time.Time,
	metadentLevel models.MetadentLevel, tk *tinker.Tinker) error {

	name = h.decorateMetadent(c, name, metadentLevel, tk, unixTime)

	err := h.cfg.Repo.CreateThread(c.Request.Context(), db.CreatingThread{
		Title:       form.subject,
		UnixTime:    unixTime,
		Body:        body,
		Name:        name,
		Mail:        form.mail,
		DateTime:    codec.PostDate(now),
		AuthorID:    authorID,
		AuthedToken: cookie.Cookie,
		IPAddr:      h.writerIP(c),
		BoardID:     h.cfg.Boards.Keys[form.boardKey],
		Metadent:    metadentLevel,
	})
	if err != nil {
		if errors.Is(err, db.ErrThreadAlreadyExists) {
			h.failPage(c, msgThreadExists)
			return err
		}
		c.String(http.StatusInternalServerError, "internal server error - %v", err)
		return err
	}

	if err := h.cfg.Repo.UpdateAuthedTokenLastThreadCreation(c.Request.Context(), cookie.Cookie, unixTime); err != nil {
		logger.Ingest().Warn().Err(err).Msg("failed to stamp last thread creation")
	}
	return nil
}

// commitResponse appends a reply to an existing, still-writable thread.
func (h *Handlers) commitResponse(c *gin.Context, form *bbsCgiForm, name, authorID string,
	cookie *models.AuthedCookie, unixTime int64, now time.Time, tk *tinker.Tinker) error {

	thread, err := h.cfg.Repo.GetThread(c.Request.Context(), h.cfg.Boards.Keys[form.boardKey], form.threadID)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error - get thread")
		return err
	}
	if thread == nil || thread.Archived == 1 {
		h.failPage(c, msgNoSuchThread)
		return errors.New("no such thread")
	}
	if thread.Active == 0 {
		h.failPage(c, msgThreadStopper)
		return errors.New("thread stopper")
	}

	name = h.decorateMetadent(c, name, thread.Metadent, tk, unixTime)

	err = h.cfg.Repo.CreateResponse(c.Request.Context(), db.CreatingRes{
		UnixTime:    unixTime,
		Body:        form.body,
		Name:        name,
		Mail:        form.mail,
		DateTime:    codec.PostDate(now),
		AuthorID:    authorID,
		AuthedToken: cookie.Cookie,
		IPAddr:      h.writerIP(c),
		ThreadID:    form.threadID,
		BoardID:     h.cfg.Boards.Keys[form.boardKey],
	}, thread.Modulo)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error - %v", err)
		return err
	}
	return nil
}

// decorateMetadent appends the fingerprint decoration for metadent threads.
func (h *Handlers) decorateMetadent(c *gin.Context, name string, level models.MetadentLevel,
	tk *tinker.Tinker, unixTime int64) string {
	if level == models.MetadentNone {
		return name
	}
	tinkerLevel := 0
	if tk != nil {
		tinkerLevel = tk.Level
	}
	ip, _, _ := h.clientIP(c)
	metaident := codec.Metaident(clientASN(c), ip, c.Request.UserAgent(), unixTime)
	return name + codec.MetadentSuffix(level, tinkerLevel, metaident)
}

func (h *Handlers) writerIP(c *gin.Context) string {
	ip, _, _ := h.clientIP(c)
	return ip
}
