// Package handlers implements the protocol endpoints of the edgebb API.
//
// This file is the .dat responder: live thread rendering with conditional
// GET and byte-range semantics, the archive fallback for vanished threads,
// and the kako path for explicitly archived DATs.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/archive"
	"github.com/edgebb/edgebb/internal/codec"
	"github.com/edgebb/edgebb/internal/logger"
	"github.com/edgebb/edgebb/internal/models"
	"github.com/edgebb/edgebb/internal/routes"
)

const migrationNotice = "<br><br> 【以下運営からのメッセージ】<br>あなたは将来的に廃止される旧ドメインを使用しています。 <br>新ドメイン https://bbs.eddibb.cc/liveedge/ に移行してください"

// archiveRedirectUAs are the clients that follow a redirect to the kako URL
// instead of needing the object inlined.
var archiveRedirectUAs = []string{"Siki", "twinkle", "Xeno", "mae2c"}

// uaWantsArchiveRedirect decides the archive fallback shape for a UA.
// 2chMate learned to follow kako redirects in 0.8.10.174.
func uaWantsArchiveRedirect(ua string) bool {
	for _, family := range archiveRedirectUAs {
		if strings.Contains(ua, family) {
			return true
		}
	}
	if idx := strings.Index(ua, "2chMate/"); idx >= 0 {
		return mateVersionAtLeast(ua[idx+len("2chMate/"):], [4]int{0, 8, 10, 174})
	}
	return false
}

func mateVersionAtLeast(version string, min [4]int) bool {
	version = strings.TrimSpace(version)
	if end := strings.IndexAny(version, " ;)"); end >= 0 {
		version = version[:end]
	}
	parts := strings.Split(version, ".")
	for i := 0; i < 4; i++ {
		got := 0
		if i < len(parts) {
			n, err := strconv.Atoi(parts[i])
			if err != nil {
				return false
			}
			got = n
		}
		if got != min[i] {
			return got > min[i]
		}
	}
	return true
}

// Dat serves a live thread as Shift_JIS DAT.
func (h *Handlers) Dat(c *gin.Context, route routes.Route) {
	board := h.cfg.Boards.ByID(route.BoardID)
	if board == nil {
		c.String(http.StatusInternalServerError, "internal server error - failed to load board info")
		return
	}

	thread, err := h.cfg.Repo.GetThread(c.Request.Context(), route.BoardID, route.ThreadID)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error - get thread")
		return
	}
	if thread == nil {
		h.datArchiveFallback(c, route)
		return
	}

	// Conditional GET: the header's wall time is compared against the epoch
	// as-is, with no JST offset.
	if ims := c.GetHeader("If-Modified-Since"); ims != "" {
		if imsUnix, ok := codec.ParseIfModifiedSince(ims); ok {
			lastModified, err := strconv.ParseInt(thread.LastModified, 10, 64)
			if err == nil && imsUnix >= lastModified {
				c.Header("Cache-Control", "s-maxage=1")
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	responses, err := h.cfg.Repo.GetResponses(c.Request.Context(), route.BoardID, route.ThreadID, thread.Modulo)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error - get responses")
		return
	}

	if strings.Contains(host(c), "workers.dev") && len(responses) > 0 {
		// Copy before touching: the slice may be shared with the read cache.
		responses = append([]models.Res(nil), responses...)
		responses[0].Body += migrationNotice
	}

	rendered := FormatResponses(responses, thread.Title, board.DefaultName)
	data := codec.EncodeSJIS(rendered)

	// Partial content for rangy clients; Mate and Xeno send Range headers
	// they do not mean, so they always get the full body.
	ua := c.Request.UserAgent()
	if rng := c.GetHeader("Range"); rng != "" && !strings.Contains(ua, "Mate") && !strings.Contains(ua, "Xeno") {
		if spec, hasEq := strings.CutPrefix(rng, "bytes="); hasEq {
			start, ok := parseRangeStart(spec)
			if !ok {
				c.String(http.StatusBadRequest, "Bad request")
				return
			}
			if start > len(data) {
				start = len(data)
			}
			c.Data(http.StatusPartialContent, "text/plain", data[start:])
			return
		}
		// A unit-less Range is ignored and the full body served.
	}

	maxAge := 1
	if thread.Active == 0 {
		maxAge = 3600
	}
	c.Header("Cache-Control", fmt.Sprintf("s-maxage=%d", maxAge))
	c.Data(http.StatusOK, "text/plain", data)
}

// parseRangeStart accepts the protocol's "START-" range spec.
func parseRangeStart(spec string) (int, bool) {
	startStr, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.Atoi(startStr)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

// datArchiveFallback answers a .dat request for a thread that is no longer
// live: redirect capable UAs to the kako URL, inline the object otherwise.
func (h *Handlers) datArchiveFallback(c *gin.Context, route routes.Route) {
	if h.cfg.Bucket == nil {
		c.String(http.StatusNotFound, "Not found - dat")
		return
	}

	if uaWantsArchiveRedirect(c.Request.UserAgent()) {
		location := fmt.Sprintf("/%s/kako/%s/%s/%s.dat",
			route.BoardKey, route.ThreadID[:4], route.ThreadID[:5], route.ThreadID)
		c.Redirect(http.StatusFound, location)
		return
	}

	body, err := h.cfg.Bucket.Get(c.Request.Context(), archive.DatKey(route.BoardKey, route.ThreadID))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			c.String(http.StatusNotFound, "Not found - dat")
			return
		}
		logger.Reader().Error().Err(err).Str("thread", route.ThreadID).Msg("archive fetch failed")
		c.String(http.StatusInternalServerError, "internal server error - dat bucket")
		return
	}
	c.Header("Cache-Control", "s-maxage=86400")
	c.Data(http.StatusOK, "text/plain", body)
}

// KakoDat serves an archived DAT object verbatim.
func (h *Handlers) KakoDat(c *gin.Context, route routes.Route) {
	if _, err := strconv.ParseUint(route.ThreadID, 10, 64); err != nil {
		c.String(http.StatusNotFound, "Not found - dat")
		return
	}
	if h.cfg.Bucket == nil {
		c.String(http.StatusInternalServerError, "internal server error - bucket")
		return
	}

	body, err := h.cfg.Bucket.Get(c.Request.Context(), archive.DatKey(route.BoardKey, route.ThreadID))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			c.String(http.StatusNotFound, "Not found - dat")
			return
		}
		logger.Reader().Error().Err(err).Str("thread", route.ThreadID).Msg("archive fetch failed")
		c.String(http.StatusInternalServerError, "internal server error - dat bucket")
		return
	}
	c.Header("Cache-Control", "s-maxage=86400")
	c.Data(http.StatusOK, "text/plain", body)
}
