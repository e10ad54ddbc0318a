// Package handlers implements the protocol endpoints of the edgebb API.
//
// This file is the minimal human-facing web UI. The protocol lives in the
// flat files; these pages exist so every route variant resolves somewhere
// and a browser visitor is not met with a 404. WEBUI=false swaps all of
// them for the disabled notice.
package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/models"
	"github.com/edgebb/edgebb/internal/routes"
)

func (h *Handlers) webuiDisabled(c *gin.Context) {
	htmlPage(c, http.StatusOK, fmt.Sprintf(webuiDisabledHTML, h.cfg.SiteTitle))
}

// Index lists the configured boards.
func (h *Handlers) Index(c *gin.Context) {
	if !h.cfg.WebUIEnabled {
		h.webuiDisabled(c)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>%s</title></head><body>", h.cfg.SiteTitle)
	fmt.Fprintf(&b, "<h1>%s</h1><ul>", h.cfg.SiteTitle)
	for _, board := range h.cfg.Boards.List {
		fmt.Fprintf(&b, `<li><a href="/%s/">%s</a></li>`, board.BoardKey, board.Title)
	}
	b.WriteString("</ul></body></html>")
	htmlPage(c, http.StatusOK, b.String())
}

// BoardIndex lists a board's live threads.
func (h *Handlers) BoardIndex(c *gin.Context, route routes.Route) {
	if !h.cfg.WebUIEnabled {
		h.webuiDisabled(c)
		return
	}

	board := h.cfg.Boards.ByID(route.BoardID)
	if board == nil {
		c.String(http.StatusInternalServerError, "internal server error - failed to load board info")
		return
	}
	threads, err := h.cfg.Repo.GetThreads(c.Request.Context(), route.BoardID, models.ThreadUnarchived)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}
	sort.SliceStable(threads, func(i, j int) bool {
		a, _ := strconv.ParseInt(threads[i].LastModified, 10, 64)
		b, _ := strconv.ParseInt(threads[j].LastModified, 10, 64)
		return a > b
	})

	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>%s</title></head><body>", board.Title)
	fmt.Fprintf(&b, "<h1>%s</h1><ul>", board.Title)
	for _, t := range threads {
		fmt.Fprintf(&b, `<li><a href="/%s/%s">%s</a> (%d)</li>`,
			board.BoardKey, t.ThreadNumber, strings.ReplaceAll(t.Title, "\n", ""), t.ResponseCount)
	}
	b.WriteString("</ul></body></html>")
	htmlPage(c, http.StatusOK, b.String())
}

// ThreadWebUI shows one thread as plain HTML.
func (h *Handlers) ThreadWebUI(c *gin.Context, route routes.Route) {
	if !h.cfg.WebUIEnabled {
		h.webuiDisabled(c)
		return
	}

	if _, err := strconv.ParseUint(route.ThreadID, 10, 64); err != nil {
		c.String(http.StatusNotFound, "Not found")
		return
	}
	board := h.cfg.Boards.ByID(route.BoardID)
	if board == nil {
		c.String(http.StatusInternalServerError, "internal server error - failed to load board info")
		return
	}
	thread, err := h.cfg.Repo.GetThread(c.Request.Context(), route.BoardID, route.ThreadID)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}
	if thread == nil {
		c.String(http.StatusNotFound, "Not found")
		return
	}
	responses, err := h.cfg.Repo.GetResponses(c.Request.Context(), route.BoardID, route.ThreadID, thread.Modulo)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>%s</title></head><body>", thread.Title)
	fmt.Fprintf(&b, "<h1>%s</h1><dl>", thread.Title)
	for i, r := range responses {
		name := r.Name
		if name == "" {
			name = board.DefaultName
		}
		fmt.Fprintf(&b, "<dt>%d：<b>%s</b>：%s ID:%s</dt><dd>%s</dd>",
			i+1, name, r.Date, r.AuthorID, r.Body)
	}
	b.WriteString("</dl></body></html>")
	htmlPage(c, http.StatusOK, b.String())
}
