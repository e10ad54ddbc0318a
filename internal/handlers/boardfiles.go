// Package handlers implements the protocol endpoints of the edgebb API.
//
// This file serves the board flat files: subject.txt (the thread listing
// clients poll), SETTING.TXT (board policy constants) and head.txt (the
// local rule).
package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/models"
	"github.com/edgebb/edgebb/internal/routes"
)

// SubjectTxt lists every non-archived thread, most recently modified first.
func (h *Handlers) SubjectTxt(c *gin.Context, route routes.Route) {
	threads, err := h.cfg.Repo.GetThreads(c.Request.Context(), route.BoardID, models.ThreadUnarchived)
	if err != nil {
		c.String(http.StatusInternalServerError, "internal server error: select")
		return
	}

	sort.SliceStable(threads, func(i, j int) bool {
		a, _ := strconv.ParseInt(threads[i].LastModified, 10, 64)
		b, _ := strconv.ParseInt(threads[j].LastModified, 10, 64)
		return a > b
	})

	sjisPlainCached(c, http.StatusOK, FormatSubject(threads), 1)
}

// SettingTxt emits the board configuration blob. The policy constants are
// fixed; only the board identity fields vary.
func (h *Handlers) SettingTxt(c *gin.Context, route routes.Route) {
	board := h.cfg.Boards.ByID(route.BoardID)
	if board == nil {
		c.String(http.StatusInternalServerError, "internal server error - failed to load board info")
		return
	}

	body := fmt.Sprintf(`%[1]s@%[1]s
BBS_TITLE=%[2]s
BBS_TITLE_ORIG=%[2]s
BBS_NONAME_NAME=%[3]s
BBS_TITLE_COLOR=#000000
BBS_BG_COLOR=#FFFFFF
BBS_MAKETHREAD_COLOR=#CCFFCC
BBS_MENU_COLOR=#CCFFCC
BBS_THREAD_COLOR=#EFEFEF
BBS_TEXT_COLOR=#000000
BBS_NAME_COLOR=green
BBS_LINK_COLOR=#0000FF
BBS_ALINK_COLOR=#FF0000
BBS_VLINK_COLOR=#660099
BBS_THREAD_NUMBER=10
BBS_CONTENTS_NUMBER=10
BBS_LINE_NUMBER=32
BBS_MAX_MENU_THREAD=10
BBS_SUBJECT_COLOR=#FF0000
BBS_UNICODE=pass
BBS_NAMECOOKIE_CHECK=checked
BBS_MAILCOOKIE_CHECK=checked
BBS_SUBJECT_COUNT=96
BBS_NAME_COUNT=64
BBS_MAIL_COUNT=64
BBS_MESSAGE_COUNT=4096
BBS_THREAD_TATESUGI=8
BBS_PROXY_CHECK=
BBS_OVERSEA_PROXY=
BBS_RAWIP_CHECK=
BBS_SLIP=verbose
BBS_DISP_IP=
BBS_FORCE_ID=checked
BBS_BE_ID=
BBS_BE_TYPE2=
BBS_NO_ID=
BBS_JP_CHECK=
BBS_YMD_WEEKS=
EMOTICONS=checked
BBS_NOSUSU=checked
BBS_USE_VIPQ2=16
`, board.BoardKey, board.Title, board.DefaultName)

	sjisPlainCached(c, http.StatusOK, body, 86400)
}

// HeadTxt serves the board's local rule.
func (h *Handlers) HeadTxt(c *gin.Context, route routes.Route) {
	board, err := h.cfg.Repo.GetBoardInfo(c.Request.Context(), route.BoardID)
	if err != nil || board == nil {
		c.String(http.StatusInternalServerError, "internal server error - failed to find board")
		return
	}
	sjisPlain(c, http.StatusOK, board.LocalRule)
}
