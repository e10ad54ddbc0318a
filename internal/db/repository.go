// Package db provides PostgreSQL access for the edgebb API.
//
// This file implements BbsRepository, the typed access layer over the
// metadata database (boards, threads, authed_cookies, caps) and the response
// shards. All protocol handlers go through this type; none of them touch SQL
// directly.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/edgebb/edgebb/internal/logger"
	"github.com/edgebb/edgebb/internal/models"
)

// ErrThreadAlreadyExists is returned by CreateThread when another thread with
// the same (board_id, thread_number) already exists, i.e. two threads were
// created in the same second.
var ErrThreadAlreadyExists = errors.New("thread already exists")

// BbsRepository is the durable store behind the board.
type BbsRepository struct {
	db       *Database
	resCache *resCache
}

// NewBbsRepository creates a repository over an open Database.
func NewBbsRepository(db *Database) *BbsRepository {
	return &BbsRepository{
		db:       db,
		resCache: newResCache(),
	}
}

// ShardCount exposes the number of response shards for modulo assignment.
func (r *BbsRepository) ShardCount() int {
	return r.db.ShardCount()
}

// GetBoardInfo returns a board by id, or nil when it does not exist.
func (r *BbsRepository) GetBoardInfo(ctx context.Context, boardID int) (*models.Board, error) {
	board := &models.Board{}
	query := `
		SELECT id, board_key, title, default_name, local_rule
		FROM boards
		WHERE id = $1
	`
	err := r.db.meta.QueryRowContext(ctx, query, boardID).Scan(
		&board.ID, &board.BoardKey, &board.Title, &board.DefaultName, &board.LocalRule,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board %d: %w", boardID, err)
	}
	return board, nil
}

// UpsertBoard writes startup board configuration into the boards table so
// head.txt and the web UI read the same source of truth as the config.
func (r *BbsRepository) UpsertBoard(ctx context.Context, board *models.Board) error {
	query := `
		INSERT INTO boards (id, board_key, title, default_name, local_rule)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			board_key = EXCLUDED.board_key,
			title = EXCLUDED.title,
			default_name = EXCLUDED.default_name,
			local_rule = EXCLUDED.local_rule
	`
	_, err := r.db.meta.ExecContext(ctx, query,
		board.ID, board.BoardKey, board.Title, board.DefaultName, board.LocalRule)
	if err != nil {
		return fmt.Errorf("failed to upsert board %s: %w", board.BoardKey, err)
	}
	return nil
}

const threadColumns = `thread_number, board_id, title, response_count, last_modified,
			active, archived, COALESCE(metadent, ''), modulo, COALESCE(authed_cookie, '')`

func scanThread(row interface{ Scan(...interface{}) error }) (*models.Thread, error) {
	thread := &models.Thread{}
	var metadent string
	err := row.Scan(
		&thread.ThreadNumber, &thread.BoardID, &thread.Title, &thread.ResponseCount,
		&thread.LastModified, &thread.Active, &thread.Archived, &metadent,
		&thread.Modulo, &thread.AuthedCookie,
	)
	if err != nil {
		return nil, err
	}
	thread.Metadent = models.ParseMetadentLevel(metadent)
	return thread, nil
}

// GetThread returns a thread by board and number, or nil when absent.
func (r *BbsRepository) GetThread(ctx context.Context, boardID int, threadID string) (*models.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE board_id = $1 AND thread_number = $2`
	thread, err := scanThread(r.db.meta.QueryRowContext(ctx, query, boardID, threadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}
	return thread, nil
}

// GetThreads returns a board's threads filtered by status.
func (r *BbsRepository) GetThreads(ctx context.Context, boardID int, status models.ThreadStatus) ([]models.Thread, error) {
	var where string
	switch status {
	case models.ThreadActive:
		where = "active = 1"
	case models.ThreadInactive:
		where = "active = 0 AND archived = 0"
	case models.ThreadArchived:
		where = "archived = 1"
	case models.ThreadUnarchived:
		where = "archived = 0"
	default:
		return nil, fmt.Errorf("unknown thread status %d", status)
	}

	query := `SELECT ` + threadColumns + ` FROM threads WHERE board_id = $1 AND ` + where
	rows, err := r.db.meta.QueryContext(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads for board %d: %w", boardID, err)
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		threads = append(threads, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thread rows: %w", err)
	}
	return threads, nil
}

const resColumns = `id, name, mail, date, author_id, body, thread_id, board_id,
			ip_addr, authed_token, timestamp, is_abone`

func scanRes(rows *sql.Rows) (models.Res, error) {
	var res models.Res
	err := rows.Scan(
		&res.ID, &res.Name, &res.Mail, &res.Date, &res.AuthorID, &res.Body,
		&res.ThreadID, &res.BoardID, &res.IPAddr, &res.AuthedToken,
		&res.Timestamp, &res.IsAbone,
	)
	return res, err
}

// GetResponses returns a thread's responses in insertion order, reading
// through the 1-second in-process cache. modulo selects the shard; an
// out-of-range value falls back to shard 0.
func (r *BbsRepository) GetResponses(ctx context.Context, boardID int, threadID string, modulo int) ([]models.Res, error) {
	key := resCacheKey(boardID, threadID, modulo)
	if cached, ok := r.resCache.get(key); ok {
		return cached, nil
	}

	query := `SELECT ` + resColumns + ` FROM responses WHERE board_id = $1 AND thread_id = $2 ORDER BY id`
	rows, err := r.db.Shard(modulo).QueryContext(ctx, query, boardID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get responses for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var responses []models.Res
	for rows.Next() {
		res, err := scanRes(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}

	r.resCache.put(key, responses)
	return responses, nil
}

// GetResponsesByAuthedTokenAndTimestamp scans every shard for responses a
// token wrote after minTimestamp. Used by the sliding-window write-rate
// check, which must see all boards regardless of shard placement.
func (r *BbsRepository) GetResponsesByAuthedTokenAndTimestamp(ctx context.Context, authedToken string, minTimestamp int64) ([]models.Res, error) {
	query := `SELECT ` + resColumns + ` FROM responses WHERE authed_token = $1 AND timestamp > $2`

	var responses []models.Res
	seen := map[*sql.DB]bool{}
	for i := 0; i < r.db.ShardCount(); i++ {
		shard := r.db.Shard(i)
		if seen[shard] {
			continue
		}
		seen[shard] = true

		rows, err := shard.QueryContext(ctx, query, authedToken, minTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shard %d for token responses: %w", i, err)
		}
		for rows.Next() {
			res, err := scanRes(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan response row: %w", err)
			}
			responses = append(responses, res)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate response rows: %w", err)
		}
		rows.Close()
	}
	return responses, nil
}

const authedCookieColumns = `id, cookie, origin_ip, authed, COALESCE(auth_code, ''),
			COALESCE(authed_time, ''), COALESCE(writed_time, ''),
			COALESCE(last_thread_creation, ''), COALESCE(last_wrote_time, '')`

func scanAuthedCookie(row interface{ Scan(...interface{}) error }) (*models.AuthedCookie, error) {
	cookie := &models.AuthedCookie{}
	err := row.Scan(
		&cookie.ID, &cookie.Cookie, &cookie.OriginIP, &cookie.Authed,
		&cookie.AuthCode, &cookie.AuthedTime, &cookie.WritedTime,
		&cookie.LastThreadCreation, &cookie.LastWroteTime,
	)
	if err != nil {
		return nil, err
	}
	return cookie, nil
}

// GetAuthedToken returns the cookie row for a token value, or nil.
func (r *BbsRepository) GetAuthedToken(ctx context.Context, cookie string) (*models.AuthedCookie, error) {
	query := `SELECT ` + authedCookieColumns + ` FROM authed_cookies WHERE cookie = $1`
	result, err := scanAuthedCookie(r.db.meta.QueryRowContext(ctx, query, cookie))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authed token: %w", err)
	}
	return result, nil
}

// GetAuthedTokenByOriginIPAndAuthCode resolves a pending row for the
// code-entry auth flow.
func (r *BbsRepository) GetAuthedTokenByOriginIPAndAuthCode(ctx context.Context, originIP, authCode string) (*models.AuthedCookie, error) {
	query := `SELECT ` + authedCookieColumns + ` FROM authed_cookies WHERE origin_ip = $1 AND auth_code = $2`
	result, err := scanAuthedCookie(r.db.meta.QueryRowContext(ctx, query, originIP, authCode))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authed token by ip and code: %w", err)
	}
	return result, nil
}

// CreatingThread carries the fields of a new thread and its first response.
type CreatingThread struct {
	Title       string
	UnixTime    int64
	Body        string
	Name        string
	Mail        string
	DateTime    string
	AuthorID    string
	AuthedToken string
	IPAddr      string
	BoardID     int
	Metadent    models.MetadentLevel
}

// CreateThread inserts the thread row and its first response. The thread
// number is the creation unix time; the shard is that time mod the shard
// count. Returns ErrThreadAlreadyExists on a (board_id, thread_number)
// uniqueness violation.
func (r *BbsRepository) CreateThread(ctx context.Context, thread CreatingThread) error {
	unixTime := fmt.Sprintf("%d", thread.UnixTime)
	modulo := int(thread.UnixTime % int64(r.db.ShardCount()))

	threadQuery := `
		INSERT INTO threads (
			thread_number, board_id, title, response_count, last_modified,
			active, archived, metadent, modulo, authed_cookie
		)
		VALUES ($1, $2, $3, 1, $4, 1, 0, $5, $6, $7)
	`
	_, err := r.db.meta.ExecContext(ctx, threadQuery,
		unixTime, thread.BoardID, thread.Title, unixTime,
		thread.Metadent.String(), modulo, thread.AuthedToken,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrThreadAlreadyExists
		}
		return fmt.Errorf("failed to insert thread: %w", err)
	}

	resQuery := `
		INSERT INTO responses (name, mail, date, author_id, body, thread_id, board_id, ip_addr, authed_token, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Shard(modulo).ExecContext(ctx, resQuery,
		thread.Name, thread.Mail, thread.DateTime, thread.AuthorID, thread.Body,
		unixTime, thread.BoardID, thread.IPAddr, thread.AuthedToken, thread.UnixTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert first response: %w", err)
	}
	return nil
}

// CreatingRes carries the fields of a reply.
type CreatingRes struct {
	UnixTime    int64
	Body        string
	Name        string
	Mail        string
	DateTime    string
	AuthorID    string
	AuthedToken string
	IPAddr      string
	ThreadID    string
	BoardID     int
}

// CreateResponse bumps the thread counter (tripping the stopper at 999 at
// update time) and inserts the response into the thread's shard. Both
// statements must succeed; the update runs first, so a failed insert leaves
// the counter over-counted until the sweep reconciles it.
func (r *BbsRepository) CreateResponse(ctx context.Context, res CreatingRes, modulo int) error {
	updateQuery := `
		UPDATE threads SET
			response_count = response_count + 1,
			last_modified = $1,
			active = (CASE WHEN response_count >= 999 THEN 0 ELSE 1 END)
		WHERE board_id = $2 AND thread_number = $3
	`
	if _, err := r.db.meta.ExecContext(ctx, updateQuery,
		fmt.Sprintf("%d", res.UnixTime), res.BoardID, res.ThreadID); err != nil {
		return fmt.Errorf("failed to update thread counter: %w", err)
	}

	resQuery := `
		INSERT INTO responses (name, mail, date, author_id, body, thread_id, board_id, ip_addr, authed_token, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := r.db.Shard(modulo).ExecContext(ctx, resQuery,
		res.Name, res.Mail, res.DateTime, res.AuthorID, res.Body,
		res.ThreadID, res.BoardID, res.IPAddr, res.AuthedToken, res.UnixTime); err != nil {
		// The counter update already landed, so the thread is over-counted
		// until the sweep reconciles it.
		logger.Repository().Error().Err(err).
			Str("thread", res.ThreadID).
			Int("board", res.BoardID).
			Msg("response insert failed after counter update")
		return fmt.Errorf("failed to insert response: %w", err)
	}
	return nil
}

// CreatingAuthedToken carries the fields of a pending cookie row.
type CreatingAuthedToken struct {
	Token      string
	OriginIP   string
	WritedTime int64
	AuthCode   string
}

// CreateAuthedToken persists a pending (authed=0) cookie row.
func (r *BbsRepository) CreateAuthedToken(ctx context.Context, token CreatingAuthedToken) error {
	query := `
		INSERT INTO authed_cookies (cookie, origin_ip, authed, auth_code, writed_time)
		VALUES ($1, $2, 0, $3, $4)
	`
	_, err := r.db.meta.ExecContext(ctx, query,
		token.Token, token.OriginIP, token.AuthCode, fmt.Sprintf("%d", token.WritedTime))
	if err != nil {
		return fmt.Errorf("failed to insert authed token: %w", err)
	}
	return nil
}

// UpdateAuthedStatus activates a cookie. authedTime is recorded as the
// last-known activation time.
func (r *BbsRepository) UpdateAuthedStatus(ctx context.Context, cookie string, authedTime int64) error {
	query := `UPDATE authed_cookies SET authed = 1, authed_time = $1 WHERE cookie = $2`
	if _, err := r.db.meta.ExecContext(ctx, query, fmt.Sprintf("%d", authedTime), cookie); err != nil {
		return fmt.Errorf("failed to update authed status: %w", err)
	}
	return nil
}

// UpdateAuthedTokenLastThreadCreation stamps a successful thread creation.
func (r *BbsRepository) UpdateAuthedTokenLastThreadCreation(ctx context.Context, cookie string, unixTime int64) error {
	query := `UPDATE authed_cookies SET last_thread_creation = $1 WHERE cookie = $2`
	if _, err := r.db.meta.ExecContext(ctx, query, fmt.Sprintf("%d", unixTime), cookie); err != nil {
		return fmt.Errorf("failed to update last thread creation: %w", err)
	}
	return nil
}

// UpdateAuthedTokenLastWroteTime stamps a successful write.
func (r *BbsRepository) UpdateAuthedTokenLastWroteTime(ctx context.Context, cookie string, unixTime int64) error {
	query := `UPDATE authed_cookies SET last_wrote_time = $1 WHERE cookie = $2`
	if _, err := r.db.meta.ExecContext(ctx, query, fmt.Sprintf("%d", unixTime), cookie); err != nil {
		return fmt.Errorf("failed to update last wrote time: %w", err)
	}
	return nil
}

// GetCapByPasswordHash resolves a moderator cap by the SHA-512 hex of the
// supplied password, or nil when no cap matches.
func (r *BbsRepository) GetCapByPasswordHash(ctx context.Context, hash string) (*models.Cap, error) {
	c := &models.Cap{}
	query := `SELECT id, cap_name, cap_password_hash FROM caps WHERE cap_password_hash = $1`
	err := r.db.meta.QueryRowContext(ctx, query, hash).Scan(&c.ID, &c.CapName, &c.CapPasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cap: %w", err)
	}
	return c, nil
}
