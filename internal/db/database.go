// Package db provides PostgreSQL access for the edgebb API.
//
// This file implements connection and lifecycle management for the metadata
// database and the response shard databases.
//
// Purpose:
// - Establish and maintain connection pools for the metadata DB and N shards
// - Initialize the schema on startup (boards, threads, authed_cookies, caps
//   on the metadata DB; responses on every shard)
// - Validate database configuration for security
//
// Topology:
//   - One metadata database owns boards, threads, authed_cookies and caps.
//   - N >= 1 shard databases each own a responses table. The shard for a
//     thread is its creation unix-second mod N, recorded on the thread row
//     as "modulo" so reads always land on the shard that holds the rows.
//
// Implementation Details:
// - Uses database/sql with the lib/pq PostgreSQL driver
// - Connection pools configured for steady request load (25 open, 5 idle)
// - Schema initialization runs CREATE TABLE IF NOT EXISTS on startup
// - Validates hostname, port, username, database names, SSL mode
//
// Thread Safety:
// - Connections are managed by database/sql pools, safe for concurrent use.
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database configuration. ShardDBNames lists the response shard
// databases in shard order; an empty list means one shard colocated with the
// metadata database.
type Config struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	ShardDBNames []string
}

// Database represents the metadata connection plus the shard connections.
type Database struct {
	meta   *sql.DB
	shards []*sql.DB
}

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateConfig validates database configuration to prevent SQL injection
// through connection-string fields.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	if !nameRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s (only alphanumeric, underscore, and hyphen allowed)", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if !nameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s (only alphanumeric, underscore, and hyphen allowed)", config.DBName)
	}
	for _, shard := range config.ShardDBNames {
		if !nameRegex.MatchString(shard) {
			return fmt.Errorf("invalid shard database name: %s", shard)
		}
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	if config.SSLMode == "" || config.SSLMode == "disable" {
		fmt.Println("WARNING: Database SSL/TLS is DISABLED - This is INSECURE for production!")
		fmt.Println("         Set DB_SSL_MODE to 'require', 'verify-ca', or 'verify-full'")
	}

	return nil
}

func open(config Config, dbName string) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, dbName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbName, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", dbName, err)
	}
	return db, nil
}

// NewDatabase connects the metadata database and every shard database.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	meta, err := open(config, config.DBName)
	if err != nil {
		return nil, err
	}

	shardNames := config.ShardDBNames
	if len(shardNames) == 0 {
		shardNames = []string{config.DBName}
	}
	shards := make([]*sql.DB, 0, len(shardNames))
	for _, name := range shardNames {
		if name == config.DBName {
			shards = append(shards, meta)
			continue
		}
		shard, err := open(config, name)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}

	return &Database{meta: meta, shards: shards}, nil
}

// NewDatabaseForTesting wires a Database from existing sql.DB handles. This
// constructor is intended ONLY FOR TESTING with mock databases (sqlmock).
func NewDatabaseForTesting(meta *sql.DB, shards ...*sql.DB) *Database {
	if len(shards) == 0 {
		shards = []*sql.DB{meta}
	}
	return &Database{meta: meta, shards: shards}
}

// Close closes the metadata and shard connections.
func (d *Database) Close() error {
	var firstErr error
	closed := map[*sql.DB]bool{}
	for _, db := range append([]*sql.DB{d.meta}, d.shards...) {
		if closed[db] {
			continue
		}
		closed[db] = true
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Meta returns the metadata database handle.
func (d *Database) Meta() *sql.DB {
	return d.meta
}

// Shards returns the shard handles in shard order.
func (d *Database) Shards() []*sql.DB {
	return d.shards
}

// ShardCount returns the number of response shards.
func (d *Database) ShardCount() int {
	return len(d.shards)
}

// Shard returns the shard for a modulo. An out-of-range modulo falls back to
// shard 0 rather than failing the request.
func (d *Database) Shard(modulo int) *sql.DB {
	if modulo < 0 || modulo >= len(d.shards) {
		return d.shards[0]
	}
	return d.shards[modulo]
}

// Migrate runs schema creation on the metadata database and every shard.
func (d *Database) Migrate() error {
	metaMigrations := []string{
		`CREATE TABLE IF NOT EXISTS boards (
			id INT PRIMARY KEY,
			board_key VARCHAR(64) UNIQUE NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			default_name TEXT NOT NULL DEFAULT '',
			local_rule TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS threads (
			thread_number VARCHAR(20) NOT NULL,
			board_id INT NOT NULL,
			title TEXT NOT NULL,
			response_count INT NOT NULL DEFAULT 1,
			last_modified VARCHAR(20) NOT NULL,
			active INT NOT NULL DEFAULT 1,
			archived INT NOT NULL DEFAULT 0,
			metadent VARCHAR(3) NOT NULL DEFAULT '',
			modulo INT NOT NULL DEFAULT 0,
			authed_cookie VARCHAR(64) NOT NULL DEFAULT '',
			PRIMARY KEY (board_id, thread_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_board_archived
			ON threads (board_id, archived)`,

		`CREATE TABLE IF NOT EXISTS authed_cookies (
			id BIGSERIAL PRIMARY KEY,
			cookie VARCHAR(64) UNIQUE NOT NULL,
			origin_ip VARCHAR(64) NOT NULL,
			authed INT NOT NULL DEFAULT 0,
			auth_code VARCHAR(6) NOT NULL DEFAULT '',
			authed_time VARCHAR(20) NOT NULL DEFAULT '',
			writed_time VARCHAR(20) NOT NULL DEFAULT '',
			last_thread_creation VARCHAR(20) NOT NULL DEFAULT '',
			last_wrote_time VARCHAR(20) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_authed_cookies_ip_code
			ON authed_cookies (origin_ip, auth_code)`,

		`CREATE TABLE IF NOT EXISTS caps (
			id BIGSERIAL PRIMARY KEY,
			cap_name TEXT NOT NULL,
			cap_password_hash VARCHAR(128) UNIQUE NOT NULL
		)`,
	}

	shardMigrations := []string{
		`CREATE TABLE IF NOT EXISTS responses (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			mail TEXT NOT NULL DEFAULT '',
			date VARCHAR(40) NOT NULL,
			author_id VARCHAR(10) NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			thread_id VARCHAR(20) NOT NULL,
			board_id INT NOT NULL,
			ip_addr VARCHAR(64) NOT NULL DEFAULT '',
			authed_token VARCHAR(64) NOT NULL DEFAULT '',
			timestamp BIGINT NOT NULL,
			is_abone INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_thread
			ON responses (board_id, thread_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_token_ts
			ON responses (authed_token, timestamp)`,
	}

	for _, migration := range metaMigrations {
		if _, err := d.meta.Exec(migration); err != nil {
			return fmt.Errorf("failed to run metadata migration: %w", err)
		}
	}
	done := map[*sql.DB]bool{}
	for _, shard := range d.shards {
		if done[shard] {
			continue
		}
		done[shard] = true
		for _, migration := range shardMigrations {
			if _, err := shard.Exec(migration); err != nil {
				return fmt.Errorf("failed to run shard migration: %w", err)
			}
		}
	}
	return nil
}
