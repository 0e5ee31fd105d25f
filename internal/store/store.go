// Package store is the SQL persistence layer for the six tables spec §6
// names: permission nodes/grants, chat streams, and the long-term memory
// graph (nodes/edges/memories). Migrate creates all six tables; Store's
// query methods cover only the two permission tables. No code in this
// package reads or writes chat_streams, memory_nodes, memory_edges or
// long_term_memories, and internal/memory does not use the store.
//
// Grounded in internal/db/database.go's connection style: Config
// validation, sql.Open("postgres", ...) with the same pool tuning
// (25 max / 5 idle / 5m lifetime), and a Migrate() that runs a fixed list
// of CREATE TABLE IF NOT EXISTS statements — scoped here to only the six
// tables this spec needs, not the teacher's 80-plus-table SaaS schema.
package store

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

// Config is a Postgres connection configuration, validated the same way
// internal/db/database.go validates its own (host/IP shape, numeric
// port, alphanumeric user/dbname, a recognized sslmode).
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

var (
	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
	identRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
)

func validateConfig(cfg Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("store: database host cannot be empty")
	}
	if net.ParseIP(cfg.Host) == nil && !hostnameRegex.MatchString(cfg.Host) {
		return fmt.Errorf("store: invalid database host: %s", cfg.Host)
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("store: invalid database port: %s", cfg.Port)
	}
	if !identRegex.MatchString(cfg.User) {
		return fmt.Errorf("store: invalid database user: %s", cfg.User)
	}
	if !identRegex.MatchString(cfg.DBName) {
		return fmt.Errorf("store: invalid database name: %s", cfg.DBName)
	}
	if cfg.SSLMode != "" {
		ok := false
		for _, m := range validSSLModes {
			if cfg.SSLMode == m {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("store: invalid sslmode: %s (must be one of: %s)", cfg.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}
	return nil
}

// Store wraps a pooled *sql.DB against the six tables this spec needs.
type Store struct {
	db *sql.DB
}

// Open validates cfg, opens a pooled Postgres connection, and pings it.
func Open(cfg Config) (*Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenForTesting wraps an already-open *sql.DB (e.g. sqlmock), mirroring
// internal/db/database.go's NewDatabaseForTesting escape hatch.
func OpenForTesting(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB for callers that need raw access
// (migrations, transactions spanning multiple Store methods).
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates every table this spec needs, if not already present.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS permission_nodes (
			node_name VARCHAR(255) PRIMARY KEY,
			plugin VARCHAR(255) NOT NULL,
			description TEXT,
			default_grant BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS user_permissions (
			platform VARCHAR(64) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			node_name VARCHAR(255) NOT NULL REFERENCES permission_nodes(node_name) ON DELETE CASCADE,
			granted_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (platform, user_id, node_name)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_streams (
			id VARCHAR(512) PRIMARY KEY,
			platform VARCHAR(64) NOT NULL,
			peer_id VARCHAR(255) NOT NULL,
			is_group BOOLEAN NOT NULL DEFAULT FALSE,
			last_activity TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS memory_nodes (
			id VARCHAR(64) PRIMARY KEY,
			content TEXT NOT NULL,
			node_type VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS memory_edges (
			id VARCHAR(64) PRIMARY KEY,
			source_id VARCHAR(64) NOT NULL REFERENCES memory_nodes(id) ON DELETE CASCADE,
			target_id VARCHAR(64) NOT NULL,
			relation VARCHAR(128) NOT NULL,
			edge_type VARCHAR(32) NOT NULL,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0,
			discovered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS long_term_memories (
			id VARCHAR(64) PRIMARY KEY,
			subject_node_id VARCHAR(64),
			memory_type VARCHAR(32) NOT NULL,
			member_node_ids TEXT,
			member_edge_ids TEXT,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TIMESTAMPTZ,
			decay_factor DOUBLE PRECISION NOT NULL DEFAULT 0.95,
			consolidated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("store: migration %d failed: %w", i, err)
		}
	}
	return nil
}
