// ABOUTME: SQLite-backed credential and audit store using modernc.org/sqlite.
// ABOUTME: Creates its schema on open; WAL mode for concurrent readers.

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists agents and audit entries in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			name       TEXT PRIMARY KEY,
			secret     TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_login DATETIME
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id         TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			action     TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_log(agent_name);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateAgent provisions a new agent and returns its generated shared
// secret. The secret is stored for challenge validation and never shown
// again through the API.
func (s *SQLiteStore) CreateAgent(ctx context.Context, name string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (name, secret, created_at) VALUES (?, ?, ?)`,
		name, secret, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateAgent
		}
		return "", fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Info("agent provisioned", "agent", name)
	return secret, nil
}

// DeleteAgent removes a provisioned agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns all provisioned agents ordered by name.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, created_at, last_login FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var lastLogin sql.NullTime
		if err := rows.Scan(&a.Name, &a.CreatedAt, &lastLogin); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		if lastLogin.Valid {
			a.LastLogin = &lastLogin.Time
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Secret returns the shared secret provisioned for name. Implements
// relay.SecretSource.
func (s *SQLiteStore) Secret(ctx context.Context, name string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx,
		`SELECT secret FROM agents WHERE name = ?`, name).Scan(&secret)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("looking up secret: %w", err)
	}
	return secret, nil
}

// TouchLogin records a successful login time for name.
func (s *SQLiteStore) TouchLogin(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_login = ? WHERE name = ?`, time.Now().UTC(), name)
	return err
}

// Append records an audit entry. Implements relay.AuditLog.
func (s *SQLiteStore) Append(ctx context.Context, agentName, action, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, agent_name, action, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), agentName, action, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_name, action, detail, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.AgentName, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
