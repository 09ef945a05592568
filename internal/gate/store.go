// Package gate tracks browsers that have entered a valid form password and
// throttles password guessing.
package gate

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("gate session not found")

type Session struct {
	ID        string
	Category  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store keeps gate sessions in a sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create gate db directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open gate db: %w", err)
	}
	// A single connection keeps :memory: databases shared and avoids
	// SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Init(ctx context.Context) error {
	statements := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS gate_sessions (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_gate_sessions_expires ON gate_sessions(expires_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize gate schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create opens a session valid for ttl. category is informational; a
// session unlocks every form.
func (s *Store) Create(ctx context.Context, category string, ttl time.Duration) (Session, error) {
	if ttl <= 0 {
		return Session{}, errors.New("gate session ttl must be positive")
	}
	id, err := randomToken(32)
	if err != nil {
		return Session{}, fmt.Errorf("generate gate token: %w", err)
	}
	now := s.now().UTC()
	sess := Session{
		ID:        id,
		Category:  strings.TrimSpace(category),
		CreatedAt: now.Truncate(time.Second),
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gate_sessions (id, category, created_at, expires_at) VALUES (?, ?, ?, ?);`,
		sess.ID, sess.Category, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert gate session: %w", err)
	}
	return sess, nil
}

// Lookup returns the live session for id. Expired sessions are removed and
// reported as ErrNotFound.
func (s *Store) Lookup(ctx context.Context, id string) (Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}, ErrNotFound
	}
	var (
		sess               Session
		created, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category, created_at, expires_at FROM gate_sessions WHERE id = ? LIMIT 1;`, id,
	).Scan(&sess.ID, &sess.Category, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup gate session: %w", err)
	}
	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if !s.now().UTC().Before(sess.ExpiresAt) {
		_ = s.Delete(ctx, id)
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM gate_sessions WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete gate session: %w", err)
	}
	return nil
}

// PurgeExpired removes every expired session and returns how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM gate_sessions WHERE expires_at <= ?;`, s.now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge gate sessions: %w", err)
	}
	return res.RowsAffected()
}

func randomToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
