// Package store persists the client's session state between invocations:
// the bearer token, the cached user record, and the current conversation
// pointer. It is pure storage; expiry and validity checks live elsewhere.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"todo-client/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// Storage keys. Kept identical to the web client's localStorage keys so the
// state file reads the same way.
const (
	keyToken        = "todo_app_auth_token"
	keyUser         = "currentUser"
	keyConversation = "conversationId"
)

// Store wraps a sqlite-backed key-value slot set.
type Store struct {
	conn *sql.DB
}

// Open opens the state database at path and runs migrations.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

// DefaultPath returns the state file path for a given backend base URL.
// State is scoped per backend the way browser storage is scoped per origin:
// two different servers never share a token.
func DefaultPath(serverURL string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".todo")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(strings.TrimRight(serverURL, "/")))
	return filepath.Join(dir, "state-"+hex.EncodeToString(sum[:6])+".db"), nil
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	return err
}

func (s *Store) get(key string) (string, bool, error) {
	var value string
	err := s.conn.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *Store) delete(key string) error {
	_, err := s.conn.Exec("DELETE FROM state WHERE key = ?", key)
	return err
}

// Token returns the stored bearer token, or "" when none is stored.
// Absence of a token means the client is unauthenticated.
func (s *Store) Token() (string, error) {
	value, _, err := s.get(keyToken)
	return value, err
}

// SetToken stores the bearer token, replacing any previous one.
func (s *Store) SetToken(token string) error {
	return s.set(keyToken, token)
}

// ClearToken removes the stored token.
func (s *Store) ClearToken() error {
	return s.delete(keyToken)
}

// User returns the cached user record, or nil when none is stored.
func (s *Store) User() (*models.User, error) {
	value, ok, err := s.get(keyUser)
	if err != nil || !ok {
		return nil, err
	}
	var u models.User
	if err := json.Unmarshal([]byte(value), &u); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}
	return &u, nil
}

// SetUser caches the user record alongside the token.
func (s *Store) SetUser(u *models.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.set(keyUser, string(data))
}

// ClearUser removes the cached user record.
func (s *Store) ClearUser() error {
	return s.delete(keyUser)
}

// ConversationID returns the persisted conversation pointer.
// ok is false when no conversation is active.
func (s *Store) ConversationID() (int64, bool, error) {
	value, ok, err := s.get(keyConversation)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode conversation id: %w", err)
	}
	return id, true, nil
}

// SetConversationID persists the conversation pointer.
func (s *Store) SetConversationID(id int64) error {
	return s.set(keyConversation, strconv.FormatInt(id, 10))
}

// ClearConversationID removes the conversation pointer.
func (s *Store) ClearConversationID() error {
	return s.delete(keyConversation)
}

// Reset clears the token and the cached user in one sweep. Used on logout
// and on forced logout; the conversation pointer survives on purpose.
func (s *Store) Reset() error {
	if err := s.ClearToken(); err != nil {
		return err
	}
	return s.ClearUser()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
