// internal/localstore/store.go
// Package localstore implements the on-disk cache backing StyleVault's
// offline-first storage. Every read and write lands here first; the sync
// coordinator decides what flows onward to the remote store.
//
// The store never propagates failures to its callers. A failed write
// reports false, a failed read reports the zero value, and the error is
// logged at the boundary. Callers are expected to keep working with
// whatever the cache could give them.
package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stylevault/stylevault-go/internal/model"
)

// Store is a SQLite-backed key-value cache partitioned by user.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the cache database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}
	// The cache is a single table on purpose. Entities are stored as the
	// exact JSON the application works with, so a cache hit requires no
	// joins and a schema change in an entity requires no migration here.
	const schema = `CREATE TABLE IF NOT EXISTS cache (
		user_id    TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, key)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetItem stores value under key for the given user, replacing any prior
// value. It reports whether the write succeeded.
func (s *Store) SetItem(userID string, key model.EntityKey, value string) bool {
	_, err := s.db.Exec(
		`INSERT INTO cache (user_id, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		userID, string(key), value,
	)
	if err != nil {
		s.logger.Error("cache write failed", "key", key, "error", err)
		return false
	}
	return true
}

// GetItem returns the value stored under key for the given user. The
// second result is false when the key is absent or the read failed.
func (s *Store) GetItem(userID string, key model.EntityKey) (string, bool) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM cache WHERE user_id = ? AND key = ?`,
		userID, string(key),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.logger.Error("cache read failed", "key", key, "error", err)
		return "", false
	}
	return value, true
}

// RemoveItem deletes the value stored under key for the given user.
// Removing an absent key succeeds.
func (s *Store) RemoveItem(userID string, key model.EntityKey) bool {
	_, err := s.db.Exec(
		`DELETE FROM cache WHERE user_id = ? AND key = ?`,
		userID, string(key),
	)
	if err != nil {
		s.logger.Error("cache delete failed", "key", key, "error", err)
		return false
	}
	return true
}

// Clear removes every cached entity for the given user.
func (s *Store) Clear(userID string) bool {
	_, err := s.db.Exec(`DELETE FROM cache WHERE user_id = ?`, userID)
	if err != nil {
		s.logger.Error("cache clear failed", "error", err)
		return false
	}
	return true
}

// SetJSON marshals v and stores it under key. It reports whether both the
// marshal and the write succeeded.
func (s *Store) SetJSON(userID string, key model.EntityKey, v interface{}) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("cache marshal failed", "key", key, "error", err)
		return false
	}
	return s.SetItem(userID, key, string(raw))
}

// GetJSON reads the value under key and unmarshals it into v. The result
// is false when the key is absent, unreadable, or not valid JSON for v.
func (s *Store) GetJSON(userID string, key model.EntityKey, v interface{}) bool {
	raw, ok := s.GetItem(userID, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return false
	}
	return true
}

// Profile returns the cached user profile, or an empty profile when none
// is cached.
func (s *Store) Profile(userID string) (model.UserProfile, bool) {
	var p model.UserProfile
	if !s.GetJSON(userID, model.KeyUserProfile, &p) {
		return model.UserProfile{}, false
	}
	return p, true
}

// SetProfile caches the user profile.
func (s *Store) SetProfile(userID string, p model.UserProfile) bool {
	return s.SetJSON(userID, model.KeyUserProfile, p)
}

// Wardrobe returns the cached wardrobe, or an empty slice when none is
// cached.
func (s *Store) Wardrobe(userID string) ([]model.WardrobeItem, bool) {
	var items []model.WardrobeItem
	if !s.GetJSON(userID, model.KeyWardrobe, &items) {
		return []model.WardrobeItem{}, false
	}
	if items == nil {
		items = []model.WardrobeItem{}
	}
	return items, true
}

// SetWardrobe caches the full wardrobe.
func (s *Store) SetWardrobe(userID string, items []model.WardrobeItem) bool {
	if items == nil {
		items = []model.WardrobeItem{}
	}
	return s.SetJSON(userID, model.KeyWardrobe, items)
}

// ChatHistory returns the cached chat history, or an empty slice when
// none is cached.
func (s *Store) ChatHistory(userID string) ([]model.ChatMessage, bool) {
	var msgs []model.ChatMessage
	if !s.GetJSON(userID, model.KeyChatHistory, &msgs) {
		return []model.ChatMessage{}, false
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return msgs, true
}

// SetChatHistory caches the full chat history.
func (s *Store) SetChatHistory(userID string, msgs []model.ChatMessage) bool {
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return s.SetJSON(userID, model.KeyChatHistory, msgs)
}
