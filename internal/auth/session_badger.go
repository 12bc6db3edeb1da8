// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/jthom32/racepulse/internal/logging"
	"github.com/jthom32/racepulse/internal/metrics"
)

// Key prefixes for BadgerDB storage.
const (
	sessionKeyPrefix     = "session:"
	sessionUserKeyPrefix = "session_user:"
)

// BadgerSessionStore implements SessionStore using BadgerDB so refresh
// sessions survive restarts. This is the production backend.
type BadgerSessionStore struct {
	db *badger.DB
}

// NewBadgerSessionStore opens a BadgerDB at the given path and returns a
// session store backed by it.
func NewBadgerSessionStore(path string) (*BadgerSessionStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty; we log errors ourselves
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store at %s: %w", path, err)
	}
	return &BadgerSessionStore{db: db}, nil
}

// Create stores a new session.
func (s *BadgerSessionStore) Create(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		sessionKey := []byte(sessionKeyPrefix + session.ID)
		if err := txn.Set(sessionKey, data); err != nil {
			return fmt.Errorf("set session: %w", err)
		}

		// User-to-session mapping for efficient DeleteByUserID.
		userKey := []byte(sessionUserKeyPrefix + session.UserID + ":" + session.ID)
		if err := txn.Set(userKey, []byte(session.ID)); err != nil {
			return fmt.Errorf("set user mapping: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.AuthActiveSessions.Inc()
	return nil
}

// Get retrieves a session by ID.
func (s *BadgerSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	var session Session

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		return nil, err
	}

	if session.IsExpired() {
		return nil, ErrSessionExpired
	}
	return &session, nil
}

// Delete removes a session by ID.
func (s *BadgerSessionStore) Delete(ctx context.Context, id string) error {
	var session Session
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(sessionKeyPrefix + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
		if found && session.UserID != "" {
			userKey := []byte(sessionUserKeyPrefix + session.UserID + ":" + id)
			if err := txn.Delete(userKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete user mapping: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if found {
		metrics.AuthActiveSessions.Dec()
	}
	return nil
}

// DeleteByUserID removes all sessions for a user.
func (s *BadgerSessionStore) DeleteByUserID(ctx context.Context, userID string) (int, error) {
	var sessionIDs []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionUserKeyPrefix + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				sessionIDs = append(sessionIDs, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	for _, id := range sessionIDs {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(sessionIDs), nil
}

// Touch updates the session's last accessed time and extends expiry.
func (s *BadgerSessionStore) Touch(ctx context.Context, id string, newExpiry time.Time) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	session.LastAccessedAt = time.Now()
	session.ExpiresAt = newExpiry

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKeyPrefix+id), data)
	})
}

// CleanupExpired removes all expired sessions.
func (s *BadgerSessionStore) CleanupExpired(ctx context.Context) (int, error) {
	var expired []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var session Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			})
			if err != nil {
				logging.Warn().Err(err).Msg("Skipping undecodable session during cleanup")
				continue
			}
			if session.IsExpired() {
				expired = append(expired, session.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}

	for _, id := range expired {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// Close closes the underlying BadgerDB.
func (s *BadgerSessionStore) Close() error {
	return s.db.Close()
}

// NewSessionStore constructs the configured session store backend.
// Supported backends: "memory" and "badger".
func NewSessionStore(backend, path string) (SessionStore, error) {
	switch backend {
	case "memory":
		return NewMemorySessionStore(), nil
	case "badger":
		return NewBadgerSessionStore(path)
	default:
		return nil, fmt.Errorf("unknown session store backend: %s", backend)
	}
}
