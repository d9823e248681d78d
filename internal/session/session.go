// Package session tracks user journeys across searches. Each user holds one
// active session id; every search performed while it is active is tagged with
// it in the history, so a sequence of searches can be grouped into one
// research session afterwards.
//
// Sessions live in an embedded LevelDB keyed by user id. The store is small,
// write-light, and survives restarts, which is all this needs; the relational
// store stays reserved for the query-heavy entities.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
)

const keyPrefix = "session:"

// Store maps user ids to their active session id.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (or creates) the session database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the user's active session id, minting one when none
// exists. Concurrent calls for the same user return the same id.
func (s *Store) GetOrCreate(userID string) (string, error) {
	key := []byte(keyPrefix + userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := s.db.Get(key, nil)
	switch {
	case err == nil:
		return string(val), nil
	case err != lderrors.ErrNotFound:
		return "", fmt.Errorf("reading session for %s: %w", userID, err)
	}

	id := uuid.NewString()
	if err := s.db.Put(key, []byte(id), nil); err != nil {
		return "", fmt.Errorf("storing session for %s: %w", userID, err)
	}
	return id, nil
}

// Clear ends the user's active session. The next GetOrCreate mints a fresh id.
func (s *Store) Clear(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete([]byte(keyPrefix+userID), nil); err != nil && err != lderrors.ErrNotFound {
		return fmt.Errorf("clearing session for %s: %w", userID, err)
	}
	return nil
}
