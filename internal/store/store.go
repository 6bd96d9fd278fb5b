package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const dbFileName = "offgrid.db"

// BoltStore implements domain.KeyValueStore using BoltDB, one bucket per box.
type BoltStore struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string]string
}

// Open opens (or creates) the store under dir. An empty dir yields a
// memory-only store with no persistence.
func Open(dir string) (*BoltStore, error) {
	if dir == "" {
		return &BoltStore{cache: make(map[string]string)}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFileName)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	return &BoltStore{db: db, cache: make(map[string]string)}, nil
}

func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func cacheKey(box, key string) string {
	return box + "\x00" + key
}

func (s *BoltStore) Get(box, key string) (string, bool, error) {
	ck := cacheKey(box, key)

	// Check memory cache first
	s.mu.RLock()
	if v, ok := s.cache[ck]; ok {
		s.mu.RUnlock()
		return v, true, nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return "", false, nil
	}

	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(box))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = string(v) // copies out of the mmap
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s/%s: %w", box, key, err)
	}
	if !found {
		return "", false, nil
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[ck] = value
	s.mu.Unlock()

	return value, true, nil
}

func (s *BoltStore) Put(box, key, value string) error {
	if box == "" || key == "" {
		return errors.New("box and key are required")
	}

	if s.db != nil {
		err := s.db.Update(func(tx *bolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists([]byte(box))
			if err != nil {
				return err
			}
			return b.Put([]byte(key), []byte(value))
		})
		if err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", box, key, err)
		}
	}

	s.mu.Lock()
	s.cache[cacheKey(box, key)] = value
	s.mu.Unlock()
	return nil
}

func (s *BoltStore) Delete(box, key string) error {
	s.mu.Lock()
	delete(s.cache, cacheKey(box, key))
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(box))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", box, key, err)
	}
	return nil
}

func (s *BoltStore) Keys(box string) ([]string, error) {
	if s.db == nil {
		prefix := box + "\x00"
		s.mu.RLock()
		var keys []string
		for k := range s.cache {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, strings.TrimPrefix(k, prefix))
			}
		}
		s.mu.RUnlock()
		sort.Strings(keys)
		return keys, nil
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(box))
		if b == nil {
			return nil
		}
		// Bolt iterates in byte order, so keys come back sorted
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", box, err)
	}
	return keys, nil
}

// Clear wipes a box by dropping and recreating its bucket. Deleting keys
// while walking a cursor skips entries in bolt, so the bucket goes whole.
func (s *BoltStore) Clear(box string) error {
	s.mu.Lock()
	prefix := box + "\x00"
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(box)) == nil {
			return nil
		}
		if err := tx.DeleteBucket([]byte(box)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(box))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", box, err)
	}
	return nil
}
