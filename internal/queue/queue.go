// Package queue persists pending sync tasks in a key-value store.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/offgrid/internal/domain"
)

// Box is the key-value box holding queued tasks.
const Box = "sync_queue"

const recordVersion = 1

// record is the persisted form of a domain.SyncTask
type record struct {
	Version          int                   `json:"v"`
	ID               string                `json:"id"`
	Priority         int                   `json:"priority"`
	Request          domain.Request        `json:"request"`
	CreatedAt        time.Time             `json:"createdAt"`
	LastAttemptAt    *time.Time            `json:"lastAttemptAt,omitempty"`
	Attempts         int                   `json:"attempts"`
	MaxAttempts      int                   `json:"maxAttempts"`
	InitialBackoffMs int64                 `json:"initialBackoffMs"`
	DedupeKey        string                `json:"dedupeKey,omitempty"`
	ConflictPolicy   domain.ConflictPolicy `json:"conflictPolicy"`
	Metadata         map[string]string     `json:"metadata,omitempty"`
}

func toRecord(t domain.SyncTask) record {
	return record{
		Version:          recordVersion,
		ID:               t.ID,
		Priority:         t.Priority,
		Request:          t.Request,
		CreatedAt:        t.CreatedAt,
		LastAttemptAt:    t.LastAttemptAt,
		Attempts:         t.Attempts,
		MaxAttempts:      t.MaxAttempts,
		InitialBackoffMs: t.InitialBackoff.Milliseconds(),
		DedupeKey:        t.DedupeKey,
		ConflictPolicy:   t.ConflictPolicy,
		Metadata:         t.Metadata,
	}
}

func (r record) task() domain.SyncTask {
	return domain.SyncTask{
		ID:             r.ID,
		Priority:       r.Priority,
		Request:        r.Request,
		CreatedAt:      r.CreatedAt,
		LastAttemptAt:  r.LastAttemptAt,
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMs) * time.Millisecond,
		DedupeKey:      r.DedupeKey,
		ConflictPolicy: r.ConflictPolicy,
		Metadata:       r.Metadata,
	}
}

// Store is the task queue. Writes are serialized so a dedupe eviction and
// an insert land as one unit.
type Store struct {
	kv     domain.KeyValueStore
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a queue over kv
func New(kv domain.KeyValueStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// List returns every readable task ordered by priority, then creation
// time, then id. Malformed records are skipped.
func (s *Store) List() ([]domain.SyncTask, error) {
	keys, err := s.kv.Keys(Box)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	tasks := make([]domain.SyncTask, 0, len(keys))
	for _, key := range keys {
		t, ok, err := s.read(key)
		if err != nil {
			return nil, err
		}
		if ok {
			tasks = append(tasks, t)
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return tasks, nil
}

// Get returns the task with id
func (s *Store) Get(id string) (domain.SyncTask, error) {
	t, ok, err := s.read(id)
	if err != nil {
		return domain.SyncTask{}, err
	}
	if !ok {
		return domain.SyncTask{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// Len counts readable tasks
func (s *Store) Len() (int, error) {
	tasks, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// Replace removes every task sharing t's dedupe key and then writes t.
// It returns the ids it evicted.
func (s *Store) Replace(t domain.SyncTask) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	if t.DedupeKey != "" {
		keys, err := s.kv.Keys(Box)
		if err != nil {
			return nil, fmt.Errorf("failed to list queue: %w", err)
		}
		for _, key := range keys {
			if key == t.ID {
				continue
			}
			existing, ok, err := s.read(key)
			if err != nil {
				return nil, err
			}
			if ok && existing.DedupeKey == t.DedupeKey {
				if err := s.kv.Delete(Box, key); err != nil {
					return nil, fmt.Errorf("failed to evict %s: %w", key, err)
				}
				evicted = append(evicted, key)
			}
		}
	}

	if err := s.write(t); err != nil {
		return nil, err
	}
	return evicted, nil
}

// Update overwrites t only if its record still exists. It reports false
// when the task was removed in the meantime.
func (s *Store) Update(t domain.SyncTask) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.kv.Get(Box, t.ID)
	if err != nil {
		return false, fmt.Errorf("failed to read task %s: %w", t.ID, err)
	}
	if !ok {
		return false, nil
	}
	return true, s.write(t)
}

// Remove deletes the task with id; a missing task is not an error
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(Box, id); err != nil {
		return fmt.Errorf("failed to remove task %s: %w", id, err)
	}
	return nil
}

// Clear removes every task
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Clear(Box)
}

func (s *Store) write(t domain.SyncTask) error {
	data, err := json.Marshal(toRecord(t))
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	if err := s.kv.Put(Box, t.ID, string(data)); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) read(key string) (domain.SyncTask, bool, error) {
	raw, ok, err := s.kv.Get(Box, key)
	if err != nil {
		return domain.SyncTask{}, false, fmt.Errorf("failed to read task %s: %w", key, err)
	}
	if !ok {
		return domain.SyncTask{}, false, nil
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Version != recordVersion || rec.ID == "" {
		s.logger.Debug("skipping malformed queue record", "key", key, "error", err)
		return domain.SyncTask{}, false, nil
	}
	return rec.task(), true, nil
}
