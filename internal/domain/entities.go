package domain

import (
	"time"
)

// ConflictPolicy selects how a 409 response is reconciled
type ConflictPolicy string

const (
	ConflictServerWins ConflictPolicy = "server_wins"
	ConflictClientWins ConflictPolicy = "client_wins"
	ConflictMerge      ConflictPolicy = "merge"
)

// SyncTask is one queued mutation awaiting delivery.
// Tasks are replaced wholesale in the queue store, never edited in place.
type SyncTask struct {
	ID             string            // Stable opaque identifier
	Priority       int               // Lower runs sooner
	Request        Request           // What to send
	CreatedAt      time.Time         // Stamped at enqueue
	LastAttemptAt  *time.Time        // nil until first attempt
	Attempts       int               // Attempts recorded so far
	MaxAttempts    int               // Abandon once Attempts reaches this
	InitialBackoff time.Duration     // Base for exponential backoff
	DedupeKey      string            // Optional; newer task with same key evicts older
	ConflictPolicy ConflictPolicy    // Passed to the merge resolver on 409
	Metadata       map[string]string // Caller-defined, opaque to the engine
}

// Clone returns a deep copy of the task.
func (t SyncTask) Clone() SyncTask {
	c := t
	c.Request = t.Request.Clone()
	if t.LastAttemptAt != nil {
		at := *t.LastAttemptAt
		c.LastAttemptAt = &at
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// OptimisticApply is invoked right after a task is persisted, before delivery.
type OptimisticApply func(task SyncTask)

// RollbackApply is invoked when delivering a task failed at the transport level
// or the server rejected it for good.
type RollbackApply func(task SyncTask, err error)

// MergeResolver reconciles a 409 response and returns the body to retry with.
// Returning ErrDiscardTask drops the task instead.
type MergeResolver func(task SyncTask, server *Response, policy ConflictPolicy) ([]byte, error)

// CacheEntry is one SWR cache record.
type CacheEntry struct {
	Key         string
	Body        []byte
	ETag        string
	LastFetched time.Time
	TTL         time.Duration
}

// IsFresh reports whether the entry is still within its TTL at now
func (e CacheEntry) IsFresh(now time.Time) bool {
	return now.Sub(e.LastFetched) <= e.TTL
}
