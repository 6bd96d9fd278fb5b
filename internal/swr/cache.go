// Package swr serves cached response bodies immediately and revalidates
// them over the network with conditional requests.
package swr

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/offgrid/internal/domain"
)

// Box is the key-value box holding cache entries.
const Box = "swr_cache"

const recordVersion = 1

// record is the persisted form of a domain.CacheEntry
type record struct {
	Version     int       `json:"v"`
	Key         string    `json:"key"`
	Body        []byte    `json:"body"`
	ETag        string    `json:"etag,omitempty"`
	LastFetched time.Time `json:"lastFetched"`
	TTLSeconds  float64   `json:"ttlSeconds"`
}

// OnCache receives the cached body, or found=false when nothing is cached.
type OnCache func(body []byte, found bool)

// OnFresh receives a body confirmed current by the server.
type OnFresh func(body []byte)

// Cache is a stale-while-revalidate cache over a key-value store.
type Cache struct {
	store     domain.KeyValueStore
	transport domain.Transport
	network   domain.ConnectivitySignal
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a cache
func New(store domain.KeyValueStore, transport domain.Transport, network domain.ConnectivitySignal, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:     store,
		transport: transport,
		network:   network,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Fetch delivers whatever is cached for key through onCache, then, when
// online, revalidates with If-None-Match and delivers a confirmed or new
// body through onFresh. Failures after onCache are silent; Fetch never
// returns an error.
func (c *Cache) Fetch(ctx context.Context, key string, req domain.Request, onCache OnCache, onFresh OnFresh, ttl time.Duration) {
	existing, found := c.Peek(key)

	if onCache != nil {
		if found {
			onCache(existing.Body, true)
		} else {
			onCache(nil, false)
		}
	}

	if c.network.Status() != domain.NetworkOnline {
		return
	}

	req = req.Clone()
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if found && existing.ETag != "" {
		if req.Headers == nil {
			req.Headers = make(map[string]string)
		}
		req.Headers["If-None-Match"] = existing.ETag
	}

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		c.logger.Debug("revalidation failed", "key", key, "error", err)
		return
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && found:
		if onFresh != nil {
			onFresh(existing.Body)
		}
	case resp.IsSuccess():
		entry := domain.CacheEntry{
			Key:         key,
			Body:        resp.Body,
			ETag:        resp.Header("ETag"),
			LastFetched: c.now(),
			TTL:         ttl,
		}
		if err := c.put(entry); err != nil {
			c.logger.Warn("failed to store cache entry", "key", key, "error", err)
		}
		if onFresh != nil {
			onFresh(entry.Body)
		}
	default:
		c.logger.Debug("revalidation returned non-success", "key", key, "status", resp.StatusCode)
	}
}

// Peek returns the cached entry for key without touching the network.
// Malformed entries read as absent.
func (c *Cache) Peek(key string) (domain.CacheEntry, bool) {
	raw, ok, err := c.store.Get(Box, key)
	if err != nil {
		c.logger.Warn("failed to read cache entry", "key", key, "error", err)
		return domain.CacheEntry{}, false
	}
	if !ok {
		return domain.CacheEntry{}, false
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Version != recordVersion {
		c.logger.Debug("ignoring malformed cache entry", "key", key, "error", err)
		return domain.CacheEntry{}, false
	}

	return domain.CacheEntry{
		Key:         rec.Key,
		Body:        rec.Body,
		ETag:        rec.ETag,
		LastFetched: rec.LastFetched,
		TTL:         time.Duration(rec.TTLSeconds * float64(time.Second)),
	}, true
}

// Invalidate drops the entry for key
func (c *Cache) Invalidate(key string) error {
	return c.store.Delete(Box, key)
}

// Clear drops every entry
func (c *Cache) Clear() error {
	return c.store.Clear(Box)
}

func (c *Cache) put(e domain.CacheEntry) error {
	data, err := json.Marshal(record{
		Version:     recordVersion,
		Key:         e.Key,
		Body:        e.Body,
		ETag:        e.ETag,
		LastFetched: e.LastFetched,
		TTLSeconds:  e.TTL.Seconds(),
	})
	if err != nil {
		return err
	}
	return c.store.Put(Box, e.Key, string(data))
}
