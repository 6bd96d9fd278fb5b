// Package download fetches every tile of an offline region with a bounded
// worker pool.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/geo"
	"github.com/mmcdole/offgrid/internal/workpool"
)

// BudgetPolicy decides what happens when a region's byte budget runs out.
type BudgetPolicy string

const (
	// BudgetSoft fails the offending tile and lets the rest continue
	BudgetSoft BudgetPolicy = "soft"
	// BudgetHard stops the run and marks it failed
	BudgetHard BudgetPolicy = "hard"
)

// ParseBudgetPolicy maps a config value to a policy, defaulting to soft
func ParseBudgetPolicy(s string) BudgetPolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(BudgetHard)) {
		return BudgetHard
	}
	return BudgetSoft
}

// Options tunes one DownloadRegion call
type Options struct {
	Template     string
	Subdomains   []string
	Headers      map[string]string
	Concurrency  int
	SkipExisting bool
	BudgetPolicy BudgetPolicy
}

// Engine owns the tile store and runs region downloads
type Engine struct {
	store   domain.TileStore
	fetcher domain.TileFetcher
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*Controller
}

// New creates a download engine
func New(store domain.TileStore, fetcher domain.TileFetcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		active:  make(map[string]*Controller),
	}
}

// Estimate returns the tile count and byte estimate for def
func (e *Engine) Estimate(def domain.OfflineRegionDefinition) (geo.Estimate, error) {
	if err := def.Validate(); err != nil {
		return geo.Estimate{}, err
	}
	return geo.EstimateRegion(def), nil
}

// DownloadRegion starts downloading def in the background. It fails at once
// when def is invalid or the region is already downloading.
func (e *Engine) DownloadRegion(ctx context.Context, def domain.OfflineRegionDefinition, opts Options) (*Controller, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if opts.Template == "" {
		return nil, fmt.Errorf("%w: tile URL template is required", domain.ErrInvalidRegion)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BudgetPolicy == "" {
		opts.BudgetPolicy = BudgetSoft
	}

	e.mu.Lock()
	if _, ok := e.active[def.ID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("region %s: %w", def.ID, domain.ErrDownloadInProgress)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := newController(def.ID, cancel)
	e.active[def.ID] = c
	e.mu.Unlock()

	go func() {
		defer cancel()
		state, msg := e.run(runCtx, c, def, opts)

		// Release the region before waking waiters so they can restart it
		e.mu.Lock()
		delete(e.active, def.ID)
		e.mu.Unlock()

		c.finish(state, msg)
	}()

	return c, nil
}

// Active returns the ids of regions currently downloading
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Regions lists every stored region
func (e *Engine) Regions() ([]domain.RegionMetadata, error) {
	return e.store.Regions()
}

// DeleteRegion removes a stored region that is not downloading
func (e *Engine) DeleteRegion(regionID string) error {
	e.mu.Lock()
	_, busy := e.active[regionID]
	e.mu.Unlock()
	if busy {
		return fmt.Errorf("region %s: %w", regionID, domain.ErrDownloadInProgress)
	}
	return e.store.DeleteRegion(regionID)
}

// run executes the download and returns the terminal state and message
func (e *Engine) run(ctx context.Context, c *Controller, def domain.OfflineRegionDefinition, opts Options) (domain.DownloadState, string) {
	logger := e.logger.With("regionID", def.ID)

	c.setState(domain.DownloadEstimating)
	if err := e.store.InitRegion(def); err != nil {
		logger.Error("failed to init region", "error", err)
		return domain.DownloadFailed, err.Error()
	}

	tiles := geo.TilesForRegion(def)
	c.total.Store(int64(len(tiles)))
	c.setState(domain.DownloadDownloading)
	logger.Info("region download started", "tiles", len(tiles), "concurrency", opts.Concurrency, "maxBytes", def.MaxBytes)

	workpool.Run(ctx, opts.Concurrency, workpool.NewCursor(tiles), func(ctx context.Context, t domain.TileCoord) bool {
		if !c.waitIfPaused(ctx) {
			return false
		}
		return e.downloadTile(ctx, c, def, opts, t, logger)
	})

	snap := c.Snapshot()
	switch {
	case c.budgetExceeded.Load() && opts.BudgetPolicy == BudgetHard:
		logger.Warn("region download stopped by byte budget", "bytes", snap.TotalBytes)
		return domain.DownloadFailed, fmt.Sprintf("region %s: %v", def.ID, domain.ErrBudgetExceeded)
	case c.canceled.Load() || ctx.Err() != nil:
		logger.Info("region download canceled", "downloaded", snap.DownloadedTiles)
		return domain.DownloadCanceled, ""
	case snap.DownloadedTiles >= snap.TotalTiles:
		logger.Info("region download completed", "tiles", snap.TotalTiles, "bytes", snap.TotalBytes)
		return domain.DownloadCompleted, ""
	default:
		logger.Warn("region download incomplete", "failed", snap.FailedTiles)
		msg := fmt.Sprintf("%d of %d tiles failed", snap.FailedTiles, snap.TotalTiles)
		if c.budgetExceeded.Load() {
			msg += ": " + domain.ErrBudgetExceeded.Error()
		}
		return domain.DownloadFailed, msg
	}
}

// downloadTile handles one tile and reports whether the worker continues
func (e *Engine) downloadTile(ctx context.Context, c *Controller, def domain.OfflineRegionDefinition, opts Options, t domain.TileCoord, logger *slog.Logger) bool {
	if opts.SkipExisting && e.store.Has(def.ID, t) {
		c.skipped.Add(1)
		c.downloaded.Add(1)
		c.emit()
		return true
	}

	data, err := e.fetcher.Fetch(ctx, domain.TileRequest{
		Template:   opts.Template,
		Coord:      t,
		Subdomains: opts.Subdomains,
		Headers:    opts.Headers,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Debug("tile fetch failed", "tile", t.String(), "error", err)
		c.tileFailed(err)
		return true
	}

	size := int64(len(data.Bytes))
	if !c.reserve(size, def.MaxBytes) {
		c.budgetExceeded.Store(true)
		err := fmt.Errorf("tile %s: %w", t, domain.ErrBudgetExceeded)
		logger.Debug("tile over budget", "tile", t.String(), "bytes", size)
		c.tileFailed(err)
		if opts.BudgetPolicy == BudgetHard {
			c.cancel()
			return false
		}
		return true
	}

	if _, err := e.store.Put(def.ID, t, data.Bytes, data.ContentType); err != nil {
		c.bytes.Add(-size)
		logger.Warn("tile write failed", "tile", t.String(), "error", err)
		c.tileFailed(err)
		return true
	}

	c.downloaded.Add(1)
	c.emit()
	return true
}

func (c *Controller) tileFailed(err error) {
	c.failed.Add(1)
	c.setError(err.Error())
	c.emit()
}
