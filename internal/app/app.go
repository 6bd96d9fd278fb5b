// Package app wires configuration into the running engines.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mmcdole/offgrid/internal/config"
	"github.com/mmcdole/offgrid/internal/connectivity"
	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/download"
	"github.com/mmcdole/offgrid/internal/feed"
	"github.com/mmcdole/offgrid/internal/queue"
	"github.com/mmcdole/offgrid/internal/store"
	"github.com/mmcdole/offgrid/internal/swr"
	"github.com/mmcdole/offgrid/internal/syncengine"
	"github.com/mmcdole/offgrid/internal/tilestore"
	"github.com/mmcdole/offgrid/internal/transport"
)

// Storage drivers accepted in storage.driver
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Options adjusts wiring for one invocation
type Options struct {
	// Offline pins connectivity to offline regardless of configuration
	Offline bool
}

// App holds every wired component
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store     domain.KeyValueStore
	Transport *transport.HTTP
	Network   domain.ConnectivitySignal
	Prober    *connectivity.Prober // nil unless probe_url is set

	Cache *swr.Cache
	Queue *queue.Store
	Sync  *syncengine.Engine

	Tiles     *tilestore.FileStore
	Downloads *download.Engine
}

// New builds the application graph from cfg
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	tilesRoot, err := config.ExpandPath(cfg.Tiles.Root)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	tiles, err := tilestore.NewFileStore(tilesRoot, logger)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	httpTransport := transport.NewHTTP(logger,
		transport.WithTimeout(cfg.Transport.Timeout),
		transport.WithUserAgent(cfg.Transport.UserAgent),
	)

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     kv,
		Transport: httpTransport,
		Tiles:     tiles,
	}

	switch {
	case opts.Offline:
		a.Network = connectivity.NewManual(domain.NetworkOffline)
	case cfg.Connectivity.ProbeURL != "":
		a.Prober = connectivity.NewProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.Interval, cfg.Connectivity.Timeout, logger)
		a.Network = a.Prober
	default:
		a.Network = connectivity.NewManual(domain.NetworkOnline)
	}

	a.Cache = swr.New(kv, httpTransport, a.Network, logger)
	a.Queue = queue.New(kv, logger)
	a.Sync = syncengine.New(a.Queue, a.Cache, httpTransport, a.Network, syncengine.Options{
		MaxParallel:    cfg.Sync.MaxParallel,
		MaxAttempts:    cfg.Sync.MaxAttempts,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MergeResolver:  syncengine.ResolveByPolicy,
		Logger:         logger,
	})
	a.Downloads = download.New(tiles, transport.NewTileFetcher(httpTransport), logger)

	logger.Debug("application wired",
		"storage", cfg.Storage.Driver,
		"tilesRoot", tilesRoot,
		"network", a.Network.Status())
	return a, nil
}

// OpenStore opens the key-value backend named by cfg.Driver
func OpenStore(cfg config.StorageConfig) (domain.KeyValueStore, error) {
	dir, err := config.ExpandPath(cfg.Dir)
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverBolt, "":
		return store.Open(dir)
	case DriverSQLite:
		return store.OpenSQLite(filepath.Join(dir, "offgrid.sqlite"))
	case DriverMemory:
		return store.Open("")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// StartBackground runs the prober (when configured) and the sync engine
// until ctx ends
func (a *App) StartBackground(ctx context.Context) {
	if a.Prober != nil {
		go a.Prober.Run(ctx)
	}
	a.Sync.Start(ctx)
}

// DownloadOptions returns configured download defaults
func (a *App) DownloadOptions() download.Options {
	return download.Options{
		Template:     a.Config.Tiles.Template,
		Subdomains:   a.Config.Tiles.Subdomains,
		Concurrency:  a.Config.Tiles.Concurrency,
		BudgetPolicy: download.ParseBudgetPolicy(a.Config.Tiles.BudgetPolicy),
	}
}

// NewFeed creates the progress feed server for the configured address
func (a *App) NewFeed() *feed.Server {
	return feed.NewServer(a.Config.Feed.Addr, a.Logger)
}

// Close stops the sync engine and releases storage
func (a *App) Close() error {
	return errors.Join(a.Sync.Close(), a.Store.Close())
}
