package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/offgrid/internal/domain"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Prober derives reachability from periodic HEAD requests against a URL.
// Any HTTP response counts as online; a network error counts as offline.
type Prober struct {
	*broadcaster

	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewProber creates a prober. Zero durations fall back to the defaults.
func NewProber(url string, interval, timeout time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		broadcaster: newBroadcaster(domain.NetworkUnknown),
		url:         url,
		interval:    interval,
		timeout:     timeout,
		client:      &http.Client{},
		logger:      logger,
	}
}

// Run probes immediately and then on every tick until ctx is canceled
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe performs one reachability check and returns the resulting status
func (p *Prober) Probe(ctx context.Context) domain.NetworkStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status := domain.NetworkOnline
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}
	if err != nil {
		status = domain.NetworkOffline
	}

	if p.set(status) {
		p.logger.Info("connectivity changed", "status", status, "url", p.url)
	}
	return status
}
