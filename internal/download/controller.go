package download

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/offgrid/internal/domain"
)

// Controller steers one region download run.
type Controller struct {
	regionID string
	cancel   context.CancelFunc

	total      atomic.Int64
	downloaded atomic.Int64 // fetched + skipped
	skipped    atomic.Int64
	failed     atomic.Int64
	bytes      atomic.Int64

	canceled       atomic.Bool
	budgetExceeded atomic.Bool

	mu       sync.Mutex
	state    domain.DownloadState
	lastErr  string
	resumeCh chan struct{} // non-nil while paused; closed on resume

	sendMu   sync.Mutex
	progress chan domain.OfflineDownloadProgress
	closed   bool

	done  chan struct{}
	final domain.OfflineDownloadProgress
}

func newController(regionID string, cancel context.CancelFunc) *Controller {
	return &Controller{
		regionID: regionID,
		cancel:   cancel,
		state:    domain.DownloadIdle,
		progress: make(chan domain.OfflineDownloadProgress, 1),
		done:     make(chan struct{}),
	}
}

// RegionID identifies the region being downloaded
func (c *Controller) RegionID() string {
	return c.regionID
}

// Pause holds workers before their next tile. Tiles already being fetched
// finish. It has no effect unless the run is downloading.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != domain.DownloadDownloading {
		c.mu.Unlock()
		return
	}
	c.state = domain.DownloadPaused
	c.resumeCh = make(chan struct{})
	c.mu.Unlock()

	c.emit()
}

// Resume releases a paused run
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != domain.DownloadPaused {
		c.mu.Unlock()
		return
	}
	c.state = domain.DownloadDownloading
	close(c.resumeCh)
	c.resumeCh = nil
	c.mu.Unlock()

	c.emit()
}

// Cancel stops the run; it ends in the canceled state
func (c *Controller) Cancel() {
	c.canceled.Store(true)
	c.cancel()
}

// Progress streams snapshots. Intermediate snapshots may be skipped for a
// slow reader; the final snapshot is always delivered before the channel
// closes.
func (c *Controller) Progress() <-chan domain.OfflineDownloadProgress {
	return c.progress
}

// Done is closed when the run has finished
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the run finishes and returns the final snapshot
func (c *Controller) Wait() domain.OfflineDownloadProgress {
	<-c.done
	return c.final
}

// Snapshot returns the current progress
func (c *Controller) Snapshot() domain.OfflineDownloadProgress {
	c.mu.Lock()
	state, lastErr := c.state, c.lastErr
	c.mu.Unlock()

	return domain.OfflineDownloadProgress{
		RegionID:        c.regionID,
		TotalTiles:      int(c.total.Load()),
		DownloadedTiles: int(c.downloaded.Load()),
		SkippedTiles:    int(c.skipped.Load()),
		FailedTiles:     int(c.failed.Load()),
		TotalBytes:      c.bytes.Load(),
		State:           state,
		Error:           lastErr,
	}
}

// waitIfPaused blocks while paused. It reports false if ctx ended first.
func (c *Controller) waitIfPaused(ctx context.Context) bool {
	c.mu.Lock()
	ch := c.resumeCh
	c.mu.Unlock()

	if ch == nil {
		return ctx.Err() == nil
	}
	select {
	case <-ch:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) setState(s domain.DownloadState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// reserve adds n bytes unless that would exceed limit (0 = unlimited)
func (c *Controller) reserve(n, limit int64) bool {
	if limit <= 0 {
		c.bytes.Add(n)
		return true
	}
	for {
		cur := c.bytes.Load()
		if cur+n > limit {
			return false
		}
		if c.bytes.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

func (c *Controller) emit() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	// Snapshot under sendMu so streamed counters never go backwards
	p := c.Snapshot()
	// Replace an unread snapshot so the newest one wins
	select {
	case <-c.progress:
	default:
	}
	select {
	case c.progress <- p:
	default:
	}
}

// finish records the terminal state, delivers the final snapshot and closes
// the stream
func (c *Controller) finish(state domain.DownloadState, msg string) {
	c.mu.Lock()
	c.state = state
	if msg != "" {
		c.lastErr = msg
	}
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
	c.mu.Unlock()

	final := c.Snapshot()

	c.sendMu.Lock()
	select {
	case <-c.progress:
	default:
	}
	c.progress <- final
	c.closed = true
	close(c.progress)
	c.sendMu.Unlock()

	c.final = final
	close(c.done)
}
