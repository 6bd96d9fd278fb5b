// Package syncengine delivers queued mutations when the network allows,
// with backoff, conflict resolution and progress reporting.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/offgrid/internal/domain"
	"github.com/mmcdole/offgrid/internal/queue"
	"github.com/mmcdole/offgrid/internal/swr"
	"github.com/mmcdole/offgrid/internal/workpool"
)

// Defaults applied to tasks and options left zero.
const (
	DefaultMaxParallel    = 2
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = time.Second
)

// Options configures an Engine
type Options struct {
	MaxParallel    int
	MaxAttempts    int           // applied to tasks enqueued without one
	InitialBackoff time.Duration // applied to tasks enqueued without one
	MergeResolver  domain.MergeResolver
	Logger         *slog.Logger
	Rand           *rand.Rand // jitter source
}

// Engine owns the task queue and the SWR cache
type Engine struct {
	queue     *queue.Store
	cache     *swr.Cache
	transport domain.Transport
	network   domain.ConnectivitySignal
	opts      Options
	logger    *slog.Logger

	randMu sync.Mutex
	rand   *rand.Rand

	mu        sync.Mutex
	state     domain.SyncState
	paused    bool
	running   bool // a pass is executing
	rerun     bool // a trigger arrived during the running pass
	closed    bool
	inFlight  int
	abandoned int    // cumulative until Clear
	lastError string // newest failure, kept until Clear
	unpaused  domain.SyncState
	rollbacks map[string]domain.RollbackApply

	subsMu sync.Mutex
	subs   map[int]chan domain.SyncProgress
	nextID int

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// New creates an engine. Call Start to react to connectivity changes.
func New(q *queue.Store, cache *swr.Cache, transport domain.Transport, network domain.ConnectivitySignal, opts Options) *Engine {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		queue:     q,
		cache:     cache,
		transport: transport,
		network:   network,
		opts:      opts,
		logger:    opts.Logger,
		rand:      opts.Rand,
		state:     domain.SyncIdle,
		rollbacks: make(map[string]domain.RollbackApply),
		subs:      make(map[int]chan domain.SyncProgress),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to connectivity. The current status and every later
// transition to online trigger a background pass. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	ch, unsubscribe := e.network.Subscribe()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		unsubscribe()
		return
	}
	e.unsubscribe = unsubscribe
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		if e.network.Status() == domain.NetworkOnline {
			e.trigger()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.ctx.Done():
				return
			case status, ok := <-ch:
				if !ok {
					return
				}
				e.logger.Debug("connectivity update", "status", status)
				if status == domain.NetworkOnline {
					e.trigger()
				}
			}
		}
	}()
}

// Close stops reacting to connectivity, cancels running work and waits for
// every background pass to return.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	unsubscribe := e.unsubscribe
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	e.cancel()
	e.wg.Wait()

	e.subsMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subsMu.Unlock()
	return nil
}

// Enqueue persists task (evicting any task with the same dedupe key),
// applies the optimistic update and, when online and not paused, starts a
// background pass. The stored task is returned.
func (e *Engine) Enqueue(ctx context.Context, task domain.SyncTask, apply domain.OptimisticApply, rollback domain.RollbackApply) (domain.SyncTask, error) {
	if err := ctx.Err(); err != nil {
		return domain.SyncTask{}, err
	}

	task = task.Clone()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.MaxAttempts < 1 {
		task.MaxAttempts = e.opts.MaxAttempts
	}
	if task.InitialBackoff <= 0 {
		task.InitialBackoff = e.opts.InitialBackoff
	}
	if task.ConflictPolicy == "" {
		task.ConflictPolicy = domain.ConflictClientWins
	}
	task.CreatedAt = time.Now().UTC()
	task.Attempts = 0
	task.LastAttemptAt = nil

	evicted, err := e.queue.Replace(task)
	if err != nil {
		return domain.SyncTask{}, fmt.Errorf("failed to enqueue task: %w", err)
	}

	e.mu.Lock()
	for _, id := range evicted {
		delete(e.rollbacks, id)
	}
	if rollback != nil {
		e.rollbacks[task.ID] = rollback
	}
	e.mu.Unlock()

	e.logger.Info("task enqueued", "taskID", task.ID, "priority", task.Priority, "dedupeKey", task.DedupeKey, "evicted", len(evicted))

	if apply != nil {
		apply(task.Clone())
	}
	e.publish()
	e.trigger()

	return task, nil
}

// ProcessQueue runs one pass synchronously. A call made while a pass is
// running returns at once and schedules exactly one follow-up pass, which
// the running caller executes before returning.
func (e *Engine) ProcessQueue(ctx context.Context) {
	e.mu.Lock()
	if !e.canRun() {
		e.mu.Unlock()
		return
	}
	if e.running {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	for {
		e.runPass(ctx)

		e.mu.Lock()
		if !e.rerun || ctx.Err() != nil || !e.canRun() {
			e.rerun = false
			e.running = false
			e.mu.Unlock()
			return
		}
		e.rerun = false
		e.mu.Unlock()
	}
}

// Pause stops new passes and halts workers before their next task.
// In-flight requests finish.
func (e *Engine) Pause() {
	e.mu.Lock()
	if !e.paused {
		e.unpaused = e.state
	}
	e.paused = true
	e.state = domain.SyncPaused
	e.mu.Unlock()

	e.logger.Info("sync paused")
	e.publish()
}

// Resume clears the pause, restores the state the last pass left and
// starts a pass when online
func (e *Engine) Resume() {
	pending, err := e.queue.Len()
	if err != nil {
		e.logger.Warn("failed to count queue", "error", err)
	}

	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	switch {
	case err == nil && pending == 0:
		e.state = domain.SyncIdle
	case e.unpaused == domain.SyncFailed:
		e.state = domain.SyncFailed
	default:
		e.state = domain.SyncIdle
	}
	e.mu.Unlock()

	e.logger.Info("sync resumed")
	e.publish()
	e.trigger()
}

// State returns the queue-level state
func (e *Engine) State() domain.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns the current progress
func (e *Engine) Snapshot() domain.SyncProgress {
	pending, err := e.queue.Len()
	if err != nil {
		e.logger.Warn("failed to count queue", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.SyncProgress{
		State:     e.state,
		Pending:   pending,
		InFlight:  e.inFlight,
		Abandoned: e.abandoned,
		LastError: e.lastError,
	}
}

// Subscribe returns a progress stream and a release function. A slow
// reader skips intermediate snapshots and sees the newest one.
func (e *Engine) Subscribe() (<-chan domain.SyncProgress, func()) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	id := e.nextID
	e.nextID++
	ch := make(chan domain.SyncProgress, 1)
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			defer e.subsMu.Unlock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
		})
	}
}

// Fetch reads through the owned SWR cache
func (e *Engine) Fetch(ctx context.Context, key string, req domain.Request, onCache swr.OnCache, onFresh swr.OnFresh, ttl time.Duration) {
	e.cache.Fetch(ctx, key, req, onCache, onFresh, ttl)
}

// Tasks lists the pending tasks in dequeue order
func (e *Engine) Tasks() ([]domain.SyncTask, error) {
	return e.queue.List()
}

// Clear drops every pending task without delivering it and forgets the
// abandonment count and last error
func (e *Engine) Clear() error {
	if err := e.queue.Clear(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rollbacks = make(map[string]domain.RollbackApply)
	e.abandoned = 0
	e.lastError = ""
	if !e.paused && !e.running {
		e.state = domain.SyncIdle
	}
	e.mu.Unlock()
	e.publish()
	return nil
}

// canRun reports whether a new pass may start. Caller holds mu.
func (e *Engine) canRun() bool {
	return !e.closed && !e.paused && e.network.Status() == domain.NetworkOnline
}

// trigger starts a tracked background pass if one may run
func (e *Engine) trigger() {
	e.mu.Lock()
	if !e.canRun() {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.ProcessQueue(e.ctx)
	}()
}

func (e *Engine) runPass(ctx context.Context) {
	tasks, err := e.queue.List()
	if err != nil {
		e.logger.Error("failed to load queue", "error", err)
		e.mu.Lock()
		e.state = domain.SyncFailed
		e.lastError = err.Error()
		e.mu.Unlock()
		e.publish()
		return
	}

	e.mu.Lock()
	e.state = domain.SyncSyncing
	e.mu.Unlock()
	e.publish()

	e.logger.Debug("sync pass started", "tasks", len(tasks))

	workpool.Run(ctx, e.opts.MaxParallel, workpool.NewCursor(tasks), func(ctx context.Context, t domain.SyncTask) bool {
		if e.isPaused() {
			return false
		}
		e.execute(ctx, t)
		return true
	})

	remaining, err := e.queue.Len()
	if err != nil {
		e.logger.Warn("failed to count queue", "error", err)
	}

	e.mu.Lock()
	switch {
	case e.paused:
		e.state = domain.SyncPaused
	case err == nil && remaining == 0:
		e.state = domain.SyncIdle
	default:
		e.state = domain.SyncFailed
	}
	state := e.state
	e.mu.Unlock()

	e.logger.Info("sync pass finished", "state", state, "remaining", remaining)
	e.publish()
}

func (e *Engine) execute(ctx context.Context, t domain.SyncTask) {
	// The task may have been evicted or finished since the pass listed it
	current, err := e.queue.Get(t.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("failed to reload task", "taskID", t.ID, "error", err)
		}
		return
	}
	t = current

	if t.Attempts > 0 {
		if !sleep(ctx, e.backoff(t)) {
			return
		}
		if e.isPaused() {
			return
		}
	}

	e.setInFlight(+1)
	now := time.Now().UTC()
	t.LastAttemptAt = &now
	resp, sendErr := e.transport.Send(ctx, t.Request)
	e.setInFlight(-1)

	switch {
	case sendErr != nil:
		if ctx.Err() != nil {
			// Shutting down; leave the task as it was
			return
		}
		e.logger.Warn("task send failed", "taskID", t.ID, "attempt", t.Attempts+1, "error", sendErr)
		e.rollback(t, sendErr, false)
		t.Attempts++
		e.retryOrAbandon(t, sendErr.Error(), sendErr, false)

	case resp.IsSuccess():
		e.logger.Info("task delivered", "taskID", t.ID, "status", resp.StatusCode)
		e.remove(t.ID)

	case resp.StatusCode == http.StatusConflict && e.opts.MergeResolver != nil:
		e.resolveConflict(t, resp)

	default:
		msg := fmt.Sprintf("task %s: status %d", t.ID, resp.StatusCode)
		e.logger.Warn("task rejected", "taskID", t.ID, "status", resp.StatusCode, "attempt", t.Attempts+1)
		t.Attempts++
		e.retryOrAbandon(t, msg, errors.New(msg), true)
	}
	e.publish()
}

func (e *Engine) resolveConflict(t domain.SyncTask, resp *domain.Response) {
	body, err := e.opts.MergeResolver(t.Clone(), resp, t.ConflictPolicy)
	if errors.Is(err, domain.ErrDiscardTask) {
		e.logger.Info("task discarded on conflict", "taskID", t.ID, "policy", t.ConflictPolicy)
		e.rollback(t, domain.ErrDiscardTask, true)
		e.remove(t.ID)
		return
	}

	t.Attempts++
	if err != nil {
		msg := fmt.Sprintf("task %s: merge failed: %v", t.ID, err)
		e.logger.Warn("merge resolver failed", "taskID", t.ID, "error", err)
		e.retryOrAbandon(t, msg, err, true)
		return
	}

	t.Request.Body = body
	e.logger.Info("task merged after conflict", "taskID", t.ID, "policy", t.ConflictPolicy)
	e.retryOrAbandon(t, fmt.Sprintf("task %s: conflict", t.ID), nil, true)
}

// retryOrAbandon persists t for a later pass, or drops it once its attempt
// budget is spent. Rollback fires on abandonment when notify is set.
func (e *Engine) retryOrAbandon(t domain.SyncTask, msg string, cause error, notify bool) {
	if t.Attempts >= t.MaxAttempts {
		e.logger.Warn("task abandoned", "taskID", t.ID, "attempts", t.Attempts, "reason", msg)
		if notify {
			if cause == nil {
				cause = errors.New(msg)
			}
			e.rollback(t, cause, true)
		}
		e.remove(t.ID)

		e.mu.Lock()
		e.abandoned++
		e.lastError = msg
		e.mu.Unlock()
		return
	}

	if cause != nil {
		e.mu.Lock()
		e.lastError = msg
		e.mu.Unlock()
	}

	ok, err := e.queue.Update(t)
	if err != nil {
		e.logger.Error("failed to persist task", "taskID", t.ID, "error", err)
		return
	}
	if !ok {
		e.logger.Debug("task replaced during attempt", "taskID", t.ID)
	}
}

func (e *Engine) remove(id string) {
	if err := e.queue.Remove(id); err != nil {
		e.logger.Error("failed to remove task", "taskID", id, "error", err)
	}
	e.mu.Lock()
	delete(e.rollbacks, id)
	e.mu.Unlock()
}

// rollback invokes the hook for t; final drops the hook afterwards
func (e *Engine) rollback(t domain.SyncTask, err error, final bool) {
	e.mu.Lock()
	fn := e.rollbacks[t.ID]
	if final {
		delete(e.rollbacks, t.ID)
	}
	e.mu.Unlock()

	if fn != nil {
		fn(t.Clone(), err)
	}
}

func (e *Engine) backoff(t domain.SyncTask) time.Duration {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return Jitter(RawBackoff(t.InitialBackoff, t.Attempts), e.rand)
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) setInFlight(delta int) {
	e.mu.Lock()
	e.inFlight += delta
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) publish() {
	p := e.Snapshot()

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}
