// Package connectivity reports network reachability to the engines.
package connectivity

import (
	"sync"

	"github.com/mmcdole/offgrid/internal/domain"
)

// broadcaster tracks the current status and fans changes out to subscribers.
// Each subscriber channel holds one value; a slow reader sees only the latest.
type broadcaster struct {
	mu     sync.Mutex
	status domain.NetworkStatus
	subs   map[int]chan domain.NetworkStatus
	nextID int
}

func newBroadcaster(initial domain.NetworkStatus) *broadcaster {
	return &broadcaster{status: initial, subs: make(map[int]chan domain.NetworkStatus)}
}

func (b *broadcaster) Status() domain.NetworkStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *broadcaster) Subscribe() (<-chan domain.NetworkStatus, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan domain.NetworkStatus, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// set records status and notifies subscribers when it changed
func (b *broadcaster) set(status domain.NetworkStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status == status {
		return false
	}
	b.status = status

	for _, ch := range b.subs {
		// Drop a stale undelivered value so the newest wins
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- status:
		default:
		}
	}
	return true
}

// Manual is a settable ConnectivitySignal
type Manual struct {
	*broadcaster
}

// NewManual creates a signal starting at status
func NewManual(status domain.NetworkStatus) *Manual {
	return &Manual{broadcaster: newBroadcaster(status)}
}

// Set changes the status, notifying subscribers only on change
func (m *Manual) Set(status domain.NetworkStatus) {
	m.set(status)
}
