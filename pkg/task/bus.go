package task

import (
	"sync"
	"time"
)

// ChangeType classifies a committed hierarchy mutation.
type ChangeType string

const (
	ChangeCreated    ChangeType = "task.created"
	ChangeUpdated    ChangeType = "task.updated"
	ChangeReparented ChangeType = "task.reparented"
	ChangeReordered  ChangeType = "task.reordered"
	ChangeDeleted    ChangeType = "task.deleted"
)

// Change is a notification about one committed mutation. For reorders,
// TaskID carries the parent whose sibling set changed.
type Change struct {
	Type      ChangeType `json:"type"`
	TaskID    string     `json:"task_id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Bus fans committed changes out to in-process subscribers. The Service
// publishes only after a successful commit, so subscribers never observe
// rolled-back mutations.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Change]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Change]struct{})}
}

// Publish delivers c to all subscribers without blocking.
func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
			// subscriber is behind; drop to avoid blocking the mutation path
		}
	}
	b.mu.RUnlock()
}

// Subscribe returns a buffered channel receiving all future changes.
func (b *Bus) Subscribe() chan Change {
	ch := make(chan Change, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Change) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
