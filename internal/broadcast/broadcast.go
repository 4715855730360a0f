// Package broadcast carries session and store-context change signals between
// components in the same process, so the binder and resolver can
// re-synchronize after a PIN login or logout without a full reload.
package broadcast

import (
	"context"
	"sync"
	"time"
)

// Kind identifies the change a signal announces.
type Kind string

const (
	PinSessionChanged     Kind = "pin_session_changed"
	AccountSessionChanged Kind = "account_session_changed"
	SessionExpired        Kind = "session_expired"
	SignedOut             Kind = "signed_out"
	StoreChanged          Kind = "store_changed"
)

// Signal is a broadcast payload. IdentityID and StoreID are informational;
// consumers re-read authoritative state from the session manager.
type Signal struct {
	Kind       Kind      `json:"kind"`
	IdentityID string    `json:"identity_id,omitempty"`
	StoreID    string    `json:"store_id,omitempty"`
	At         time.Time `json:"at"`
}

// Bus fan-outs signals to all active subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Signal
	next int
}

// NewBus initialises an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Signal)}
}

// Subscribe registers a subscriber and returns its channel. The channel is
// closed when the provided context ends.
func (b *Bus) Subscribe(ctx context.Context) <-chan Signal {
	ch := make(chan Signal, 8)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the signal to all subscribers.
func (b *Bus) Publish(sig Signal) {
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- sig:
		default:
			// Drop when the subscriber is slow to avoid blocking.
		}
	}
}
