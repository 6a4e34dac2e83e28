/*
Copyright 2025 The maco Authors

This program is offered under a commercial and under the AGPL license.
For AGPL licensing, see below.

AGPL licensing:
This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package eventbus is an in-process tag-prefix pub/sub bus. Events are
// ephemeral: there is no durable log, and a subscriber that falls behind
// loses its oldest unread events rather than blocking the publisher.
package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/macofab/macod/api/types"
)

// DefaultBacklog is the per-subscriber backlog size used when a
// subscriber doesn't ask for a specific one.
const DefaultBacklog = 256

// Ingress is the mutating half of the bus: publish and subscription
// management. The master and minion each hold one Ingress internally
// and only ever expose the Egress half to callers that should merely
// observe traffic (e.g. the admin websocket feed).
type Ingress struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// Egress is the read-only half: Subscribe and Unsubscribe. Consumers
// that should never be able to Publish hold an Egress, not an Ingress.
type Egress struct {
	bus *Ingress
}

type subscription struct {
	id     string
	prefix string
	ch     chan types.Event
	mu     sync.Mutex
	dropped uint64
}

// New creates an empty bus and returns its two halves.
func New() (*Ingress, *Egress) {
	b := &Ingress{subs: make(map[string]*subscription)}
	return b, &Egress{bus: b}
}

// Egress returns the read-only half of this bus.
func (b *Ingress) Egress() *Egress { return &Egress{bus: b} }

// Publish delivers ev to every subscriber whose prefix is a prefix of
// ev.Tag. Delivery is non-blocking: a subscriber whose backlog is full
// has its oldest queued event dropped to make room (backpressure_drop).
func (b *Ingress) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !hasPrefix(ev.Tag, s.prefix) {
			continue
		}
		s.deliver(ev)
	}
}

func (s *subscription) deliver(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- ev:
		return
	default:
	}
	// backlog full: drop the oldest queued event, then enqueue the new one.
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Subscribe registers a new subscription matching any tag with the given
// prefix ("" matches everything) and returns its id and event channel.
// Call Unsubscribe(id) to release it.
func (e *Egress) Subscribe(prefix string, backlog int) (string, <-chan types.Event) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	s := &subscription{
		id:     uuid.NewString(),
		prefix: prefix,
		ch:     make(chan types.Event, backlog),
	}
	e.bus.mu.Lock()
	e.bus.subs[s.id] = s
	e.bus.mu.Unlock()
	return s.id, s.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (e *Egress) Unsubscribe(id string) {
	e.bus.mu.Lock()
	s, ok := e.bus.subs[id]
	if ok {
		delete(e.bus.subs, id)
	}
	e.bus.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Next blocks until either an event arrives on ch (or ch is closed)
// or ctx is done. Only used by callers that already have the channel
// but want a more ergonomic select; most callers just range over the
// channel returned by Subscribe.
func Next(ctx context.Context, ch <-chan types.Event) (types.Event, bool) {
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-ctx.Done():
		return types.Event{}, false
	}
}

func hasPrefix(tag, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(tag) < len(prefix) {
		return false
	}
	return tag[:len(prefix)] == prefix
}
