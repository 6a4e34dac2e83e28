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

package master

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/eventbus"
)

// workItem is one frame pulled off the request server's demux channel,
// tagged with enough context for a worker to reply or publish an event
// without holding a reference back into the connection.
type workItem struct {
	frame  *transport.Frame
	peer   string
	respCh chan<- *transport.Frame
}

// WorkerPool generalizes the teacher's single-goroutine Scheduler.Run
// dispatch loop into worker_count independent goroutines that share no
// in-memory state (spec.md §4.6): each one pulls a frame, handles it
// against the key store / auth state machine / job cache, and emits
// results onto the event bus. A panicking worker is recovered and
// respawned by a small supervisor loop, in the spirit of the teacher's
// embedServer/GoAttach supervision idiom (pkg/server/server.go).
type WorkerPool struct {
	lg    *zap.Logger
	auth  *AuthServer
	keys  *KeyStore
	sched *Scheduler
	jobs  *JobCache
	bus   *eventbus.Ingress

	pull chan workItem
}

func NewWorkerPool(lg *zap.Logger, auth *AuthServer, keys *KeyStore, sched *Scheduler, jobs *JobCache, bus *eventbus.Ingress, queueDepth int) *WorkerPool {
	return &WorkerPool{
		lg:    lg,
		auth:  auth,
		keys:  keys,
		sched: sched,
		jobs:  jobs,
		bus:   bus,
		pull:  make(chan workItem, queueDepth),
	}
}

// Submit enqueues a frame for processing. It blocks if every worker and
// the queue are saturated; callers on the hot path should select against
// ctx.Done() alongside this send.
func (wp *WorkerPool) Submit(item workItem) { wp.pull <- item }

// Run starts count workers and blocks until ctx is done, respawning any
// worker whose goroutine panics.
func (wp *WorkerPool) Run(ctx context.Context, count int) {
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		go wp.supervise(ctx, i)
	}
	<-ctx.Done()
}

func (wp *WorkerPool) supervise(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if wp.runOne(ctx, id) {
			return
		}
		wp.lg.Warn("worker crashed, respawning", zap.Int("worker_id", id))
	}
}

// runOne runs the worker loop until ctx is done (returns true, clean
// exit) or a handler panics (returns false, the supervisor respawns it).
func (wp *WorkerPool) runOne(ctx context.Context, id int) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			wp.lg.Error("worker panic", zap.Int("worker_id", id), zap.Any("recover", r))
			clean = false
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		case item := <-wp.pull:
			wp.handle(item)
		}
	}
}

func (wp *WorkerPool) handle(item workItem) {
	f := item.frame
	switch f.Kind {
	case transport.KindAuthRequest:
		wp.handleAuth(f, item.respCh)
	case transport.KindSessionRotate:
		wp.handleRotate(f, item.respCh)
	case transport.KindReturn:
		wp.handleReturn(f, item.peer)
	case transport.KindPing:
		select {
		case item.respCh <- &transport.Frame{Kind: transport.KindPong}:
		default:
		}
	default:
		wp.lg.Warn("worker received unhandled frame kind", zap.String("kind", string(f.Kind)))
	}
}

func (wp *WorkerPool) handleAuth(f *transport.Frame, respCh chan<- *transport.Frame) {
	var req types.ConnectRequest
	if err := transport.DecodeBody(f.Body, &req); err != nil {
		wp.reject(respCh, err)
		return
	}
	resp, err := wp.auth.Connect(&req)
	wp.respondConnect(respCh, resp, err)
}

func (wp *WorkerPool) handleRotate(f *transport.Frame, respCh chan<- *transport.Frame) {
	var req struct {
		MinionId string `msgpack:"minion_id"`
	}
	if err := transport.DecodeBody(f.Body, &req); err != nil {
		wp.reject(respCh, err)
		return
	}
	resp, err := wp.auth.Rotate(req.MinionId)
	wp.respondConnect(respCh, resp, err)
}

func (wp *WorkerPool) respondConnect(respCh chan<- *transport.Frame, resp *types.ConnectResponse, err error) {
	if err != nil && resp == nil {
		wp.reject(respCh, err)
		return
	}
	body, encErr := transport.EncodeBody(resp)
	if encErr != nil {
		wp.reject(respCh, encErr)
		return
	}
	select {
	case respCh <- &transport.Frame{Kind: transport.KindAuthResponse, Body: body}:
	default:
	}
}

func (wp *WorkerPool) reject(respCh chan<- *transport.Frame, err error) {
	body, _ := transport.EncodeBody(map[string]string{"error": err.Error()})
	select {
	case respCh <- &transport.Frame{Kind: transport.KindAuthResponse, Body: body}:
	default:
	}
}

// handleReturn decodes a minion's already-decrypted return (the session-key
// AEAD open plus nonce-replay check happen in the request server before
// the frame reaches a worker; by the time it's here the CallResponse
// body is already authentic plaintext), then fans it out: to the job
// cache for durability, and onto the event bus tagged "jid/ret/<jid>" for
// any client job tracker awaiting it (spec.md §4.9).
func (wp *WorkerPool) handleReturn(f *transport.Frame, peer string) {
	var resp types.CallResponse
	if err := transport.DecodeBody(f.Body, &resp); err != nil {
		wp.lg.Warn("malformed return frame", zap.String("peer", peer), zap.Error(err))
		return
	}

	item := &types.ReportItem{
		MinionId:   resp.MinionId,
		Success:    resp.Success,
		Result:     resp.Result,
		Payload:    resp.Payload,
		Error:      resp.Error,
		ReceivedAt: time.Now(),
	}
	if err := wp.jobs.PutReturn(resp.Jid, item); err != nil {
		wp.lg.Error("persist return failed", zap.String("jid", resp.Jid), zap.Error(err))
	}

	data, err := transport.EncodeBody(item)
	if err != nil {
		wp.lg.Error("encode return event failed", zap.Error(err))
		return
	}
	wp.bus.Publish(types.Event{
		Tag:  fmt.Sprintf("jid/ret/%s", resp.Jid),
		Type: types.EventReturn,
		Data: data,
		Ts:   time.Now(),
	})
}
