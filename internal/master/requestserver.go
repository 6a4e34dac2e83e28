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
	"encoding/binary"
	"net"
	"time"

	"go.uber.org/zap"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/eventbus"
	"github.com/macofab/macod/pkg/pemutil"
)

// RequestServer is the unicast half of the master (spec.md §4.5): one TCP
// listener demultiplexing auth_request/session_rotate/return frames from
// minions, and submit frames from local clients, onto the worker pool's
// pull channel. It mirrors the teacher's internal/server/grpc_internal.go
// Dispatch demux loop over raw frames instead of a gRPC stream.
//
// Publish admission (resolving targets, persisting the job, authorizing
// the user, firing jid/new, signing and broadcasting) is handled here
// rather than by a worker: spec.md §4.6 describes it as a worker-pool
// case, but doing so would mean either handing workers the publisher's
// connection table and the submitting client's own net.Conn (breaking
// "workers share no in-memory state"), or bouncing the ack and the whole
// jid/ret/* stream back through the pool for every byte. Keeping it on
// the same demux goroutine that already owns the client connection reads
// identically to how handleReturnFrame keeps the session AEAD open here
// instead of in a worker. Both this and the request-frame bus access
// needed for jid/new are documented in DESIGN.md.
type RequestServer struct {
	lg      *zap.Logger
	auth    *AuthServer
	sched   *Scheduler
	jobs    *JobCache
	pub     *Publisher
	pool    *WorkerPool
	bus     *eventbus.Egress
	ingress *eventbus.Ingress
	tls     transport.TLSConfig
	acl     map[string]struct{}

	respTimeout time.Duration
}

func NewRequestServer(lg *zap.Logger, auth *AuthServer, sched *Scheduler, jobs *JobCache, pub *Publisher, pool *WorkerPool, bus *eventbus.Egress, ingress *eventbus.Ingress, tlsCfg transport.TLSConfig, publishACL []string) *RequestServer {
	var acl map[string]struct{}
	if len(publishACL) > 0 {
		acl = make(map[string]struct{}, len(publishACL))
		for _, u := range publishACL {
			acl[u] = struct{}{}
		}
	}
	return &RequestServer{
		lg:          lg,
		auth:        auth,
		sched:       sched,
		jobs:        jobs,
		pub:         pub,
		pool:        pool,
		bus:         bus,
		ingress:     ingress,
		tls:         tlsCfg,
		acl:         acl,
		respTimeout: 10 * time.Second,
	}
}

// authorized reports whether user may submit a publish. An empty ACL
// (the default: publish_acl unset) admits every user — spec.md §4.6
// requires the authorization step to exist, not that every deployment
// configure one. A configured ACL is a simple allowlist keyed by the
// credential the client sent; req.User is blank for anonymous clients,
// so a non-empty ACL implicitly excludes them.
func (rs *RequestServer) authorized(user string) bool {
	if len(rs.acl) == 0 {
		return true
	}
	_, ok := rs.acl[user]
	return ok
}

func (rs *RequestServer) Serve(ctx context.Context, addr string) error {
	ln, err := transport.Listen(addr, rs.tls)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			rs.lg.Warn("request server accept failed", zap.Error(err))
			continue
		}
		go rs.handleConn(ctx, conn)
	}
}

func (rs *RequestServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var minionId string
	for {
		f, err := transport.ReadFrame(conn)
		if err != nil {
			if minionId != "" {
				rs.auth.Forget(minionId)
			}
			return
		}

		switch f.Kind {
		case transport.KindAuthRequest:
			var req types.ConnectRequest
			if err := transport.DecodeBody(f.Body, &req); err == nil {
				minionId = req.MinionId
			}
			rs.dispatchSync(conn, f)

		case transport.KindSessionRotate:
			rs.dispatchSync(conn, f)

		case transport.KindReturn:
			rs.handleReturnFrame(minionId, f)

		case transport.KindSubmit:
			rs.handleSubmit(ctx, conn, f)

		case transport.KindPing:
			_ = transport.WriteFrame(conn, &transport.Frame{Kind: transport.KindPong})

		default:
			rs.lg.Warn("request server: unhandled frame kind", zap.String("kind", string(f.Kind)))
		}
	}
}

// dispatchSync submits an auth/rotate frame to the worker pool and writes
// whatever the pool replies with straight back onto the connection,
// honoring respTimeout so one slow worker cannot wedge the listener.
func (rs *RequestServer) dispatchSync(conn net.Conn, f *transport.Frame) {
	respCh := make(chan *transport.Frame, 1)
	rs.pool.Submit(workItem{frame: f, respCh: respCh})

	select {
	case resp := <-respCh:
		if err := transport.WriteFrame(conn, resp); err != nil {
			rs.lg.Debug("request server write failed", zap.Error(err))
		}
	case <-time.After(rs.respTimeout):
		rs.lg.Warn("worker pool did not respond in time", zap.String("kind", string(f.Kind)))
	}
}

// handleReturnFrame authenticates a minion's return in place: the AEAD
// open and nonce-replay check happen here, on the connection that already
// knows which minion_id it belongs to, so the worker pool never has to
// carry session state (spec.md §4.6 "workers share no in-memory state").
//
// A return sealed just before session_rotate swapped the minion's key can
// arrive after the swap, so every key still inside the grace window
// (AuthServer.SessionCandidates, newest first) is tried in turn. Each
// trial opens with tracker=nil: SessionKey.Open calls tracker.Accept
// before it even attempts the AEAD decrypt, so sharing the real tracker
// across trials would advance a wrong candidate's nonce high-water mark
// on every failed attempt. Only once a candidate's AEAD decrypt actually
// succeeds is the real replay check run, against that candidate alone.
func (rs *RequestServer) handleReturnFrame(minionId string, f *transport.Frame) {
	if minionId == "" {
		rs.lg.Warn("return frame on unidentified connection, dropping")
		return
	}
	candidates := rs.auth.SessionCandidates(minionId)
	if len(candidates) == 0 {
		rs.lg.Warn("return frame from minion with no session", zap.String("minion_id", minionId))
		return
	}

	var matched *pemutil.SessionKey
	var plaintext []byte
	for _, sk := range candidates {
		pt, err := sk.Open(pemutil.MinionToMaster, f.Nonce, f.Body, []byte(minionId), nil)
		if err == nil {
			matched, plaintext = sk, pt
			break
		}
	}
	if matched == nil {
		rs.lg.Warn("return decrypt failed against every candidate session", zap.String("minion_id", minionId))
		return
	}

	if len(f.Nonce) != 8 {
		rs.lg.Warn("malformed return nonce", zap.String("minion_id", minionId))
		return
	}
	counter := binary.BigEndian.Uint64(f.Nonce)
	if !rs.auth.Tracker().Accept(matched.ID, pemutil.MinionToMaster, counter) {
		rs.lg.Warn("replay detected on return", zap.String("minion_id", minionId))
		return
	}

	rs.pool.Submit(workItem{frame: &transport.Frame{Kind: transport.KindReturn, Body: plaintext}, peer: minionId})
}

// handleSubmit admits a local client's job: authorizes the submitting
// user, resolves the target expression against currently connected
// minions, persists the job record, fires a "jid/new" event ahead of the
// broadcast (spec.md §4.6, and §8 scenario test 1's ordering requirement
// that jid/new precede every jid/ret/<jid> for the same job), broadcasts
// the signed publish envelope, acknowledges the client with the assigned
// jid and target set, then streams every matching "jid/ret/<jid>" event
// back over the same connection until ttl elapses (spec.md §4.9's
// client-side deadline-bounded collection reads this stream and applies
// its own gather_mode).
func (rs *RequestServer) handleSubmit(ctx context.Context, conn net.Conn, f *transport.Frame) {
	var req types.CallRequest
	if err := transport.DecodeBody(f.Body, &req); err != nil {
		rs.writeSubmitError(conn, err)
		return
	}

	if !rs.authorized(req.User) {
		rs.writeSubmitError(conn, apiErr.NewUnauthorizedPublish("user "+req.User+" is not permitted to publish"))
		return
	}

	targets, err := rs.sched.Resolve(req.TargetExpr, req.TargetKind)
	if err != nil {
		rs.writeSubmitError(conn, err)
		return
	}

	now := time.Now()
	job := &types.Job{
		Jid:         NewJid(now),
		TargetExpr:  req.TargetExpr,
		TargetKind:  req.TargetKind,
		Fn:          req.Fn,
		Args:        req.Args,
		Kwargs:      req.Kwargs,
		User:        req.User,
		Timeout:     req.Ttl,
		SubmittedAt: now,
	}
	if err := rs.jobs.Put(job); err != nil {
		rs.writeSubmitError(conn, err)
		return
	}

	rs.fireJidNew(job, targets)

	req.Jid = job.Jid
	if err := rs.pub.Broadcast(targets, &req); err != nil {
		rs.writeSubmitError(conn, err)
		return
	}

	ackBody, err := transport.EncodeBody(struct {
		Jid     string   `msgpack:"jid"`
		Targets []string `msgpack:"targets"`
	}{Jid: job.Jid, Targets: targets})
	if err != nil {
		rs.writeSubmitError(conn, err)
		return
	}
	if err := transport.WriteFrame(conn, &transport.Frame{Kind: transport.KindSubmitAck, Body: ackBody}); err != nil {
		return
	}

	rs.streamReturns(ctx, conn, job.Jid, req.Ttl)
}

// fireJidNew publishes the job-admitted event. The tag is the bare
// "jid/new" spec.md §4.6 names, not a per-jid suffix like jid/ret/<jid>
// uses: jid/new announces that a jid now exists at all, so a tracker
// that hasn't learned the jid yet (the whole point of the event) still
// needs to be subscribed to it before the jid is known. The jid and
// target list travel in Data instead.
func (rs *RequestServer) fireJidNew(job *types.Job, targets []string) {
	if rs.ingress == nil {
		return
	}
	data, err := transport.EncodeBody(struct {
		Jid     string   `msgpack:"jid"`
		Fn      string   `msgpack:"fn"`
		User    string   `msgpack:"user"`
		Targets []string `msgpack:"targets"`
	}{Jid: job.Jid, Fn: job.Fn, User: job.User, Targets: targets})
	if err != nil {
		rs.lg.Warn("encode jid/new event failed", zap.Error(err))
		return
	}
	rs.ingress.Publish(types.Event{
		Tag:  "jid/new",
		Type: types.EventPublish,
		Data: data,
		Ts:   time.Now(),
	})
}

func (rs *RequestServer) streamReturns(ctx context.Context, conn net.Conn, jid string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	id, ch := rs.bus.Subscribe("jid/ret/"+jid, eventbus.DefaultBacklog)
	defer rs.bus.Unsubscribe(id)

	deadline := time.After(ttl)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			body, err := transport.EncodeBody(ev)
			if err != nil {
				continue
			}
			if err := transport.WriteFrame(conn, &transport.Frame{Kind: transport.KindEvent, Body: body}); err != nil {
				return
			}
		}
	}
}

func (rs *RequestServer) writeSubmitError(conn net.Conn, err error) {
	apiError := apiErr.Parse(err)
	body, encErr := transport.EncodeBody(apiError)
	if encErr != nil {
		return
	}
	_ = transport.WriteFrame(conn, &transport.Frame{Kind: transport.KindSubmitAck, Body: body})
}
