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
	"net"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/eventbus"
	"github.com/macofab/macod/pkg/pemutil"
)

// pubConn is one minion's long-lived publisher connection: a goroutine
// draining outCh onto the socket. A connection enters the connection
// table, and so receives publishes, only after it sends an auth_request
// frame naming a minion_id whose key is accepted or auto-signed; until
// then it is answered only with pongs, and a subscribe for a minion_id in
// any other state closes the connection.
type pubConn struct {
	minionId string
	addr     string
	conn     net.Conn
	outCh    chan *transport.Frame

	seenMu   sync.Mutex
	lastSeen time.Time

	cancel context.CancelFunc
}

func (pc *pubConn) touch() {
	pc.seenMu.Lock()
	pc.lastSeen = time.Now()
	pc.seenMu.Unlock()
}

// disconnect closes the underlying socket so handleConn's read loop
// unblocks and runs its own teardown (cancel, conns.Del). A stalled
// minion connection is more dangerous kept open than dropped: one
// behind minion must never be allowed to back up broadcasts meant for
// every other target (spec.md §4.4, §7 "a slow subscriber never blocks
// the publisher").
func (pc *pubConn) disconnect() {
	_ = pc.conn.Close()
}

// Publisher accepts long-lived TCP connections from minions and
// broadcasts signed publish envelopes to every connection bound to an
// accepted minion_id matching the job's target expression (spec.md
// §4.4). The connection table is a lock-free concurrent map so a
// broadcast over thousands of minions never blocks on a single mutex.
type Publisher struct {
	lg      *zap.Logger
	keys    *KeyStore
	tls     transport.TLSConfig
	ingress *eventbus.Ingress

	conns *haxmap.Map[string, *pubConn]

	mu       sync.Mutex
	listener net.Listener
}

func NewPublisher(lg *zap.Logger, keys *KeyStore, tlsCfg transport.TLSConfig, ingress *eventbus.Ingress) *Publisher {
	return &Publisher{
		lg:      lg,
		keys:    keys,
		tls:     tlsCfg,
		ingress: ingress,
		conns:   haxmap.New[string, *pubConn](),
	}
}

// Serve listens on addr and accepts minion publisher connections until
// ctx is done.
func (p *Publisher) Serve(ctx context.Context, addr string) error {
	ln, err := transport.Listen(addr, p.tls)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()

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
			p.lg.Warn("publisher accept failed", zap.Error(err))
			continue
		}
		go p.handleConn(ctx, conn)
	}
}

func (p *Publisher) handleConn(ctx context.Context, conn net.Conn) {
	cctx, cancel := context.WithCancel(ctx)
	pc := &pubConn{
		addr:   conn.RemoteAddr().String(),
		conn:   conn,
		outCh:  make(chan *transport.Frame, 64),
		cancel: cancel,
	}
	pc.touch()

	defer func() {
		cancel()
		_ = conn.Close()
		if pc.minionId != "" {
			p.conns.Del(pc.minionId)
		}
	}()

	go func() {
		for {
			select {
			case <-cctx.Done():
				return
			case f := <-pc.outCh:
				if err := transport.WriteFrame(conn, f); err != nil {
					p.lg.Debug("publisher write failed", zap.String("addr", pc.addr), zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	for {
		f, err := transport.ReadFrame(conn)
		if err != nil {
			return
		}
		switch f.Kind {
		case transport.KindAuthRequest:
			var id struct {
				MinionId string `msgpack:"minion_id"`
			}
			if err := transport.DecodeBody(f.Body, &id); err != nil || id.MinionId == "" {
				continue
			}
			key, err := p.keys.GetMinionKey(id.MinionId)
			if err != nil || (key.State != types.Accepted && key.State != types.AutoSign) {
				p.lg.Warn("publisher subscribe rejected: minion not accepted", zap.String("minion_id", id.MinionId))
				return
			}
			pc.minionId = id.MinionId
			p.conns.Set(id.MinionId, pc)
		case transport.KindPing:
			pc.touch()
			select {
			case pc.outCh <- &transport.Frame{Kind: transport.KindPong}:
			default:
			}
		}
	}
}

// Connected reports whether minionId currently has an open publisher
// connection.
func (p *Publisher) Connected(minionId string) bool {
	_, ok := p.conns.Get(minionId)
	return ok
}

// ConnectedIds returns every minion_id with an open publisher
// connection, snapshot at call time.
func (p *Publisher) ConnectedIds() []string {
	ids := make([]string, 0)
	p.conns.ForEach(func(id string, _ *pubConn) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Broadcast signs body with the master's long-lived key and delivers it
// to every minion_id in targets that currently has an open connection.
// Minions that connect after this call do not receive it (spec.md §4.9:
// "minions that connect after publish do not join the set").
func (p *Publisher) Broadcast(targets []string, req *types.CallRequest) error {
	body, err := transport.EncodeBody(req)
	if err != nil {
		return err
	}
	sig, err := pemutil.Sign(p.keys.ServerKeys().Private, body)
	if err != nil {
		return err
	}
	f := &transport.Frame{Kind: transport.KindPublish, Body: body, Signature: sig}

	for _, id := range targets {
		pc, ok := p.conns.Get(id)
		if !ok {
			continue
		}
		select {
		case pc.outCh <- f:
		default:
			p.lg.Warn("publisher backlog full, disconnecting minion", zap.String("minion_id", id), zap.String("jid", req.Jid))
			p.fireBackpressureDrop(id, req.Jid)
			pc.disconnect()
		}
	}
	return nil
}

// fireBackpressureDrop announces that a minion's outbound publisher
// queue was full and its connection was dropped rather than grown
// without bound (spec.md §4.4, §7). The minion's own reconnect-and-
// resubscribe loop is what recovers it, not anything on the master side.
func (p *Publisher) fireBackpressureDrop(minionId, jid string) {
	if p.ingress == nil {
		return
	}
	data, err := transport.EncodeBody(struct {
		MinionId string `msgpack:"minion_id"`
		Jid      string `msgpack:"jid"`
	}{MinionId: minionId, Jid: jid})
	if err != nil {
		p.lg.Warn("encode backpressure_drop event failed", zap.Error(err))
		return
	}
	p.ingress.Publish(types.Event{
		Tag:  "backpressure_drop/" + minionId,
		Type: types.EventMinion,
		Data: data,
		Ts:   time.Now(),
	})
}
