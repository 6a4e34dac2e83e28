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

package minion

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/eventbus"
	"github.com/macofab/macod/pkg/pemutil"
	genericserver "github.com/macofab/macod/pkg/server"
)

var (
	errNotAccepted = errors.New("minion: key not accepted by master")
	// errRejected and errDenied are fatal: the master has made a decision
	// about this minion_id's key that retrying will not change (spec.md
	// §4.7, §8 scenario 3 "minion halts, does not keep retrying"). Every
	// other connect outcome is transient and left to Start's normal
	// reconnect-with-backoff loop.
	errRejected = errors.New("minion: key rejected by master")
	errDenied   = errors.New("minion: key denied by master (public key mismatch)")
)

// fatalAuthErr reports whether err should stop the reconnect loop outright
// instead of retrying.
func fatalAuthErr(err error) bool {
	return errors.Is(err, errRejected) || errors.Is(err, errDenied)
}

// Minion is the minion-side counterpart to internal/master.Master: it
// replaces the teacher's single gRPC client.Client with two long-lived
// raw-frame connections (publisher subscribe, request-server return
// channel) and a local Executor pool, wired the way the master wires its
// own sub-servers (see internal/master/server.go).
type Minion struct {
	genericserver.IEmbedServer

	cfg *Config
	lg  *zap.Logger

	keys *pemutil.RsaPair

	masterPubKey atomic.Pointer[[]byte]

	sessionMu sync.RWMutex
	session   *pemutil.SessionKey
	sendCtr   uint64

	reqMu   sync.Mutex
	reqConn net.Conn

	exec   *Executor
	egress *eventbus.Egress
}

// NewMinion loads or generates this minion's long-lived RSA keypair and
// wires its local executor pool. It does not dial the master; call
// Start for that.
func NewMinion(cfg *Config) (*Minion, error) {
	lg := cfg.Logger()

	keys, err := loadOrGenerateMinionKeys(cfg.PrivateKeyPath(), cfg.PublicKeyPath())
	if err != nil {
		return nil, err
	}

	ingress, egress := eventbus.New()
	exec := NewExecutor(lg, ShellRunner{}, ingress, cfg.ExecutorConcurrency)

	return &Minion{
		IEmbedServer: genericserver.NewEmbedServer(lg),
		cfg:    cfg,
		lg:     lg,
		keys:   keys,
		exec:   exec,
		egress: egress,
	}, nil
}

func loadOrGenerateMinionKeys(privPath, pubPath string) (*pemutil.RsaPair, error) {
	privBytes, errPriv := os.ReadFile(privPath)
	pubBytes, errPub := os.ReadFile(pubPath)
	if errPriv == nil && errPub == nil {
		return &pemutil.RsaPair{Private: privBytes, Public: pubBytes}, nil
	}
	if errPriv != nil && !os.IsNotExist(errPriv) {
		return nil, errPriv
	}
	if errPub != nil && !os.IsNotExist(errPub) {
		return nil, errPub
	}
	pair, err := pemutil.GenerateRSA(2048, "")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(privPath, pair.Private, 0600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, pair.Public, 0644); err != nil {
		return nil, err
	}
	return pair, nil
}

// Start runs the handshake-then-serve loop until ctx is done: it
// reconnects and re-authenticates with backoff whenever either
// connection drops, so a master restart or network blip is transparent
// to the caller (spec.md §9 "minion reconnects and re-authenticates
// automatically").
func (m *Minion) Start(ctx context.Context) error {
	m.GoAttach(func() {
		m.returnSender(ctx)
	})

	for {
		select {
		case <-ctx.Done():
			return m.Shutdown(context.Background())
		default:
		}

		if err := m.runSession(ctx); err != nil {
			m.lg.Warn("minion session ended", zap.Error(err))
			if fatalAuthErr(err) {
				m.lg.Error("master will not accept this key, stopping", zap.Error(err))
				return m.Shutdown(context.Background())
			}
		}

		select {
		case <-ctx.Done():
			return m.Shutdown(context.Background())
		case <-time.After(m.cfg.ReconnectBackoff):
		}
	}
}

// runSession performs one full handshake + publish-subscribe cycle. It
// returns when either connection fails, letting Start retry from a
// clean slate.
func (m *Minion) runSession(ctx context.Context) error {
	reqConn, err := transport.Dial(m.cfg.RequestAddr(), m.cfg.TLS(), m.cfg.DialTimeout)
	if err != nil {
		return err
	}
	defer reqConn.Close()

	if err := m.authenticate(reqConn); err != nil {
		return err
	}

	m.reqMu.Lock()
	m.reqConn = reqConn
	m.reqMu.Unlock()
	defer func() {
		m.reqMu.Lock()
		m.reqConn = nil
		m.reqMu.Unlock()
	}()

	pubConn, err := transport.Dial(m.cfg.PublishAddr(), m.cfg.TLS(), m.cfg.DialTimeout)
	if err != nil {
		return err
	}
	defer pubConn.Close()

	subBody, err := transport.EncodeBody(struct {
		MinionId string `msgpack:"minion_id"`
	}{MinionId: m.cfg.MinionId})
	if err != nil {
		return err
	}
	if err := transport.WriteFrame(pubConn, &transport.Frame{Kind: transport.KindAuthRequest, Body: subBody}); err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- m.readReqLoop(reqConn) }()
	go func() { errCh <- m.readPubLoop(pubConn) }()
	go m.keepalive(sctx, reqConn, pubConn)
	go m.rotateLoop(sctx, reqConn)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// authenticate runs the ConnectRequest/ConnectResponse handshake over
// reqConn and, on success, stores the minted session key and the
// master's long-lived public key.
func (m *Minion) authenticate(reqConn net.Conn) error {
	req := &types.ConnectRequest{
		MinionId:  m.cfg.MinionId,
		PublicKey: m.keys.Public,
	}
	body, err := transport.EncodeBody(req)
	if err != nil {
		return err
	}
	if err := transport.WriteFrame(reqConn, &transport.Frame{Kind: transport.KindAuthRequest, Body: body}); err != nil {
		return err
	}

	f, err := transport.ReadFrame(reqConn)
	if err != nil {
		return err
	}
	var resp types.ConnectResponse
	if err := transport.DecodeBody(f.Body, &resp); err != nil {
		return err
	}
	return m.applyConnectResponse(&resp)
}

func (m *Minion) applyConnectResponse(resp *types.ConnectResponse) error {
	switch resp.State {
	case types.Accepted, types.AutoSign:
	case types.Rejected:
		m.lg.Error("minion key rejected by master")
		return errRejected
	case types.Denied:
		m.lg.Error("minion key denied by master: a different key is already on file for this minion_id")
		return errDenied
	default:
		m.lg.Info("minion not yet accepted", zap.String("state", string(resp.State)))
		return errNotAccepted
	}

	plaintext, err := pemutil.DecodeByRSA(resp.EncryptedSession, m.keys.Private)
	if err != nil {
		return err
	}
	sk := &pemutil.SessionKey{ID: resp.SessionKeyId}
	copy(sk.Key[:], plaintext)

	pub := resp.MasterPublicKey

	m.sessionMu.Lock()
	m.session = sk
	atomic.StoreUint64(&m.sendCtr, 0)
	m.sessionMu.Unlock()
	m.masterPubKey.Store(&pub)

	m.lg.Info("minion authenticated", zap.String("session_key_id", sk.ID))
	return nil
}

// readReqLoop drains the request-server connection for anything pushed
// back outside of a direct reply (session-rotate acks, pong).
func (m *Minion) readReqLoop(conn net.Conn) error {
	for {
		f, err := transport.ReadFrame(conn)
		if err != nil {
			return err
		}
		switch f.Kind {
		case transport.KindAuthResponse:
			var resp types.ConnectResponse
			if err := transport.DecodeBody(f.Body, &resp); err == nil {
				if applyErr := m.applyConnectResponse(&resp); fatalAuthErr(applyErr) {
					return applyErr
				}
			}
		case transport.KindPong:
		}
	}
}

// readPubLoop consumes signed publish envelopes: verify, decode, decide
// relevance, spawn.
func (m *Minion) readPubLoop(conn net.Conn) error {
	for {
		f, err := transport.ReadFrame(conn)
		if err != nil {
			return err
		}
		switch f.Kind {
		case transport.KindPublish:
			m.handlePublish(f)
		case transport.KindPong:
		}
	}
}

func (m *Minion) handlePublish(f *transport.Frame) {
	pubKeyPtr := m.masterPubKey.Load()
	if pubKeyPtr == nil {
		return
	}
	if err := pemutil.Verify(*pubKeyPtr, f.Body, f.Signature); err != nil {
		m.lg.Warn("publish signature verification failed", zap.Error(err))
		return
	}

	var req types.CallRequest
	if err := transport.DecodeBody(f.Body, &req); err != nil {
		m.lg.Warn("malformed publish body", zap.Error(err))
		return
	}

	if !m.targeted(&req) {
		return
	}
	m.exec.Spawn(m.cfg.MinionId, &req)
}

// targeted decides relevance for target kinds the master could not
// resolve itself (grain/compound): list and glob targeting is already
// exact by the time a publish reaches this connection, since the master
// only delivers to minion_ids it resolved from its own connection table
// (internal/master/scheduler.go's Resolve).
func (m *Minion) targeted(req *types.CallRequest) bool {
	switch req.TargetKind {
	case types.TargetGrain, types.TargetCompound:
		opts, err := types.ParseSelection(req.TargetExpr)
		if err != nil {
			m.lg.Warn("malformed target expression, dropping", zap.Error(err))
			return false
		}
		self := &types.Minion{
			MinionId:   m.cfg.MinionId,
			HostGroups: m.cfg.HostGroups,
			GrainsData: m.cfg.Grains,
		}
		// simple=false: unlike the master's bare connection-table records,
		// this minion actually has its own grains/pillar data to evaluate
		// against (MatchTarget's simple mode exists only for callers that
		// don't).
		matched, _ := opts.MatchTarget(self, false)
		return matched
	default:
		return true
	}
}

// returnSender drains the executor pool's "job/" event stream and seals
// every terminal CallResponse back to the master over the request-server
// connection, incrementing the per-session send counter for each message
// (spec.md §3: "a safe implementation ... a monotonic per-(key_id,
// direction) counter").
func (m *Minion) returnSender(ctx context.Context) {
	id, ch := m.egress.Subscribe("job/", eventbus.DefaultBacklog)
	defer m.egress.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != types.EventReturn {
				continue
			}
			m.sendReturn(ev.Data)
		}
	}
}

func (m *Minion) sendReturn(plaintext []byte) {
	m.sessionMu.RLock()
	sk := m.session
	m.sessionMu.RUnlock()
	if sk == nil {
		m.lg.Warn("dropping return: no active session")
		return
	}

	counter := atomic.AddUint64(&m.sendCtr, 1)
	ciphertext, counterBytes, err := sk.Seal(pemutil.MinionToMaster, counter, plaintext, []byte(m.cfg.MinionId))
	if err != nil {
		m.lg.Error("seal return failed", zap.Error(err))
		return
	}

	m.reqMu.Lock()
	conn := m.reqConn
	m.reqMu.Unlock()
	if conn == nil {
		m.lg.Warn("dropping return: no active request connection")
		return
	}
	f := &transport.Frame{Kind: transport.KindReturn, Body: ciphertext, Nonce: counterBytes}
	if err := transport.WriteFrame(conn, f); err != nil {
		m.lg.Warn("write return failed", zap.Error(err))
	}
}

func (m *Minion) keepalive(ctx context.Context, reqConn, pubConn net.Conn) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = transport.WriteFrame(reqConn, &transport.Frame{Kind: transport.KindPing})
			_ = transport.WriteFrame(pubConn, &transport.Frame{Kind: transport.KindPing})
		}
	}
}

// rotateLoop periodically asks the master for a fresh session key over
// the request connection, well inside the master's own rotation
// interval, so a minion's session never goes stale between pings.
func (m *Minion) rotateLoop(ctx context.Context, reqConn net.Conn) {
	ticker := time.NewTicker(m.cfg.SessionRotate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body, err := transport.EncodeBody(struct {
				MinionId string `msgpack:"minion_id"`
			}{MinionId: m.cfg.MinionId})
			if err != nil {
				continue
			}
			if err := transport.WriteFrame(reqConn, &transport.Frame{Kind: transport.KindSessionRotate, Body: body}); err != nil {
				m.lg.Warn("session rotate request failed", zap.Error(err))
				return
			}
		}
	}
}
