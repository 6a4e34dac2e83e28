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
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/macofab/macod/pkg/eventbus"
	genericserver "github.com/macofab/macod/pkg/server"
)

// Master wires every master-side component together: key store, auth
// state machine, publisher, request server, worker pool, job cache and
// admin HTTP surface, following the "separate process" language of
// spec.md §2 at the granularity a single Go binary can give it honestly
// (see SPEC_FULL.md §0) — each component is its own goroutine-driven
// sub-server sharing only the key store, the event bus and the job
// cache, cooperatively shut down via the teacher's embedServer scaffold.
type Master struct {
	genericserver.IEmbedServer

	cfg  *Config
	lg   *zap.Logger
	keys *KeyStore
	auth *AuthServer
	pub  *Publisher
	req  *RequestServer
	pool *WorkerPool
	jobs *JobCache
	bus  *eventbus.Ingress

	admin    *Admin
	adminSrv *http.Server
}

func NewMaster(cfg *Config) (*Master, error) {
	lg := cfg.Logger()

	bus, egress := eventbus.New()

	keys, err := NewKeyStore(cfg.KeysDir(), lg, bus)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	jobs, err := NewJobCache(cfg.JobsDir(), cfg.JobIndexDir(), lg, cfg.JobCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("open job cache: %w", err)
	}

	auth := NewAuthServer(keys, lg, cfg.SessionRotate, cfg.AutoSign)
	pub := NewPublisher(lg, keys, cfg.TLS(), bus)
	sched := NewScheduler(pub)
	pool := NewWorkerPool(lg, auth, keys, sched, jobs, bus, 1024)
	req := NewRequestServer(lg, auth, sched, jobs, pub, pool, egress, bus, cfg.TLS(), cfg.PublishACL)
	admin := NewAdmin(lg, keys, egress)

	m := &Master{
		IEmbedServer: genericserver.NewEmbedServer(lg),
		cfg:          cfg,
		lg:           lg,
		keys:         keys,
		auth:         auth,
		pub:          pub,
		req:          req,
		pool:         pool,
		jobs:         jobs,
		bus:          bus,
		admin:        admin,
		adminSrv:     &http.Server{Addr: cfg.AdminAddr, Handler: admin.Router()},
	}
	return m, nil
}

// Start launches every sub-server as a supervised goroutine and blocks
// until ctx is done or the embedded server's stop channel fires.
func (m *Master) Start(ctx context.Context) error {
	m.lg.Info("starting macod master",
		zap.String("publish_addr", m.cfg.PublishAddr),
		zap.String("request_addr", m.cfg.RequestAddr),
		zap.String("admin_addr", m.cfg.AdminAddr))

	m.GoAttach(func() {
		if err := m.pub.Serve(ctx, m.cfg.PublishAddr); err != nil {
			m.lg.Error("publisher stopped", zap.Error(err))
		}
	})
	m.GoAttach(func() {
		if err := m.req.Serve(ctx, m.cfg.RequestAddr); err != nil {
			m.lg.Error("request server stopped", zap.Error(err))
		}
	})
	m.GoAttach(func() {
		m.pool.Run(ctx, m.cfg.WorkerCount)
	})
	m.GoAttach(func() {
		if err := m.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.lg.Error("admin server stopped", zap.Error(err))
		}
	})
	m.GoAttach(func() {
		m.reapLoop(ctx)
	})

	m.Destroy(func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.adminSrv.Shutdown(shutCtx)
		if err := m.jobs.Close(); err != nil {
			m.lg.Error("close job cache", zap.Error(err))
		}
	})

	<-ctx.Done()
	return m.Shutdown(context.Background())
}

func (m *Master) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.StoppingNotify():
			return
		case now := <-ticker.C:
			n, err := m.jobs.Reap(now)
			if err != nil {
				m.lg.Error("job cache reap failed", zap.Error(err))
				continue
			}
			if n > 0 {
				m.lg.Info("reaped expired job cache entries", zap.Int("count", n))
			}
		}
	}
}
