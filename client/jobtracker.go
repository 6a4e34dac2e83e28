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

package client

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
)

// JobTracker collects the event_kind frames a Call's connection keeps
// receiving after its submit_ack, applying the caller's gather_mode to
// decide when the collected set counts as done. The master itself is
// oblivious to gather_mode (internal/master/requestserver.go streams
// every return unconditionally); this is purely a client-side read of
// that stream, per spec.md §4.9.
type JobTracker struct {
	conn    net.Conn
	jid     string
	targets []string
	ttl     time.Duration
}

func newJobTracker(conn net.Conn, jid string, targets []string, ttl time.Duration) *JobTracker {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &JobTracker{conn: conn, jid: jid, targets: targets, ttl: ttl}
}

func (jt *JobTracker) Jid() string       { return jt.jid }
func (jt *JobTracker) Targets() []string { return jt.targets }
func (jt *JobTracker) Close() error      { return jt.conn.Close() }

// Collect drains the connection until mode's stopping condition fires,
// ctx is cancelled, or the job's ttl elapses, whichever comes first:
//
//   - GatherList: drains for the full ttl regardless of how many targets
//     have already answered, for a caller that wants every return as it
//     trickles in rather than an early cutoff.
//   - GatherBatch, GatherFailOnAnyMissing: stops as soon as every
//     targeted minion has reported, instead of waiting out the ttl.
//
// Either way, Report.Missing/Complete reflect whatever was actually
// outstanding when Collect stopped, so a caller using GatherFailOnAnyMissing
// can treat a non-empty Missing list as the failure signal spec.md §4.9
// describes.
func (jt *JobTracker) Collect(ctx context.Context, mode types.GatherMode) (*types.Report, error) {
	defer jt.conn.Close()

	deadline := time.Now().Add(jt.ttl)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = jt.conn.SetReadDeadline(deadline)

	items := make(map[string]*types.ReportItem, len(jt.targets))
	remaining := make(map[string]bool, len(jt.targets))
	for _, id := range jt.targets {
		remaining[id] = true
	}

	for {
		select {
		case <-ctx.Done():
			return jt.report(items, remaining, mode), nil
		default:
		}

		f, err := transport.ReadFrame(jt.conn)
		if err != nil {
			return jt.report(items, remaining, mode), nil
		}
		if f.Kind != transport.KindEvent {
			continue
		}

		var ev types.Event
		if err := transport.DecodeBody(f.Body, &ev); err != nil {
			continue
		}
		var resp types.CallResponse
		if err := transport.DecodeBody(ev.Data, &resp); err != nil {
			continue
		}

		items[resp.MinionId] = &types.ReportItem{
			MinionId:   resp.MinionId,
			Success:    resp.Success,
			Result:     resp.Result,
			Payload:    resp.Payload,
			Error:      resp.Error,
			ReceivedAt: ev.Ts,
		}
		delete(remaining, resp.MinionId)

		if mode != types.GatherList && len(remaining) == 0 {
			return jt.report(items, remaining, mode), nil
		}
	}
}

func (jt *JobTracker) report(items map[string]*types.ReportItem, remaining map[string]bool, mode types.GatherMode) *types.Report {
	missing := make([]string, 0, len(remaining))
	for id := range remaining {
		missing = append(missing, id)
	}
	sort.Strings(missing)

	return &types.Report{
		Jid:        jt.jid,
		Items:      items,
		Missing:    missing,
		Complete:   len(missing) == 0,
		GatherMode: mode,
	}
}
