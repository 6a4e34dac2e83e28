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
	"strings"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
)

// Scheduler resolves a target expression against the set of currently
// connected, accepted minions. It replaces the teacher's gRPC-stream
// pipe/task matching with a pure function over the publisher's connection
// table: a publish only ever reaches a minion that is both accepted and
// already holding an open subscribe connection (spec.md §4.9: "minions
// that connect after publish do not join the set").
type Scheduler struct {
	pub *Publisher
}

func NewScheduler(pub *Publisher) *Scheduler {
	return &Scheduler{pub: pub}
}

// Resolve expands targetExpr/targetKind into the connected minion_ids the
// publisher delivers to. The master only ever knows a connected minion's
// minion_id, never its grains or pillar data, so resolution is exact for
// TargetList and TargetGlob (spec.md §3's two id-shaped kinds) but cannot
// be for TargetGrain/TargetCompound: those are sent to every connected,
// accepted minion, each of which evaluates the same expression against its
// own local identity facts and discards the call if it doesn't match
// (spec.md §4.4: "the publisher is stateless with respect to targeting ...
// relies on each minion to decide relevance"; §9: "an opaque string plus
// kind that the minion evaluates locally against its own identity facts").
// The expression is still parsed with types.ParseSelection so a malformed
// one is rejected at submit time instead of silently reaching every minion.
func (s *Scheduler) Resolve(targetExpr string, kind types.TargetKind) ([]string, error) {
	connected := s.pub.ConnectedIds()

	switch kind {
	case types.TargetList:
		want := splitList(targetExpr)
		wantSet := make(map[string]bool, len(want))
		for _, id := range want {
			wantSet[id] = true
		}
		out := make([]string, 0, len(want))
		for _, id := range connected {
			if wantSet[id] {
				out = append(out, id)
			}
		}
		return out, nil
	case types.TargetGlob:
		if targetExpr == "*" {
			return connected, nil
		}
		opts, err := types.NewSelectionOptions(types.WithHosts(targetExpr))
		if err != nil {
			return nil, apiErr.NewBadRequest(err.Error())
		}
		return s.matchAll(opts, connected), nil
	case types.TargetGrain, types.TargetCompound:
		if _, err := types.ParseSelection(targetExpr); err != nil {
			return nil, apiErr.NewBadRequest(err.Error())
		}
		return connected, nil
	default:
		return nil, apiErr.NewBadRequest("unknown target_kind")
	}
}

func (s *Scheduler) matchAll(opts *types.SelectionOptions, connected []string) []string {
	out := make([]string, 0, len(connected))
	for _, id := range connected {
		target := &types.Minion{MinionId: id}
		matched, _ := opts.MatchTarget(target, true)
		if matched {
			out = append(out, id)
		}
	}
	return out
}

func splitList(expr string) []string {
	parts := strings.Split(expr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
