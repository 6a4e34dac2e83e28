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
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
)

// testScheduler builds a Scheduler whose Publisher reports connected as
// its connection table, without opening any real sockets.
func testScheduler(t *testing.T, connected ...string) *Scheduler {
	t.Helper()
	ks, err := NewKeyStore(t.TempDir(), zap.NewNop(), nil)
	require.NoError(t, err)
	pub := NewPublisher(zap.NewNop(), ks, transport.TLSConfig{}, nil)
	for _, id := range connected {
		pub.conns.Set(id, &pubConn{minionId: id})
	}
	return NewScheduler(pub)
}

func TestSchedulerResolveList(t *testing.T) {
	s := testScheduler(t, "web-01", "web-02", "db-01")

	ids, err := s.Resolve("web-01,db-01,ghost", types.TargetList)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"db-01", "web-01"}, ids, "only connected ids in the list are resolved")
}

func TestSchedulerResolveGlobAll(t *testing.T) {
	s := testScheduler(t, "web-01", "db-01")

	ids, err := s.Resolve("*", types.TargetGlob)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"db-01", "web-01"}, ids)
}

func TestSchedulerResolveGlobPattern(t *testing.T) {
	s := testScheduler(t, "web-01", "web-02", "db-01")

	ids, err := s.Resolve("web-*", types.TargetGlob)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"web-01", "web-02"}, ids)
}

func TestSchedulerResolveGrainBroadcastsToAllConnected(t *testing.T) {
	s := testScheduler(t, "web-01", "web-02", "db-01")

	ids, err := s.Resolve("G@os:linux", types.TargetGrain)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"db-01", "web-01", "web-02"}, ids, "grain targets are resolved locally by each minion, not by the master")
}

func TestSchedulerResolveGrainRejectsMalformedExpr(t *testing.T) {
	s := testScheduler(t, "web-01")

	_, err := s.Resolve("G@(", types.TargetCompound)
	assert.Error(t, err)
}

func TestSchedulerResolveUnknownKind(t *testing.T) {
	s := testScheduler(t, "web-01")

	_, err := s.Resolve("web-01", types.TargetKind("bogus"))
	assert.Error(t, err)
}
