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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
)

func sendReturn(t *testing.T, conn net.Conn, minionId string) {
	t.Helper()
	resp := &types.CallResponse{MinionId: minionId, Success: true, Result: types.ResultSuccess, Payload: []byte("ok")}
	data, err := transport.EncodeBody(resp)
	require.NoError(t, err)
	ev := types.Event{Tag: "jid/ret/job-1", Type: types.EventReturn, Data: data, Ts: time.Now()}
	body, err := transport.EncodeBody(ev)
	require.NoError(t, err)
	require.NoError(t, transport.WriteFrame(conn, &transport.Frame{Kind: transport.KindEvent, Body: body}))
}

func TestCollectGatherBatchStopsWhenAllTargetsReport(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	jt := newJobTracker(client, "job-1", []string{"web-01", "web-02"}, 5*time.Second)

	go func() {
		sendReturn(t, server, "web-01")
		sendReturn(t, server, "web-02")
	}()

	report, err := jt.Collect(context.Background(), types.GatherBatch)
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Empty(t, report.Missing)
	assert.Len(t, report.Items, 2)
}

func TestCollectFailOnAnyMissingReportsMissingOnTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	jt := newJobTracker(client, "job-1", []string{"web-01", "web-02"}, 150*time.Millisecond)

	go sendReturn(t, server, "web-01")

	report, err := jt.Collect(context.Background(), types.GatherFailOnAnyMissing)
	require.NoError(t, err)
	assert.False(t, report.Complete)
	assert.Equal(t, []string{"web-02"}, report.Missing)
}

func TestCollectRespectsContextCancellation(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	jt := newJobTracker(client, "job-1", []string{"web-01"}, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := jt.Collect(ctx, types.GatherList)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-01"}, report.Missing)
}
