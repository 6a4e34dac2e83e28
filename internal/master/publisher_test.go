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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/internal/transport"
	"github.com/macofab/macod/pkg/eventbus"
)

func TestBroadcastDisconnectsAndFiresEventOnBackpressure(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir(), zap.NewNop(), nil)
	require.NoError(t, err)
	_, err = ks.RegisterMinion("m1", []byte("pubkey"), "10.0.0.1:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, ks.AcceptMinion("m1", false, false))

	ingress, egress := eventbus.New()
	id, ch := egress.Subscribe("backpressure_drop/", 4)
	defer egress.Unsubscribe(id)

	pub := NewPublisher(zap.NewNop(), ks, transport.TLSConfig{}, ingress)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	_, cancel := context.WithCancel(context.Background())
	pc := &pubConn{
		minionId: "m1",
		conn:     serverConn,
		outCh:    make(chan *transport.Frame, 1),
		cancel:   cancel,
	}
	pc.outCh <- &transport.Frame{Kind: transport.KindPublish}
	pub.conns.Set("m1", pc)

	err = pub.Broadcast([]string{"m1"}, &types.CallRequest{Jid: "jid-1", Fn: "echo"})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "backpressure_drop/m1", ev.Tag)
		assert.Equal(t, types.EventMinion, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a backpressure_drop event")
	}

	buf := make([]byte, 1)
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = clientConn.Read(buf)
	assert.Error(t, err, "the connection must be closed, not just left to stall")
}
