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

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macofab/macod/api/types"
)

func TestSubscribePrefixMatch(t *testing.T) {
	ingress, egress := New()
	_, ch := egress.Subscribe("jid/ret/1", 8)

	ingress.Publish(types.Event{Tag: "jid/ret/1", Type: types.EventReturn})
	ingress.Publish(types.Event{Tag: "jid/ret/2", Type: types.EventReturn})
	ingress.Publish(types.Event{Tag: "job/minion-a", Type: types.EventReturn})

	select {
	case ev := <-ch:
		assert.Equal(t, "jid/ret/1", ev.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected event on matching prefix")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeEmptyPrefixMatchesEverything(t *testing.T) {
	ingress, egress := New()
	_, ch := egress.Subscribe("", 8)

	ingress.Publish(types.Event{Tag: "anything/at/all"})

	select {
	case ev := <-ch:
		assert.Equal(t, "anything/at/all", ev.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected event with empty-prefix subscription")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	_, egress := New()
	id, ch := egress.Subscribe("job/", 1)
	egress.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestBackpressureDropsOldestEvent(t *testing.T) {
	ingress, egress := New()
	_, ch := egress.Subscribe("job/", 1)

	ingress.Publish(types.Event{Tag: "job/1"})
	ingress.Publish(types.Event{Tag: "job/2"})

	ev := <-ch
	assert.Equal(t, "job/2", ev.Tag, "backlog of 1 should have dropped the oldest event")
}

func TestNext(t *testing.T) {
	ingress, egress := New()
	_, ch := egress.Subscribe("job/", 4)
	ingress.Publish(types.Event{Tag: "job/x"})

	ev, ok := Next(context.Background(), ch)
	require.True(t, ok)
	assert.Equal(t, "job/x", ev.Tag)
}
