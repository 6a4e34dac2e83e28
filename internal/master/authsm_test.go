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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
)

func newTestAuthServer(t *testing.T) *AuthServer {
	t.Helper()
	ks, err := NewKeyStore(t.TempDir(), zap.NewNop(), nil)
	require.NoError(t, err)
	return NewAuthServer(ks, zap.NewNop(), time.Minute, false)
}

func TestConnectPendingReturnsNonNilResponse(t *testing.T) {
	auth := newTestAuthServer(t)

	resp, err := auth.Connect(&types.ConnectRequest{MinionId: "m1", PublicKey: []byte("key-a")})
	require.Error(t, err)
	require.NotNil(t, resp, "a pending minion must still get a response carrying its real state")
	assert.Equal(t, types.Unaccepted, resp.State)
}

func TestConnectRejectedReturnsRejectedState(t *testing.T) {
	auth := newTestAuthServer(t)
	_, err := auth.keys.RegisterMinion("m1", []byte("key-a"), "10.0.0.1:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, auth.keys.RejectMinion("m1", false, false))

	resp, err := auth.Connect(&types.ConnectRequest{MinionId: "m1", PublicKey: []byte("key-a")})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, types.Rejected, resp.State)
	assert.True(t, apiErr.IsAuthRejected(err))
}

func TestConnectDeniedOnKeyMismatchReturnsDeniedState(t *testing.T) {
	auth := newTestAuthServer(t)
	_, err := auth.keys.RegisterMinion("m1", []byte("key-a"), "10.0.0.1:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, auth.keys.AcceptMinion("m1", false, false))

	resp, err := auth.Connect(&types.ConnectRequest{MinionId: "m1", PublicKey: []byte("key-b-different")})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, types.Denied, resp.State)
	assert.True(t, apiErr.IsAuthDenied(err))
}

func TestRotateRejectedReturnsRejectedState(t *testing.T) {
	auth := newTestAuthServer(t)
	_, err := auth.keys.RegisterMinion("m1", []byte("key-a"), "10.0.0.1:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, auth.keys.AcceptMinion("m1", false, false))
	require.NoError(t, auth.keys.RejectMinion("m1", true, false))

	resp, err := auth.Rotate("m1")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, types.Rejected, resp.State)
}

func TestSessionRotationKeepsGraceWindowCandidate(t *testing.T) {
	auth := newTestAuthServer(t)
	_, err := auth.keys.RegisterMinion("m1", []byte("key-a"), "10.0.0.1:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, auth.keys.AcceptMinion("m1", false, false))
	key, err := auth.keys.GetMinionKey("m1")
	require.NoError(t, err)

	first, err := auth.issueSession("m1", key.PublicKey)
	require.NoError(t, err)

	second, err := auth.issueSession("m1", key.PublicKey)
	require.NoError(t, err)
	require.NotEqual(t, first.SessionKeyId, second.SessionKeyId)

	candidates := auth.SessionCandidates("m1")
	require.Len(t, candidates, 2, "the retired generation must still be a candidate inside the grace window")
	assert.Equal(t, second.SessionKeyId, candidates[0].ID, "the newest generation is tried first")
	assert.Equal(t, first.SessionKeyId, candidates[1].ID)

	third, err := auth.issueSession("m1", key.PublicKey)
	require.NoError(t, err)
	candidates = auth.SessionCandidates("m1")
	require.Len(t, candidates, sessionGenerations, "the window never grows past sessionGenerations")
	assert.Equal(t, third.SessionKeyId, candidates[0].ID)
	assert.Equal(t, second.SessionKeyId, candidates[1].ID)
	for _, c := range candidates {
		assert.NotEqual(t, first.SessionKeyId, c.ID, "a generation evicted past the window must be gone")
	}
}

func TestForgetDropsEveryGeneration(t *testing.T) {
	auth := newTestAuthServer(t)
	_, err := auth.keys.RegisterMinion("m1", []byte("key-a"), "10.0.0.1:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, auth.keys.AcceptMinion("m1", false, false))
	key, err := auth.keys.GetMinionKey("m1")
	require.NoError(t, err)

	_, err = auth.issueSession("m1", key.PublicKey)
	require.NoError(t, err)
	_, err = auth.issueSession("m1", key.PublicKey)
	require.NoError(t, err)

	auth.Forget("m1")
	assert.Empty(t, auth.SessionCandidates("m1"))
	_, ok := auth.SessionFor("m1")
	assert.False(t, ok)
}
