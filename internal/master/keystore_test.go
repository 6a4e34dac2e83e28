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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/pkg/eventbus"
)

func newTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	ks, err := NewKeyStore(t.TempDir(), zap.NewNop(), nil)
	require.NoError(t, err)
	return ks
}

func TestRegisterMinionStartsUnaccepted(t *testing.T) {
	ks := newTestKeyStore(t)

	rec, err := ks.RegisterMinion("web-01", []byte("pubkey-bytes"), "10.0.0.1:4505", false, false)
	require.NoError(t, err)
	assert.Equal(t, types.Unaccepted, rec.State)
	assert.Contains(t, ks.ListMinions(types.Unaccepted), "web-01")
}

func TestRegisterMinionAutoSign(t *testing.T) {
	ks := newTestKeyStore(t)

	rec, err := ks.RegisterMinion("web-02", []byte("pubkey-bytes"), "10.0.0.2:4505", true, false)
	require.NoError(t, err)
	assert.Equal(t, types.AutoSign, rec.State)
}

func TestRegisterMinionAutoDeniedWinsOverAutoSign(t *testing.T) {
	ks := newTestKeyStore(t)

	rec, err := ks.RegisterMinion("web-03", []byte("pubkey-bytes"), "10.0.0.3:4505", true, true)
	require.NoError(t, err)
	assert.Equal(t, types.Denied, rec.State)
}

func TestRegisterMinionIsIdempotent(t *testing.T) {
	ks := newTestKeyStore(t)

	first, err := ks.RegisterMinion("web-04", []byte("key-a"), "10.0.0.4:4505", false, false)
	require.NoError(t, err)

	second, err := ks.RegisterMinion("web-04", []byte("key-a"), "10.0.0.4:4505", false, false)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Fingerprint, second.Fingerprint, "re-registering with the same key must not change anything")
}

func TestRegisterMinionRejectsPubkeyMismatchWhileUnaccepted(t *testing.T) {
	ks := newTestKeyStore(t)

	_, err := ks.RegisterMinion("web-11", []byte("key-a"), "10.0.0.11:4505", false, false)
	require.NoError(t, err)

	_, err = ks.RegisterMinion("web-11", []byte("key-b-different"), "10.0.0.11:4505", false, false)
	require.Error(t, err)
	assert.True(t, apiErr.IsConflict(err))

	rec, err := ks.GetMinionKey("web-11")
	require.NoError(t, err)
	assert.Equal(t, []byte("key-a"), rec.PublicKey, "the stored key must survive a rejected mismatch")
}

func TestRegisterMinionDeniesAcceptedMinionPresentingDifferentKey(t *testing.T) {
	ks := newTestKeyStore(t)

	_, err := ks.RegisterMinion("web-12", []byte("key-a"), "10.0.0.12:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, ks.AcceptMinion("web-12", false, false))

	_, err = ks.RegisterMinion("web-12", []byte("key-b-different"), "10.0.0.12:4505", false, false)
	require.Error(t, err)
	assert.True(t, apiErr.IsAuthDenied(err))

	rec, err := ks.GetMinionKey("web-12")
	require.NoError(t, err)
	assert.Equal(t, types.Denied, rec.State)
}

func TestRegisterMinionLeavesRejectedMinionRejectedOnKeyMismatch(t *testing.T) {
	ks := newTestKeyStore(t)

	_, err := ks.RegisterMinion("web-13", []byte("key-a"), "10.0.0.13:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, ks.RejectMinion("web-13", false, false))

	rec, err := ks.RegisterMinion("web-13", []byte("key-b-different"), "10.0.0.13:4505", false, false)
	require.NoError(t, err)
	assert.Equal(t, types.Rejected, rec.State)
}

func TestAcceptMinionTransition(t *testing.T) {
	ks := newTestKeyStore(t)
	_, err := ks.RegisterMinion("web-05", []byte("pubkey"), "10.0.0.5:4505", false, false)
	require.NoError(t, err)

	require.NoError(t, ks.AcceptMinion("web-05", false, false))

	rec, err := ks.GetMinionKey("web-05")
	require.NoError(t, err)
	assert.Equal(t, types.Accepted, rec.State)
	assert.Contains(t, ks.ListMinions(types.Accepted), "web-05")
	assert.NotContains(t, ks.ListMinions(types.Unaccepted), "web-05")
}

func TestAcceptMinionRejectsDeniedWithoutFlag(t *testing.T) {
	ks := newTestKeyStore(t)
	_, err := ks.RegisterMinion("web-06", []byte("pubkey"), "10.0.0.6:4505", false, true)
	require.NoError(t, err)

	err = ks.AcceptMinion("web-06", false, false)
	assert.Error(t, err)

	require.NoError(t, ks.AcceptMinion("web-06", false, true))
	rec, err := ks.GetMinionKey("web-06")
	require.NoError(t, err)
	assert.Equal(t, types.Accepted, rec.State)
}

func TestRejectMinionTransition(t *testing.T) {
	ks := newTestKeyStore(t)
	_, err := ks.RegisterMinion("web-07", []byte("pubkey"), "10.0.0.7:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, ks.AcceptMinion("web-07", false, false))

	err = ks.RejectMinion("web-07", false, false)
	assert.Error(t, err, "rejecting an accepted minion without include_accepted must fail")

	require.NoError(t, ks.RejectMinion("web-07", true, false))
	rec, err := ks.GetMinionKey("web-07")
	require.NoError(t, err)
	assert.Equal(t, types.Rejected, rec.State)
}

func TestDeleteMinionRemovesRecord(t *testing.T) {
	ks := newTestKeyStore(t)
	_, err := ks.RegisterMinion("web-08", []byte("pubkey"), "10.0.0.8:4505", false, false)
	require.NoError(t, err)

	require.NoError(t, ks.DeleteMinion("web-08"))

	_, err = ks.GetMinionKey("web-08")
	assert.Error(t, err)
	assert.NotContains(t, ks.ListMinions(), "web-08")
}

func TestKeyStoreReloadsStateFromDisk(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewKeyStore(dir, zap.NewNop(), nil)
	require.NoError(t, err)
	_, err = ks.RegisterMinion("web-09", []byte("pubkey"), "10.0.0.9:4505", false, false)
	require.NoError(t, err)
	require.NoError(t, ks.AcceptMinion("web-09", false, false))

	reopened, err := NewKeyStore(dir, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Contains(t, reopened.ListMinions(types.Accepted), "web-09")
}

func TestKeyStoreEmitsEventsOnTransition(t *testing.T) {
	ingress, egress := eventbus.New()
	_, ch := egress.Subscribe("minion/", 8)

	ks, err := NewKeyStore(t.TempDir(), zap.NewNop(), ingress)
	require.NoError(t, err)

	_, err = ks.RegisterMinion("web-10", []byte("pubkey"), "10.0.0.10:4505", false, false)
	require.NoError(t, err)

	ev := <-ch
	assert.Contains(t, ev.Tag, "web-10")
}
