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

package pemutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	sk, err := NewSessionKey()
	require.NoError(t, err)

	tracker := NewNonceTracker()
	aad := []byte("minion-1")

	ciphertext, counter, err := sk.Seal(MinionToMaster, 1, []byte("hello return"), aad)
	require.NoError(t, err)

	plaintext, err := sk.Open(MinionToMaster, counter, ciphertext, aad, tracker)
	require.NoError(t, err)
	assert.Equal(t, "hello return", string(plaintext))
}

func TestOpenRejectsReplayedCounter(t *testing.T) {
	sk, err := NewSessionKey()
	require.NoError(t, err)
	tracker := NewNonceTracker()
	aad := []byte("minion-1")

	ciphertext, counter, err := sk.Seal(MinionToMaster, 1, []byte("msg"), aad)
	require.NoError(t, err)

	_, err = sk.Open(MinionToMaster, counter, ciphertext, aad, tracker)
	require.NoError(t, err)

	_, err = sk.Open(MinionToMaster, counter, ciphertext, aad, tracker)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestOpenRejectsNonIncreasingCounter(t *testing.T) {
	sk, err := NewSessionKey()
	require.NoError(t, err)
	tracker := NewNonceTracker()
	aad := []byte("minion-1")

	ciphertext2, c2, err := sk.Seal(MinionToMaster, 2, []byte("second"), aad)
	require.NoError(t, err)
	_, err = sk.Open(MinionToMaster, c2, ciphertext2, aad, tracker)
	require.NoError(t, err)

	ciphertext1, c1, err := sk.Seal(MinionToMaster, 1, []byte("first, arriving late"), aad)
	require.NoError(t, err)
	_, err = sk.Open(MinionToMaster, c1, ciphertext1, aad, tracker)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestDirectionsDoNotCollide(t *testing.T) {
	sk, err := NewSessionKey()
	require.NoError(t, err)
	aad := []byte("minion-1")

	ciphertext, counter, err := sk.Seal(MasterToMinion, 1, []byte("from master"), aad)
	require.NoError(t, err)

	_, err = sk.Open(MinionToMaster, counter, ciphertext, aad, nil)
	assert.Error(t, err, "a MasterToMinion ciphertext must not open under MinionToMaster")
}

func TestForgetClearsReplayState(t *testing.T) {
	sk, err := NewSessionKey()
	require.NoError(t, err)
	tracker := NewNonceTracker()
	aad := []byte("minion-1")

	ciphertext, counter, err := sk.Seal(MinionToMaster, 5, []byte("x"), aad)
	require.NoError(t, err)
	_, err = sk.Open(MinionToMaster, counter, ciphertext, aad, tracker)
	require.NoError(t, err)

	tracker.Forget(sk.ID)

	_, err = sk.Open(MinionToMaster, counter, ciphertext, aad, tracker)
	assert.NoError(t, err, "Forget should reset the high-water mark for this key id")
}

