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

func TestSignVerifyRoundTrip(t *testing.T) {
	pair, err := GenerateRSA(2048, "")
	require.NoError(t, err)

	data := []byte("publish envelope body")
	sig, err := Sign(pair.Private, data)
	require.NoError(t, err)

	assert.NoError(t, Verify(pair.Public, data, sig))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	pair, err := GenerateRSA(2048, "")
	require.NoError(t, err)

	sig, err := Sign(pair.Private, []byte("original"))
	require.NoError(t, err)

	assert.Error(t, Verify(pair.Public, []byte("tampered"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, err := GenerateRSA(2048, "")
	require.NoError(t, err)
	other, err := GenerateRSA(2048, "")
	require.NoError(t, err)

	data := []byte("hello")
	sig, err := Sign(signer.Private, data)
	require.NoError(t, err)

	assert.Error(t, Verify(other.Public, data, sig))
}

func TestEncodeDecodeByRSARoundTrip(t *testing.T) {
	pair, err := GenerateRSA(2048, "")
	require.NoError(t, err)

	plaintext := make([]byte, 300) // longer than one RSA block, exercises chunking
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	ciphertext, err := EncodeByRSA(plaintext, pair.Public)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decoded, err := DecodeByRSA(ciphertext, pair.Private)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}
