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

package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiErr "github.com/macofab/macod/api/errors"
)

type callBody struct {
	Fn string `msgpack:"fn"`
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	body, err := EncodeBody(&callBody{Fn: "test.ping"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Kind: KindSubmit, Body: body}))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindSubmit, f.Kind)

	var decoded callBody
	require.NoError(t, DecodeBody(f.Body, &decoded))
	assert.Equal(t, "test.ping", decoded.Fn)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameSize+1)
	buf := bytes.NewBuffer(lenBuf[:])

	_, err := ReadFrame(buf)
	require.Error(t, err)
	apiError, ok := err.(*apiErr.Error)
	require.True(t, ok, "expected *errors.Error, got %T", err)
	assert.Equal(t, apiErr.Code_ProtocolViolation, apiError.Code)
}

func TestReadFrameRejectsMalformedPayload(t *testing.T) {
	payload := []byte("not a valid msgpack frame \xff\xff")
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf := bytes.NewBuffer(append(lenBuf[:], payload...))

	_, err := ReadFrame(buf)
	require.Error(t, err)
	apiError, ok := err.(*apiErr.Error)
	require.True(t, ok, "expected *errors.Error, got %T", err)
	assert.Equal(t, apiErr.Code_ProtocolViolation, apiError.Code)
}

func TestReadFrameSurfacesShortRead(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0})
	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMultipleFramesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Kind: KindPing}))
	require.NoError(t, WriteFrame(&buf, &Frame{Kind: KindPong}))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindPing, first.Kind)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindPong, second.Kind)
}
