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

// Package transport is the wire codec and TCP plumbing shared by the
// master's publisher/request-server listeners and the minion's two
// outbound connections. Every message on the wire is a length-prefixed
// frame carrying a msgpack-encoded Frame value.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/macofab/macod/api/errors"
)

// Kind discriminates the structured body carried by a Frame.
type Kind string

const (
	KindAuthRequest   Kind = "auth_request"
	KindAuthResponse  Kind = "auth_response"
	KindPublish       Kind = "publish"
	KindReturn        Kind = "return"
	KindSessionRotate Kind = "session_rotate"
	KindEvent         Kind = "event"
	KindPing          Kind = "ping"
	KindPong          Kind = "pong"
	// KindSubmit is a local client's job submission to the request
	// server: a types.CallRequest body naming the target expression, fn
	// and args. KindSubmitAck answers it with the assigned jid and the
	// resolved target set before any return has arrived.
	KindSubmit    Kind = "submit"
	KindSubmitAck Kind = "submit_ack"
)

// MaxFrameSize bounds a single frame's payload length. A frame
// announcing a larger length is a protocol_violation and the connection
// that sent it is closed.
const MaxFrameSize = 1 << 24

// Frame is the structured value serialized inside every length-prefixed
// message. body is re-encoded per Kind by the caller (msgpack.Marshal of
// a concrete api/types value) before being embedded here, keeping the
// envelope itself simple and deterministic.
type Frame struct {
	Kind      Kind   `msgpack:"kind"`
	Body      []byte `msgpack:"body"`
	Signature []byte `msgpack:"signature,omitempty"`
	Nonce     []byte `msgpack:"nonce,omitempty"`
}

// EncodeBody msgpack-encodes v deterministically for embedding as a
// Frame's Body. msgpack's map encoding order depends on struct field
// order, not map iteration, so encoding the same v always produces the
// same bytes — required for signatures over the body to verify.
func EncodeBody(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeBody decodes a Frame's Body into v.
func DecodeBody(body []byte, v any) error {
	return msgpack.Unmarshal(body, v)
}

// WriteFrame writes f to w as a length-prefixed msgpack message.
func WriteFrame(w io.Writer, f *Frame) error {
	payload, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return errors.NewProtocolViolation(fmt.Sprintf("frame too large: %d bytes", len(payload)))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed msgpack message from r. An
// oversized or malformed frame is reported as a protocol_violation
// *errors.Error; the caller must close the connection on that error.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, errors.NewProtocolViolation(fmt.Sprintf("frame length %d exceeds max %d", length, MaxFrameSize))
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	f := &Frame{}
	if err := msgpack.Unmarshal(payload, f); err != nil {
		return nil, errors.NewProtocolViolation(fmt.Sprintf("malformed frame: %v", err))
	}
	return f, nil
}
