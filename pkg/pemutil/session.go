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
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

var ErrReplay = errors.New("pemutil: nonce replay detected")

// Direction distinguishes the two halves of a session so the same
// counter value on each side never produces the same nonce.
type Direction byte

const (
	MasterToMinion Direction = 0
	MinionToMaster Direction = 1
)

// SessionKey is a symmetric ChaCha20-Poly1305 AEAD key bound to one
// accepted minion for the lifetime of its TCP session. It is minted by
// the master and rotated when the minion sends session_rotate on its
// configurable interval; a detected replay drops the frame but does not
// rotate the key (spec.md §3 "Session key").
type SessionKey struct {
	ID  string
	Key [chacha20poly1305.KeySize]byte
}

// NewSessionKey mints a fresh random session key with a new id.
func NewSessionKey() (*SessionKey, error) {
	sk := &SessionKey{ID: uuid.NewString()}
	if _, err := rand.Read(sk.Key[:]); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return sk, nil
}

// nonce builds the 12-byte ChaCha20-Poly1305 nonce for a given direction
// and monotonic counter: 1 byte direction || 8 byte big-endian counter ||
// 3 zero bytes. Two directions sharing one key never collide because the
// leading byte differs.
func nonce(direction Direction, counter uint64) []byte {
	b := make([]byte, chacha20poly1305.NonceSize)
	b[0] = byte(direction)
	binary.BigEndian.PutUint64(b[1:9], counter)
	return b
}

// Seal encrypts plaintext under counter, which the caller must increment
// monotonically (per key id, per direction) for every message it sends.
// It returns the ciphertext (with appended Poly1305 tag) and the 8-byte
// counter to place in the frame's nonce field.
func (sk *SessionKey) Seal(direction Direction, counter uint64, plaintext, aad []byte) ([]byte, []byte, error) {
	aead, err := chacha20poly1305.New(sk.Key[:])
	if err != nil {
		return nil, nil, err
	}
	n := nonce(direction, counter)
	ciphertext := aead.Seal(nil, n, plaintext, aad)
	counterBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(counterBytes, counter)
	return ciphertext, counterBytes, nil
}

// Open decrypts ciphertext sealed by the peer (hence the opposite
// direction) after verifying the supplied counter is strictly greater
// than every counter previously accepted for this (key id, direction)
// pair. tracker may be nil to skip replay tracking (only ever safe in
// tests).
func (sk *SessionKey) Open(direction Direction, counterBytes, ciphertext, aad []byte, tracker *NonceTracker) ([]byte, error) {
	if len(counterBytes) != 8 {
		return nil, errors.New("pemutil: malformed nonce counter")
	}
	counter := binary.BigEndian.Uint64(counterBytes)
	if tracker != nil && !tracker.Accept(sk.ID, direction, counter) {
		return nil, ErrReplay
	}
	aead, err := chacha20poly1305.New(sk.Key[:])
	if err != nil {
		return nil, err
	}
	n := nonce(direction, counter)
	return aead.Open(nil, n, ciphertext, aad)
}

// NonceTracker enforces the replay-protection invariant from spec.md
// §3: for a given (session key id, direction), every accepted counter
// must be strictly greater than the last one accepted.
type NonceTracker struct {
	mu   sync.Mutex
	last map[string]uint64
}

func NewNonceTracker() *NonceTracker {
	return &NonceTracker{last: make(map[string]uint64)}
}

func (t *NonceTracker) key(keyID string, direction Direction) string {
	return fmt.Sprintf("%s:%d", keyID, direction)
}

// Accept reports whether counter is acceptable (strictly greater than
// the last accepted counter for this key+direction) and, if so, advances
// the high-water mark.
func (t *NonceTracker) Accept(keyID string, direction Direction, counter uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.key(keyID, direction)
	if prev, ok := t.last[k]; ok && counter <= prev {
		return false
	}
	t.last[k] = counter
	return true
}

// Forget drops replay-tracking state for a key id, e.g. after rotation.
func (t *NonceTracker) Forget(keyID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, t.key(keyID, MasterToMinion))
	delete(t.last, t.key(keyID, MinionToMaster))
}
