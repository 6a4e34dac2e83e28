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
	"time"

	"go.uber.org/zap"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/pkg/dsutil"
	"github.com/macofab/macod/pkg/pemutil"
)

// sessionGenerations bounds how many session-key generations AuthServer
// keeps alive per minion_id: the current key plus one grace generation
// behind it, so a return already in flight when session_rotate fires
// still has a key to verify against (spec.md §8 scenario 5).
const sessionGenerations = 2

// AuthServer is the master side of the authentication state machine
// (spec.md §4.7): key submission, acceptance lookup, and session-key
// issuance/rotation for already-accepted minions.
type AuthServer struct {
	keys        *KeyStore
	lg          *zap.Logger
	autoSign    bool
	rotateEvery time.Duration

	// sessions holds, per minion_id, its session-key generation history
	// oldest-first, capped at sessionGenerations. A dsutil.SafeList backs
	// this instead of a bare slice because the window needs indexed
	// eviction (drop index 0) under concurrent issueSession/Forget calls
	// from different minion connections.
	sessions *dsutil.SafeHashMap[string, *dsutil.SafeList[*pemutil.SessionKey]]
	tracker  *pemutil.NonceTracker
}

func NewAuthServer(keys *KeyStore, lg *zap.Logger, rotateEvery time.Duration, autoSign bool) *AuthServer {
	return &AuthServer{
		keys:        keys,
		lg:          lg,
		autoSign:    autoSign,
		rotateEvery: rotateEvery,
		sessions:    dsutil.NewSafeHashMap[string, *dsutil.SafeList[*pemutil.SessionKey]](),
		tracker:     pemutil.NewNonceTracker(),
	}
}

// Connect runs a first-contact or reconnect handshake for minionId. A
// brand-new minion_id is registered in the unaccepted (or auto-sign)
// state; an already-known minion_id's stored state decides the outcome.
// Only the accepted/auto-sign paths mint and return a session key.
// The pending, rejected and denied outcomes still return a non-nil
// ConnectResponse carrying the real State, so the minion can tell pending
// apart from rejected apart from denied instead of decoding a zero value
// for all three (spec.md §4.7 step 2). Any other RegisterMinion error (a
// public key that conflicts with a pending registration, a key-store
// failure) returns a nil response with the error.
func (a *AuthServer) Connect(req *types.ConnectRequest) (*types.ConnectResponse, error) {
	key, err := a.keys.RegisterMinion(req.MinionId, req.PublicKey, req.Addr, a.autoSign, false)
	if err != nil {
		if apiErr.IsAuthDenied(err) {
			return &types.ConnectResponse{State: types.Denied}, err
		}
		return nil, err
	}

	switch key.State {
	case types.Accepted, types.AutoSign:
		return a.issueSession(req.MinionId, key.PublicKey)
	case types.Rejected:
		return &types.ConnectResponse{State: types.Rejected}, apiErr.NewAuthRejected()
	case types.Denied:
		return &types.ConnectResponse{State: types.Denied}, apiErr.NewAuthDenied()
	default:
		return &types.ConnectResponse{State: types.Unaccepted}, apiErr.NewAuthPending()
	}
}

// Rotate mints a fresh session key for an already-accepted minion_id. The
// previous key stays valid as a grace generation; replay-tracking state is
// dropped only for keys pushed out beyond sessionGenerations. The worker
// pool calls it when a minion sends a session_rotate frame, which the
// minion does on its own timer. A replay detected on a return frame does
// not trigger a rotation: the frame is dropped and logged.
func (a *AuthServer) Rotate(minionId string) (*types.ConnectResponse, error) {
	key, err := a.keys.GetMinionKey(minionId)
	if err != nil {
		return nil, err
	}
	switch key.State {
	case types.Accepted, types.AutoSign:
		return a.issueSession(minionId, key.PublicKey)
	case types.Rejected:
		return &types.ConnectResponse{State: types.Rejected}, apiErr.NewAuthRejected()
	case types.Denied:
		return &types.ConnectResponse{State: types.Denied}, apiErr.NewAuthDenied()
	default:
		return &types.ConnectResponse{State: key.State}, apiErr.NewAuthPending()
	}
}

func (a *AuthServer) issueSession(minionId string, minionPubKey []byte) (*types.ConnectResponse, error) {
	sk, err := pemutil.NewSessionKey()
	if err != nil {
		return nil, apiErr.NewInternal(err.Error())
	}

	gens, ok := a.sessions.Get(minionId)
	if !ok {
		gens = dsutil.NewSafeList[*pemutil.SessionKey]()
		a.sessions.Set(minionId, gens)
	}
	gens.Add(sk)
	for gens.Size() > sessionGenerations {
		retired, _ := gens.Get(0)
		gens.Remove(0)
		if retired != nil {
			a.tracker.Forget(retired.ID)
		}
	}

	encrypted, err := pemutil.EncodeByRSA(sk.Key[:], minionPubKey)
	if err != nil {
		return nil, apiErr.NewInternal(err.Error())
	}

	return &types.ConnectResponse{
		State:            types.Accepted,
		SessionKeyId:     sk.ID,
		EncryptedSession: encrypted,
		MasterPublicKey:  a.keys.ServerKeys().Public,
	}, nil
}

// SessionFor returns the current (most recently issued) session key for
// an accepted minion_id.
func (a *AuthServer) SessionFor(minionId string) (*pemutil.SessionKey, bool) {
	gens, ok := a.sessions.Get(minionId)
	if !ok || gens.Empty() {
		return nil, false
	}
	return gens.Get(gens.Size() - 1)
}

// SessionCandidates returns every session key still inside minionId's
// grace window, most recent first. A return sealed under the key
// session_rotate just swapped away still has a candidate to verify
// against here instead of being dropped as undecryptable.
func (a *AuthServer) SessionCandidates(minionId string) []*pemutil.SessionKey {
	gens, ok := a.sessions.Get(minionId)
	if !ok {
		return nil
	}
	values := gens.Values()
	out := make([]*pemutil.SessionKey, len(values))
	for i, sk := range values {
		out[len(values)-1-i] = sk
	}
	return out
}

// Forget drops every in-memory session generation for a minion_id, e.g.
// on disconnect.
func (a *AuthServer) Forget(minionId string) {
	if gens, ok := a.sessions.Get(minionId); ok {
		for _, sk := range gens.Values() {
			a.tracker.Forget(sk.ID)
		}
	}
	a.sessions.Remove(minionId)
}

// Tracker returns the shared nonce tracker used to reject replayed
// session-bound frames across every minion's traffic.
func (a *AuthServer) Tracker() *pemutil.NonceTracker { return a.tracker }
