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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apiErr "github.com/macofab/macod/api/errors"
	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/pkg/dsutil"
	"github.com/macofab/macod/pkg/eventbus"
	"github.com/macofab/macod/pkg/fsutil"
	"github.com/macofab/macod/pkg/pemutil"
)

const (
	minionPath       = "minions"
	minionAcceptPath = "minions_accept"
	minionAutoPath   = "minions_autosign"
	minionPrePath    = "minions_pre"
	minionDeniedPath = "minions_denied"
	minionRejectPath = "minions_rejected"
)

// shardLocks is a fixed-size table of mutexes hashed by minion_id. It
// gives every minion_id its own effective lock (spec.md §9: "a safe
// implementation takes a per-minion_id file lock") without allocating
// one mutex per minion_id ever seen.
type shardLocks struct {
	shards [64]sync.Mutex
}

func (s *shardLocks) get(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

// KeyStore owns the master's long-lived RSA keypair and the on-disk key
// records for every minion_id ever seen. Exactly one of five disjoint
// state directories holds a given minion_id at any time (spec.md §3 "Key
// record"): minions_pre (unaccepted), minions_accept (accepted),
// minions_autosign (auto-accepted on first contact), minions_denied and
// minions_rejected (terminal until an operator acts).
type KeyStore struct {
	dir string
	lg  *zap.Logger
	bus *eventbus.Ingress

	pair *pemutil.RsaPair

	cmu   sync.RWMutex
	cache map[types.MinionState]*dsutil.HashSet[string]

	locks shardLocks
}

// NewKeyStore loads (or bootstraps) the master keypair under dir and
// rebuilds the in-memory state cache by walking the five state
// directories.
func NewKeyStore(dir string, lg *zap.Logger, bus *eventbus.Ingress) (*KeyStore, error) {
	if err := fsutil.LoadDir(dir); err != nil {
		return nil, err
	}

	pair, err := loadOrGenerateMasterKeys(dir, lg)
	if err != nil {
		return nil, err
	}

	for _, sub := range []string{minionPath, minionAcceptPath, minionAutoPath, minionPrePath, minionDeniedPath, minionRejectPath} {
		if err := fsutil.LoadDir(filepath.Join(dir, sub)); err != nil {
			return nil, err
		}
	}

	cache := map[types.MinionState]*dsutil.HashSet[string]{}
	for _, state := range []types.MinionState{types.Unaccepted, types.Accepted, types.AutoSign, types.Denied, types.Rejected} {
		ids, err := walkMinionDir(dir, state)
		if err != nil {
			return nil, err
		}
		set := dsutil.NewHashSet[string]()
		for _, id := range ids {
			set.Add(id)
		}
		cache[state] = set
	}

	return &KeyStore{
		dir:   dir,
		lg:    lg,
		bus:   bus,
		pair:  pair,
		cache: cache,
	}, nil
}

func loadOrGenerateMasterKeys(dir string, lg *zap.Logger) (*pemutil.RsaPair, error) {
	privPath := filepath.Join(dir, "master.pem")
	pubPath := filepath.Join(dir, "master.pub")

	privBytes, errPriv := os.ReadFile(privPath)
	pubBytes, errPub := os.ReadFile(pubPath)
	if errPriv == nil && errPub == nil {
		return &pemutil.RsaPair{Private: privBytes, Public: pubBytes}, nil
	}
	if errPriv != nil && !os.IsNotExist(errPriv) {
		return nil, errPriv
	}
	if errPub != nil && !os.IsNotExist(errPub) {
		return nil, errPub
	}

	lg.Info("generating master rsa keypair", zap.String("private", privPath), zap.String("public", pubPath))
	pair, err := pemutil.GenerateRSA(2048, "MACO")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(privPath, pair.Private, 0600); err != nil {
		return nil, fmt.Errorf("save master private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pair.Public, 0600); err != nil {
		return nil, fmt.Errorf("save master public key: %w", err)
	}
	return pair, nil
}

// ServerKeys returns the master's long-lived keypair.
func (ks *KeyStore) ServerKeys() *pemutil.RsaPair { return ks.pair }

func fingerprint(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	return hex.EncodeToString(sum[:])
}

// RegisterMinion records a first-contact auth request. If the minion_id
// is new, it is created in minions_pre (or minions_autosign /
// minions_denied depending on the autoSign/autoDenied policy) and its
// public key is persisted.
//
// If the minion_id already exists and pubKey matches what's on file,
// this is a no-op re-registration. If pubKey differs, spec.md §4.2
// rejects it as duplicate_minion_id for any non-rejected state; an
// already-accepted (or auto-signed) minion_id presenting a different
// key is additionally pushed straight to denied per §4.7 step 2, since
// that's the one case where the mismatch looks like impersonation of a
// trusted id rather than a second party racing a not-yet-accepted one.
// A rejected minion_id stays rejected regardless of which key shows up
// — that state is already terminal until an operator acts.
func (ks *KeyStore) RegisterMinion(id string, pubKey []byte, addr string, autoSign, autoDenied bool) (*types.MinionKey, error) {
	lock := ks.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	state, err := ks.readState(id)
	if err == nil {
		existing, kerr := ks.keyRecord(id, state)
		if kerr != nil {
			return nil, kerr
		}
		if bytes.Equal(existing.PublicKey, pubKey) {
			return existing, nil
		}
		switch state {
		case types.Accepted, types.AutoSign:
			toKind, kerr := kindOf(types.Denied)
			if kerr != nil {
				return nil, kerr
			}
			if terr := ks.transitionLocked(id, state, types.Denied, toKind); terr != nil {
				return nil, terr
			}
			return nil, apiErr.NewAuthDenied()
		case types.Rejected:
			return existing, nil
		default:
			return nil, apiErr.NewConflict("duplicate_minion_id")
		}
	}
	if !apiErr.IsNotFound(err) {
		return nil, err
	}

	state = types.Unaccepted
	kind := minionPrePath
	if autoSign {
		state, kind = types.AutoSign, minionAutoPath
	}
	if autoDenied {
		state, kind = types.Denied, minionDeniedPath
	}

	minionRoot := filepath.Join(ks.dir, minionPath, id)
	if err := os.MkdirAll(minionRoot, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(minionRoot, "minion.pub"), pubKey, 0600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(minionRoot, "addr"), []byte(addr), 0600); err != nil {
		return nil, err
	}
	if err := ks.writeState(id, state); err != nil {
		return nil, err
	}
	if err := ks.link(minionRoot, filepath.Join(ks.dir, kind, id)); err != nil {
		return nil, err
	}

	ks.cmu.Lock()
	ks.cache[state].Add(id)
	ks.cmu.Unlock()

	ks.emit(id, state, false)
	return ks.keyRecord(id, state)
}

// AcceptMinion transitions minion_id from pending (or, if the flags
// allow, rejected/denied) into accepted. This is the only transition
// that unblocks publish reception for the minion (spec.md §3).
func (ks *KeyStore) AcceptMinion(id string, includeRejected, includeDenied bool) error {
	return ks.transition(id, types.Accepted, minionAcceptPath, func(from types.MinionState) bool {
		if from == types.Unaccepted || from == types.AutoSign {
			return true
		}
		if from == types.Rejected && includeRejected {
			return true
		}
		if from == types.Denied && includeDenied {
			return true
		}
		return false
	})
}

// RejectMinion transitions minion_id into the terminal rejected state.
func (ks *KeyStore) RejectMinion(id string, includeAccepted, includeDenied bool) error {
	return ks.transition(id, types.Rejected, minionRejectPath, func(from types.MinionState) bool {
		if from == types.Unaccepted || from == types.AutoSign {
			return true
		}
		if from == types.Accepted && includeAccepted {
			return true
		}
		if from == types.Denied && includeDenied {
			return true
		}
		return false
	})
}

// transition acquires id's shard lock, checks allowed against its
// current state, and applies the transition. Callers that already hold
// the lock (e.g. RegisterMinion on a pubkey-mismatch conflict) must use
// transitionLocked directly — shardLocks is not reentrant.
func (ks *KeyStore) transition(id string, to types.MinionState, toKind string, allowed func(from types.MinionState) bool) error {
	lock := ks.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	from, err := ks.readState(id)
	if err != nil {
		return err
	}
	if !allowed(from) {
		return apiErr.NewConflict(fmt.Sprintf("minion %s is in state %s", id, from))
	}
	return ks.transitionLocked(id, from, to, toKind)
}

// transitionLocked performs the on-disk and in-memory state move for id
// from -> to; the caller must already hold id's shard lock.
func (ks *KeyStore) transitionLocked(id string, from, to types.MinionState, toKind string) error {
	fromKind, err := kindOf(from)
	if err != nil {
		return err
	}

	minionRoot := filepath.Join(ks.dir, minionPath, id)
	if err := ks.link(minionRoot, filepath.Join(ks.dir, toKind, id)); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(ks.dir, fromKind, id)); err != nil && !os.IsNotExist(err) {
		ks.lg.Sugar().Errorf("remove stale state link for %s: %v", id, err)
	}
	if err := ks.writeState(id, to); err != nil {
		return err
	}

	ks.cmu.Lock()
	ks.cache[from].Remove(id)
	ks.cache[to].Add(id)
	ks.cmu.Unlock()

	ks.emit(id, to, false)
	return nil
}

// DeleteMinion revokes a minion_id outright: its state-directory symlink
// and its backing key record are both removed.
func (ks *KeyStore) DeleteMinion(id string) error {
	lock := ks.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	state, err := ks.readState(id)
	if err != nil {
		return err
	}
	kind, err := kindOf(state)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(ks.dir, kind, id)); err != nil && !os.IsNotExist(err) {
		ks.lg.Sugar().Errorf("remove state link for %s: %v", id, err)
	}

	ks.cmu.Lock()
	ks.cache[state].Remove(id)
	ks.cmu.Unlock()

	ks.emit(id, state, true)

	minionRoot := filepath.Join(ks.dir, minionPath, id)
	if err := os.RemoveAll(minionRoot); err != nil {
		ks.lg.Sugar().Errorf("remove minion dir for %s: %v", id, err)
	}
	return nil
}

// GetMinionKey returns the key record for id, whichever state it's in.
func (ks *KeyStore) GetMinionKey(id string) (*types.MinionKey, error) {
	state, err := ks.readState(id)
	if err != nil {
		return nil, err
	}
	return ks.keyRecord(id, state)
}

// ListMinions returns every minion_id in the given states (all states if
// none are given).
func (ks *KeyStore) ListMinions(states ...types.MinionState) []string {
	if len(states) == 0 {
		states = []types.MinionState{types.Unaccepted, types.Accepted, types.AutoSign, types.Denied, types.Rejected}
	}
	ks.cmu.RLock()
	defer ks.cmu.RUnlock()
	ids := make([]string, 0)
	for _, state := range states {
		set, ok := ks.cache[state]
		if !ok {
			continue
		}
		ids = append(ids, set.Values()...)
	}
	return ids
}

func (ks *KeyStore) keyRecord(id string, state types.MinionState) (*types.MinionKey, error) {
	minionRoot := filepath.Join(ks.dir, minionPath, id)
	pubKey, err := fsutil.Cat(filepath.Join(minionRoot, "minion.pub"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apiErr.NewNotFound("minion not found")
		}
		return nil, err
	}
	return &types.MinionKey{
		MinionId:    id,
		PublicKey:   pubKey,
		State:       state,
		Fingerprint: fingerprint(pubKey),
	}, nil
}

func (ks *KeyStore) readState(id string) (types.MinionState, error) {
	data, err := fsutil.Cat(filepath.Join(ks.dir, minionPath, id, "state"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apiErr.NewNotFound("minion not found")
		}
		return "", err
	}
	return types.MinionState(data), nil
}

func (ks *KeyStore) writeState(id string, state types.MinionState) error {
	return fsutil.Echo(filepath.Join(ks.dir, minionPath, id, "state"), []byte(state), 0600)
}

// link creates dst as a symlink to source, tolerating a dst that's
// already the right symlink.
func (ks *KeyStore) link(source, dst string) error {
	if fsutil.FileExists(dst) {
		if existing, err := os.Readlink(dst); err == nil && existing == source {
			return nil
		}
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	return os.Symlink(source, dst)
}

func (ks *KeyStore) emit(id string, state types.MinionState, deleted bool) {
	if ks.bus == nil {
		return
	}
	tag := fmt.Sprintf("minion/%s/%s", id, state)
	if deleted {
		tag = fmt.Sprintf("minion/%s/deleted", id)
	}
	ks.bus.Publish(types.Event{Tag: tag, Type: types.EventMinion, Ts: time.Now()})
}

func walkMinionDir(root string, state types.MinionState) ([]string, error) {
	kind, err := kindOf(state)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(root, kind))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.Name()
	}
	return ids, nil
}

func kindOf(state types.MinionState) (string, error) {
	switch state {
	case types.Unaccepted:
		return minionPrePath, nil
	case types.Accepted:
		return minionAcceptPath, nil
	case types.AutoSign:
		return minionAutoPath, nil
	case types.Denied:
		return minionDeniedPath, nil
	case types.Rejected:
		return minionRejectPath, nil
	default:
		return "", apiErr.NewBadRequest("unknown minion state")
	}
}
