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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/pkg/dbutil"
	"github.com/macofab/macod/pkg/fsutil"
)

// NewJid renders a sortable job id: a nanosecond timestamp prefix (so
// jids naturally sort in submission order) plus a random suffix to
// disambiguate same-tick submissions, in the spirit of the teacher's
// idAllocator (random high bits, monotonic low bits) adapted to produce
// the string jid spec.md §3 calls for rather than a transient uint64.
func NewJid(now time.Time) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%d%s", now.UnixNano(), hex.EncodeToString(suffix[:]))
}

// JobCache is the on-disk record of every publish and the returns it has
// collected (spec.md §4.5/§6): `<jobs_dir>/<jid>/load` holds the original
// publish, `<jobs_dir>/<jid>/<minion_id>/return` holds one minion's
// payload. A badger-backed index sits beside it purely for fast
// `jid`-keyed lookup and TTL reaping; the directory tree remains the
// durable source of truth, since a reader can reconstruct a job's state
// from a plain directory listing with no index at all (spec.md §9).
type JobCache struct {
	dir string
	lg  *zap.Logger
	ttl time.Duration

	index *dbutil.DB
}

// jobIndexEntry is the badger value: just enough to decide whether a jid
// has aged past job_cache_ttl without re-reading the load file.
type jobIndexEntry struct {
	Jid         string    `json:"jid"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func NewJobCache(dir string, indexDir string, lg *zap.Logger, ttl time.Duration) (*JobCache, error) {
	if err := fsutil.LoadDir(dir); err != nil {
		return nil, err
	}
	index, err := dbutil.OpenDB(&dbutil.Options{Dir: indexDir, Logger: lg})
	if err != nil {
		return nil, fmt.Errorf("open job index: %w", err)
	}
	return &JobCache{dir: dir, lg: lg, ttl: ttl, index: index}, nil
}

// Put persists a newly admitted job's load file and indexes its jid.
func (jc *JobCache) Put(job *types.Job) error {
	root := filepath.Join(jc.dir, job.Jid)
	if err := fsutil.LoadDir(root); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := fsutil.Echo(filepath.Join(root, "load"), data, 0644); err != nil {
		return err
	}
	entry, err := json.Marshal(jobIndexEntry{Jid: job.Jid, SubmittedAt: job.SubmittedAt})
	if err != nil {
		return err
	}
	return jc.index.Set([]byte(job.Jid), entry)
}

// Load returns the previously admitted job for jid, if its load file is
// still on disk.
func (jc *JobCache) Load(jid string) (*types.Job, error) {
	data, err := fsutil.Cat(filepath.Join(jc.dir, jid, "load"))
	if err != nil {
		return nil, err
	}
	job := &types.Job{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, err
	}
	return job, nil
}

// PutReturn appends one minion's return payload to jid's cache directory.
func (jc *JobCache) PutReturn(jid string, item *types.ReportItem) error {
	root := filepath.Join(jc.dir, jid, item.MinionId)
	if err := fsutil.LoadDir(root); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return fsutil.Echo(filepath.Join(root, "return"), data, 0644)
}

// Reap deletes every indexed jid whose submitted_at has aged past ttl,
// along with its cache directory. Called on a timer by the master's
// supervisor loop.
func (jc *JobCache) Reap(now time.Time) (int, error) {
	stale := make([]string, 0)
	err := jc.index.Range(nil, func(key, value []byte) error {
		var entry jobIndexEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			jc.lg.Sugar().Errorf("job index entry %s unreadable, dropping: %v", key, err)
			stale = append(stale, string(key))
			return nil
		}
		if now.Sub(entry.SubmittedAt) > jc.ttl {
			stale = append(stale, string(key))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, jid := range stale {
		if err := jc.index.Delete([]byte(jid)); err != nil {
			jc.lg.Sugar().Errorf("delete job index entry %s: %v", jid, err)
			continue
		}
		root := filepath.Join(jc.dir, jid)
		if err := fsutil.RemoveDir(root); err != nil {
			jc.lg.Sugar().Errorf("remove job cache dir %s: %v", jid, err)
		}
	}
	return len(stale), nil
}

func (jc *JobCache) Close() error { return jc.index.Close() }
