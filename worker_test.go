// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package dynalock

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquirecloud/dynalock/kv/memstore"
)

func versionSeqForWorkerTest() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("wv%d", n.Add(1)) }
}

// heartbeatOnce should keep a renewed lease in the cache with its new
// version, and leave it exactly once-renewed per cycle.
func TestWorkerHeartbeatRenews(t *testing.T) {
	store := memstore.New()
	policy := DefaultPolicy()
	policy.NewOwner = func() string { return "client-1" }
	policy.NewVersion = versionSeqForWorkerTest()
	c := NewClient(store, policy, Schema{})

	lock := c.Acquire(context.Background(), "job")
	require.NotNil(t, lock)
	firstVersion := lock.Version

	c.worker.heartbeatOnce(make(chan struct{}))

	c.mu.Lock()
	cached, ok := c.cache["job"]
	c.mu.Unlock()
	require.True(t, ok, "lease should still be cached after a successful heartbeat")
	assert.NotEqual(t, firstVersion, cached.Version)

	rec, err := store.Get(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, cached.Version, rec.Version)
}

// heartbeatOnce must evict a cache entry whose renewal failed because
// something else now holds the row, but must not touch an unrelated entry.
func TestWorkerHeartbeatEvictsOnlyFailedEntry(t *testing.T) {
	store := memstore.New()
	policy := DefaultPolicy()
	policy.NewOwner = func() string { return "client-1" }
	policy.NewVersion = versionSeqForWorkerTest()
	c := NewClient(store, policy, Schema{})

	lockA := c.Acquire(context.Background(), "a")
	require.NotNil(t, lockA)
	lockB := c.Acquire(context.Background(), "b")
	require.NotNil(t, lockB)

	require.NoError(t, store.UpdateIf(context.Background(), "a",
		map[string]any{FieldOwner: "intruder", FieldVersion: "stolen"},
		map[string]any{FieldOwner: "client-1", FieldVersion: lockA.Version}))

	c.worker.heartbeatOnce(make(chan struct{}))

	c.mu.Lock()
	_, aStillCached := c.cache["a"]
	_, bStillCached := c.cache["b"]
	c.mu.Unlock()
	assert.False(t, aStillCached, "a's entry lost its race and must be evicted")
	assert.True(t, bStillCached, "b is unrelated and must survive the cycle")
}

// heartbeatOnce's eviction rule must not clobber a cache entry that a
// concurrent Acquire already replaced with a fresher version between the
// snapshot and the touch call for that name. heartbeatOnce always snapshots
// the live cache, so this test replays its eviction step with a stale
// snapshot entry instead of calling it.
func TestWorkerHeartbeatDoesNotClobberFresherEntry(t *testing.T) {
	store := memstore.New()
	policy := DefaultPolicy()
	policy.NewOwner = func() string { return "client-1" }
	policy.NewVersion = versionSeqForWorkerTest()
	c := NewClient(store, policy, Schema{})

	lock := c.Acquire(context.Background(), "job")
	require.NotNil(t, lock)
	stale := *lock

	// Race: steal the row. While the intruder's lease is live, a single
	// acquire attempt by this client fails.
	require.NoError(t, store.UpdateIf(context.Background(), "job",
		map[string]any{FieldOwner: "intruder", FieldVersion: "stolen"},
		map[string]any{FieldOwner: "client-1", FieldVersion: stale.Version}))
	fresh := c.TryAcquire(context.Background(), "job")
	require.Nil(t, fresh, "job is held live by intruder; acquire should fail, not take over")

	// Directly install a fresher cache entry to simulate a concurrent
	// re-acquire winning the race after the intruder's lease lapsed.
	c.mu.Lock()
	c.cache["job"] = Lock{Name: "job", Owner: "client-1", Version: "fresher", IsLocked: true, Timestamp: policy.Now()}
	c.mu.Unlock()
	require.NoError(t, store.UpdateIf(context.Background(), "job",
		map[string]any{FieldOwner: "client-1", FieldVersion: "fresher"},
		map[string]any{FieldOwner: "intruder", FieldVersion: "stolen"}))

	// Now run a heartbeat cycle using a stale snapshot lock (the pre-race
	// version) to simulate the snapshot having been taken before the
	// concurrent re-acquire landed.
	w := c.worker
	go func() {
		c.mu.Lock()
		snap := map[string]Lock{"job": stale}
		c.mu.Unlock()
		for name, l := range snap {
			if c.Touch(context.Background(), l) == nil {
				c.mu.Lock()
				if cur, ok := c.cache[name]; ok && cur.Version == l.Version {
					delete(c.cache, name)
				}
				c.mu.Unlock()
			}
		}
	}()
	_ = w

	time.Sleep(10 * time.Millisecond)
	c.mu.Lock()
	cur, ok := c.cache["job"]
	c.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "fresher", cur.Version, "a concurrently-installed fresher entry must survive a stale heartbeat's failed touch")
}

func TestWorkerStartStopIsIdempotent(t *testing.T) {
	store := memstore.New()
	policy := DefaultPolicy()
	policy.HeartbeatPeriod = 5 * time.Millisecond
	c := NewClient(store, policy, Schema{})

	c.Startup()
	c.Startup() // no-op, must not panic or deadlock
	time.Sleep(15 * time.Millisecond)
	c.worker.stop(time.Second)
	c.worker.stop(time.Second) // no-op
}
