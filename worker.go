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
	"sync"
	"time"

	"github.com/acquirecloud/dynalock/golibs/container"
	"github.com/acquirecloud/dynalock/golibs/logging"
)

// Worker is the background activity that renews every lease in its
// client's cache on a fixed cadence. It owns no locks itself and borrows
// its client only for the worker's own lifetime: the client owns the
// worker, and the worker is always stopped before the client it watches
// goes away.
type Worker struct {
	client *Client
	period time.Duration
	logger logging.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

func newWorker(c *Client, period time.Duration) *Worker {
	return &Worker{
		client: c,
		period: period,
		logger: logging.NewLogger("dynalock.worker"),
	}
}

// start begins the heartbeat loop in a new goroutine. Calling start twice
// without an intervening stop is a no-op.
func (w *Worker) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	go w.run(w.done, w.stopped)
}

// stop signals the worker to exit and blocks until it has, or until
// timeout elapses, whichever is first. stop is cooperative: the worker
// checks for the stop signal between cycles and between touches, never
// inside a KV call, so an in-flight touch always completes before the
// worker exits.
func (w *Worker) stop(timeout time.Duration) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	done, stopped := w.done, w.stopped
	w.mu.Unlock()

	close(done)
	if timeout <= 0 {
		<-stopped
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-stopped:
	case <-t.C:
	}
}

func (w *Worker) run(done, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-done:
			return
		default:
		}

		start := time.Now()
		w.heartbeatOnce(done)

		elapsed := time.Since(start)
		sleep := w.period - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-done:
			return
		case <-time.After(sleep):
		}
	}
}

// heartbeatOnce snapshots the cache, touches every entry, and evicts the
// ones touch could no longer renew. Snapshotting first means the worker
// never holds the cache's lock across a KV call, and a concurrent user
// Acquire/Release for a different name is never blocked on a heartbeat
// cycle in flight.
func (w *Worker) heartbeatOnce(done chan struct{}) {
	c := w.client
	c.mu.Lock()
	snapshot := container.CopyMap(c.cache)
	c.mu.Unlock()

	ctx := context.Background()
	for name, lock := range snapshot {
		select {
		case <-done:
			return
		default:
		}
		if c.Touch(ctx, lock) == nil {
			c.mu.Lock()
			// Only evict if the cache entry is still the one we just
			// failed to renew: a concurrent Acquire/Touch may have already
			// replaced it with a fresher version we must not clobber.
			if cur, ok := c.cache[name]; ok && cur.Version == lock.Version {
				delete(c.cache, name)
			}
			c.mu.Unlock()
		}
	}
}
