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

	dctx "github.com/acquirecloud/dynalock/golibs/context"
	"github.com/acquirecloud/dynalock/golibs/errors"
	"github.com/acquirecloud/dynalock/golibs/logging"
)

// Client is the protocol engine: acquire/release/touch/retrieve plus a
// cache of the leases this instance believes it owns. One Client owns one
// heartbeat Worker; construct a Client per logical participant in the
// locking protocol, never share one across processes.
type Client struct {
	owner   string
	policy  Policy
	schema  Schema
	gateway Gateway
	logger  logging.Logger

	mu    sync.Mutex
	cache map[string]Lock

	worker *Worker
}

// NewClient constructs a Client against gateway. A zero-valued Policy or
// Schema is filled in with this package's defaults, mirroring the original
// library's kwargs-style constructor.
func NewClient(gateway Gateway, policy Policy, schema Schema) *Client {
	policy = policy.withDefaults()
	schema = schema.withDefaults()
	c := &Client{
		owner:   policy.NewOwner(),
		policy:  policy,
		schema:  schema,
		gateway: gateway,
		logger:  logging.NewLogger("dynalock.client"),
		cache:   make(map[string]Lock),
	}
	c.worker = newWorker(c, policy.HeartbeatPeriod)
	return c
}

// Owner returns the identity this client writes into every lock it
// acquires or takes over.
func (c *Client) Owner() string {
	return c.owner
}

// Startup starts the background heartbeat worker. Calling Startup more than
// once is a no-op.
func (c *Client) Startup() {
	c.worker.start()
}

// Shutdown stops the heartbeat worker (waiting up to timeout for its
// current cycle to finish) and releases every lock still held in the
// cache, using the policy's default delete mode.
func (c *Client) Shutdown(ctx context.Context, timeout time.Duration) {
	c.worker.stop(timeout)
	c.ReleaseAll(ctx, nil)
}

// AcquireOption configures a single Acquire call.
type AcquireOption func(*acquireOptions)

type acquireOptions struct {
	noWait  bool
	payload []byte
}

// WithNoWait requests a single-attempt try-lock: Acquire returns nil after
// one failed iteration instead of retrying until the deadline.
func WithNoWait() AcquireOption {
	return func(o *acquireOptions) { o.noWait = true }
}

// WithPayload supplies the opaque payload written into a newly created
// record, or refreshed into the record on a successful takeover.
func WithPayload(payload []byte) AcquireOption {
	return func(o *acquireOptions) { o.payload = payload }
}

// TryAcquire is sugar for Acquire(ctx, name, WithNoWait(), ...).
func (c *Client) TryAcquire(ctx context.Context, name string, opts ...AcquireOption) *Lock {
	return c.Acquire(ctx, name, append(opts, WithNoWait())...)
}

// Acquire attempts to acquire the named lock, retrying contention until
// acquire_timeout elapses or, with WithNoWait, after a single attempt. The
// deadline is extended exactly once, by the observed duration of any
// foreign lock this call starts watching (case 4 below); a later rollover
// observation (case 5) never extends it again, which bounds worst-case
// acquire latency to acquire_timeout plus one foreign lease. It returns
// nil if name fails policy validation or the deadline elapses without
// success.
func (c *Client) Acquire(ctx context.Context, name string, opts ...AcquireOption) *Lock {
	var o acquireOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !c.policy.IsNameValid(name) {
		return nil
	}

	deadline := c.policy.Now().Add(c.policy.AcquireTimeout)
	var watching *Lock

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if lock, seen, firstSighting := c.acquireAttempt(ctx, name, o.payload, watching); lock != nil {
			return lock
		} else if seen != nil {
			watching = seen
			if firstSighting {
				deadline = deadline.Add(seen.Duration)
			}
		}

		if o.noWait {
			return nil
		}
		now := c.policy.Now()
		if !now.Before(deadline) {
			return nil
		}
		sleep := c.policy.RetryPeriod
		if remaining := deadline.Sub(now); remaining < sleep {
			sleep = remaining
		}
		dctx.Sleep(ctx, sleep)
	}
}

// acquireAttempt runs exactly one get-then-conditional-write iteration of
// the five-case state machine described by this package's design. It
// returns a non-nil Lock on success. Otherwise it returns a non-nil seen
// whenever it observes a live foreign lock (cases 4 and 5), with
// firstSighting true only for case 4 — the caller must extend the deadline
// on firstSighting and never again on a later rollover. watching is the
// record this call previously resolved to wait for, or nil if it has not
// seen a live foreign lock yet.
func (c *Client) acquireAttempt(ctx context.Context, name string, payload []byte, watching *Lock) (lock *Lock, seen *Lock, firstSighting bool) {
	current, err := c.gateway.Get(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		// Case 1: no record exists yet.
		return c.createLock(ctx, name, payload), nil, false

	case err != nil:
		c.logger.Warnf("acquire(%s): get failed: %s", name, err)
		return nil, nil, false
	}

	l := lockFromRecord(current, c.policy.Now())
	switch {
	case !l.IsLocked:
		// Case 2: stale tombstone, free for any contender to take.
		return c.overwriteTombstone(ctx, name, l, payload), nil, false

	case watching != nil && l.Version == watching.Version && watching.expired(c.policy.Now()):
		// Case 3: expected takeover — the lease we were watching has
		// elapsed by our clock and nobody refreshed it in the meantime.
		return c.takeover(ctx, name, l, payload), nil, false

	case watching == nil:
		// Case 4: first sighting of a live foreign lock. Start watching it
		// and signal the caller to extend the deadline exactly once.
		observed := l
		return nil, &observed, true

	case l.Version != watching.Version:
		// Case 5: rollover — the foreign holder refreshed its lease while
		// we waited. Replace watching but do not extend the deadline
		// again, or a fast-renewing holder could starve us indefinitely.
		observed := l
		return nil, &observed, false

	default:
		// Still watching the same unexpired version; nothing to do this
		// iteration but wait out the retry period.
		return nil, nil, false
	}
}

func (c *Client) createLock(ctx context.Context, name string, payload []byte) *Lock {
	now := c.policy.Now()
	l := Lock{
		Name:      name,
		Owner:     c.owner,
		Version:   c.policy.NewVersion(),
		Duration:  c.policy.LockDuration,
		Timestamp: now,
		IsLocked:  true,
		Payload:   payload,
	}
	rec := recordFromLock(l)
	if err := c.gateway.PutIfAbsent(ctx, rec); err != nil {
		if !errors.Is(err, ErrPrecondition) {
			c.logger.Warnf("acquire(%s): put_if_absent failed: %s", name, err)
		}
		return nil
	}
	return c.store(l)
}

func (c *Client) overwriteTombstone(ctx context.Context, name string, tombstone Lock, payload []byte) *Lock {
	now := c.policy.Now()
	l := Lock{
		Name:      name,
		Owner:     c.owner,
		Version:   c.policy.NewVersion(),
		Duration:  c.policy.LockDuration,
		Timestamp: now,
		IsLocked:  true,
		Payload:   payload,
	}
	updates := map[string]any{
		FieldOwner:    l.Owner,
		FieldVersion:  l.Version,
		FieldDuration: durationMS(l.Duration),
		FieldIsLocked: true,
		FieldPayload:  l.Payload,
	}
	expected := map[string]any{
		FieldIsLocked: false,
		FieldVersion:  tombstone.Version,
		FieldName:     name,
	}
	if err := c.gateway.UpdateIf(ctx, name, updates, expected); err != nil {
		if !errors.Is(err, ErrPrecondition) {
			c.logger.Warnf("acquire(%s): tombstone overwrite failed: %s", name, err)
		}
		return nil
	}
	return c.store(l)
}

func (c *Client) takeover(ctx context.Context, name string, expiredLock Lock, payload []byte) *Lock {
	now := c.policy.Now()
	l := Lock{
		Name:      name,
		Owner:     c.owner,
		Version:   c.policy.NewVersion(),
		Duration:  c.policy.LockDuration,
		Timestamp: now,
		IsLocked:  true,
		Payload:   payload,
	}
	updates := map[string]any{
		FieldOwner:    l.Owner,
		FieldVersion:  l.Version,
		FieldDuration: durationMS(l.Duration),
		FieldIsLocked: true,
		FieldPayload:  l.Payload,
	}
	expected := map[string]any{
		FieldVersion: expiredLock.Version,
		FieldName:    name,
	}
	if err := c.gateway.UpdateIf(ctx, name, updates, expected); err != nil {
		if !errors.Is(err, ErrPrecondition) {
			c.logger.Warnf("acquire(%s): takeover failed: %s", name, err)
		}
		return nil
	}
	return c.store(l)
}

// store inserts l into the owned-lease cache and returns a pointer to a
// copy of it; Lock values are never mutated after this point.
func (c *Client) store(l Lock) *Lock {
	c.mu.Lock()
	c.cache[l.Name] = l
	c.mu.Unlock()
	out := l
	return &out
}

// Release releases lock. If deleteRow is nil, the policy default is used.
// It returns false without contacting the store if the lock is not (by
// this client's own local reckoning) one this client still owns, still
// marked locked, and not locally expired.
func (c *Client) Release(ctx context.Context, lock *Lock, deleteRow *bool) bool {
	if lock == nil {
		return false
	}
	del := *c.policy.DeleteLock
	if deleteRow != nil {
		del = *deleteRow
	}
	if lock.Owner != c.owner || !lock.IsLocked || !c.policy.IsNameValid(lock.Name) || lock.expired(c.policy.Now()) {
		return false
	}

	var err error
	if del {
		expected := map[string]any{
			FieldVersion: lock.Version,
			FieldName:    lock.Name,
		}
		err = c.gateway.DeleteIf(ctx, lock.Name, expected)
	} else {
		updates := map[string]any{
			FieldIsLocked: false,
			FieldVersion:  c.policy.NewVersion(),
			FieldDuration: durationMS(lock.Duration),
		}
		expected := map[string]any{
			FieldVersion: lock.Version,
			FieldOwner:   lock.Owner,
			FieldName:    lock.Name,
		}
		err = c.gateway.UpdateIf(ctx, lock.Name, updates, expected)
	}
	if err != nil {
		if !errors.Is(err, ErrPrecondition) {
			c.logger.Warnf("release(%s): %s", lock.Name, err)
		}
		return false
	}

	c.mu.Lock()
	delete(c.cache, lock.Name)
	c.mu.Unlock()
	return true
}

// ReleaseAll releases every cache entry and reports whether all of them
// succeeded. Every entry is attempted regardless of earlier failures: this
// must not short-circuit, so a failure on one name never prevents release
// attempts on the rest.
func (c *Client) ReleaseAll(ctx context.Context, deleteRow *bool) bool {
	c.mu.Lock()
	locks := make([]Lock, 0, len(c.cache))
	for _, l := range c.cache {
		locks = append(locks, l)
	}
	c.mu.Unlock()

	ok := true
	for _, l := range locks {
		lock := l
		if !c.Release(ctx, &lock, deleteRow) {
			ok = false
		}
	}
	return ok
}

// Touch re-stamps lock's version and timestamp to keep its lease alive,
// called by the heartbeat worker for every cached entry. It returns nil
// (without evicting the cache entry itself — that is the worker's job) if
// the lock is no longer this client's by local reckoning or the
// conditional write lost its race.
func (c *Client) Touch(ctx context.Context, lock Lock) *Lock {
	if lock.Owner != c.owner || !lock.IsLocked || !c.policy.IsNameValid(lock.Name) {
		return nil
	}
	now := c.policy.Now()
	newVersion := c.policy.NewVersion()
	updates := map[string]any{
		FieldVersion:  newVersion,
		FieldDuration: durationMS(lock.Duration),
	}
	expected := map[string]any{
		FieldVersion: lock.Version,
		FieldOwner:   lock.Owner,
		FieldName:    lock.Name,
	}
	if err := c.gateway.UpdateIf(ctx, lock.Name, updates, expected); err != nil {
		if !errors.Is(err, ErrPrecondition) {
			c.logger.Warnf("touch(%s): %s", lock.Name, err)
		}
		return nil
	}
	next := lock
	next.Version = newVersion
	next.Timestamp = now
	return c.store(next)
}

// Retrieve returns a view-only snapshot of name with Version stripped (so
// it cannot be round-tripped into a write), or nil if the record does not
// exist or has been released (is_locked == false). It prefers the cache
// when name is owned by this client; otherwise it issues a consistent Get.
func (c *Client) Retrieve(ctx context.Context, name string) *Lock {
	c.mu.Lock()
	if l, ok := c.cache[name]; ok {
		c.mu.Unlock()
		l.Version = ""
		return &l
	}
	c.mu.Unlock()

	rec, err := c.gateway.Get(ctx, name)
	if err != nil {
		return nil
	}
	l := lockFromRecord(rec, c.policy.Now())
	if !l.IsLocked {
		return nil
	}
	l.Version = ""
	return &l
}

// Exists reports whether Retrieve(ctx, name) would return a non-nil Lock.
func (c *Client) Exists(ctx context.Context, name string) bool {
	return c.Retrieve(ctx, name) != nil
}

func durationMS(d time.Duration) int64 {
	return d.Milliseconds()
}

func recordFromLock(l Lock) Record {
	return Record{
		Name:     l.Name,
		Owner:    l.Owner,
		Version:  l.Version,
		Duration: durationMS(l.Duration),
		IsLocked: l.IsLocked,
		Payload:  l.Payload,
	}
}

// lockFromRecord builds the client's view of a Gateway-returned Record.
// Timestamp is stamped to now because it is never part of a Record: it is
// this client's own local read time, per this package's design.
func lockFromRecord(rec Record, now time.Time) Lock {
	return Lock{
		Name:      rec.Name,
		Owner:     rec.Owner,
		Version:   rec.Version,
		Duration:  time.Duration(rec.Duration) * time.Millisecond,
		Timestamp: now,
		IsLocked:  rec.IsLocked,
		Payload:   rec.Payload,
	}
}

