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
	"os"
	"time"

	"github.com/google/uuid"
)

// Policy carries the timing constants and the identity/version/clock
// generators the lock client uses. Every generator is a field, not a
// hardcoded call, so tests can inject a deterministic clock and predictable
// owner/version values the way the scenarios in this package's tests do.
type Policy struct {
	// AcquireTimeout bounds how long a single Acquire call may spend
	// retrying before giving up.
	AcquireTimeout time.Duration
	// RetryPeriod is the sleep between contention polls inside Acquire.
	RetryPeriod time.Duration
	// LockDuration is the default lease length stamped into newly acquired
	// locks.
	LockDuration time.Duration
	// DeleteLock is the default release mode: true deletes the record,
	// false marks it as a tombstone (is_locked=false) for reuse. A nil
	// pointer means "unset" and is filled from DefaultPolicy by
	// withDefaults; a plain bool could not tell an explicit false apart
	// from a caller who simply omitted the field.
	DeleteLock *bool
	// HeartbeatPeriod is the cadence of the background worker.
	HeartbeatPeriod time.Duration

	// NewOwner returns a fresh owner id, called once per client instance.
	NewOwner func() string
	// NewVersion returns a fresh, collision-resistant version token, called
	// on every successful write.
	NewVersion func() string
	// Now returns the client's current wall-clock time.
	Now func() time.Time
	// IsNameValid reports whether name may be used as a lock name.
	IsNameValid func(name string) bool
}

// DefaultPolicy returns a Policy with the defaults described in this
// package's design: a 10s acquire timeout, a 10s retry period, a 60s lock
// duration, delete-on-release, and a 10s heartbeat period.
func DefaultPolicy() Policy {
	return Policy{
		AcquireTimeout:  10 * time.Second,
		RetryPeriod:     10 * time.Second,
		LockDuration:    60 * time.Second,
		DeleteLock:      boolPtr(true),
		HeartbeatPeriod: 10 * time.Second,
		NewOwner:        newOwner,
		NewVersion:      newVersion,
		Now:             time.Now,
		IsNameValid:     func(name string) bool { return name != "" },
	}
}

// withDefaults fills any zero-valued field of p with DefaultPolicy's value,
// so a caller may supply a partial Policy struct literal.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.AcquireTimeout == 0 {
		p.AcquireTimeout = d.AcquireTimeout
	}
	if p.RetryPeriod == 0 {
		p.RetryPeriod = d.RetryPeriod
	}
	if p.LockDuration == 0 {
		p.LockDuration = d.LockDuration
	}
	if p.DeleteLock == nil {
		p.DeleteLock = d.DeleteLock
	}
	if p.HeartbeatPeriod == 0 {
		p.HeartbeatPeriod = d.HeartbeatPeriod
	}
	if p.NewOwner == nil {
		p.NewOwner = d.NewOwner
	}
	if p.NewVersion == nil {
		p.NewVersion = d.NewVersion
	}
	if p.Now == nil {
		p.Now = d.Now
	}
	if p.IsNameValid == nil {
		p.IsNameValid = d.IsNameValid
	}
	return p
}

func boolPtr(b bool) *bool { return &b }

// newOwner builds the default owner id: <host>.<random-uuid>, giving each
// client instance in a process a distinct identity even when several run on
// the same host.
func newOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return host + "." + uuid.NewString()
}

// newVersion returns a random UUID. Monotonic counters are deliberately not
// an option here: the acquire state machine's takeover branch compares
// versions for equality across independent clients, and a counter shared by
// convention (not by coordination) could collide or be replayed.
func newVersion() string {
	return uuid.NewString()
}
