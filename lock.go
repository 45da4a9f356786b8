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

// Package dynalock implements distributed advisory locks on top of a
// conditional-update key-value store. A Lock is a lease: the holder must
// keep renewing it (directly, via Touch, or through the client's background
// worker) or another contender may eventually take it over.
package dynalock

import "time"

// Lock is an immutable snapshot of a named lock's state at some point in
// time. Every operation that changes a lock's state (Acquire, Touch, a
// contender's takeover) returns a new Lock value; none of them is ever
// mutated in place, which is what lets the heartbeat worker snapshot a set
// of held locks without copying each record defensively.
type Lock struct {
	// Name is the user-supplied identifier and the record's primary key.
	Name string
	// Owner identifies the client instance that last wrote this record.
	Owner string
	// Version is an opaque token regenerated on every successful write and
	// used as the sole compare-and-set witness between contenders.
	Version string
	// Duration is the lease length.
	Duration time.Duration
	// Timestamp is the wall-clock instant at which this client last read or
	// wrote the record. It is client-local only: it is never persisted to
	// the backing store and never copied from a value read from the store.
	Timestamp time.Time
	// IsLocked is false for a tombstone left behind by a non-deleting
	// release; such a record may be overwritten by any contender.
	IsLocked bool
	// Payload is opaque data the lock holder publishes alongside the lease.
	Payload []byte
}

// expired reports whether this Lock's lease has elapsed as measured by the
// observing client's own clock: now > timestamp + duration. Because
// Timestamp is always the observer's local read/write time, no clock
// synchronization between clients is required; skew only shifts fairness,
// never safety, since the takeover branch is gated on version equality.
func (l Lock) expired(now time.Time) bool {
	return now.After(l.Timestamp.Add(l.Duration))
}

// sameRecord reports whether l and other identify the same backing-store
// row (by name) and the same version of it. The acquire state machine does
// not call it; it compares Version fields directly to notice a rollover.
func (l Lock) sameRecord(other Lock) bool {
	return l.Name == other.Name && l.Version == other.Version
}
