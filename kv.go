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

import "context"

// Field names used as keys in the updates/expected maps passed to
// Gateway.UpdateIf and Gateway.DeleteIf. These are logical field names, not
// backend attribute names: the DynamoDB Gateway is constructed with a Schema
// and translates between the two internally; the other Gateways store the
// logical fields under their own fixed keys.
const (
	FieldName     = "name"
	FieldOwner    = "owner"
	FieldVersion  = "version"
	FieldDuration = "duration"
	FieldIsLocked = "is_locked"
	FieldPayload  = "payload"
)

// Record is the backend-neutral representation of a lock row: the schema
// adapter's forward mapping produces one from a Lock before a write, and its
// reverse mapping builds a Lock from one after a read. A backend never sees
// a field named "timestamp" — that value is client-local only, per this
// package's design.
type Record struct {
	Name     string
	Owner    string
	Version  string
	Duration int64 // milliseconds
	IsLocked bool
	Payload  []byte
}

// Gateway is the only surface the lock client uses to reach a backing
// store. Every method is a single, non-transactional, conditional
// operation on one row; none of them is allowed to partially apply.
//
// Every method returns success or one of three errors: ErrNotFound (a
// missing row), ErrPrecondition (a conditional check did not hold), or a
// transport error distinguishable from the other two via
// golibs/errors.Is. Callers rely on being able to tell a lost race
// (ErrPrecondition, expected and retryable by re-reading) apart from a
// communication failure (unexpected, logged, also retried at a higher
// level) and from a missing row (ErrNotFound, which the client acts on
// only after Get).
type Gateway interface {
	// Get performs a consistent read of name. It returns ErrNotFound if no
	// row exists for name.
	Get(ctx context.Context, name string) (Record, error)

	// PutIfAbsent writes record only if no row currently exists for
	// record.Name. It returns ErrPrecondition if one does.
	PutIfAbsent(ctx context.Context, record Record) error

	// UpdateIf applies updates to name only if every (field, value) pair in
	// expected currently holds in the store. It returns ErrPrecondition
	// otherwise. A row that does not exist at all yields ErrNotFound from
	// the in-memory, BuntDB and Redis Gateways and ErrPrecondition from the
	// DynamoDB Gateway. Version and Duration are always part of updates; the
	// gateway never derives them on the caller's behalf.
	UpdateIf(ctx context.Context, name string, updates, expected map[string]any) error

	// DeleteIf deletes name only if every (field, value) pair in expected
	// currently holds in the store. It returns ErrPrecondition otherwise.
	DeleteIf(ctx context.Context, name string, expected map[string]any) error
}
