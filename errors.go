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

import "github.com/acquirecloud/dynalock/golibs/errors"

// The three outcomes a Gateway call can fail with, expressed in terms of
// this module's shared error taxonomy so that callers compare with
// errors.Is instead of backend-specific sentinel values.
var (
	// ErrNotFound is returned by Get when no row exists for the requested
	// name.
	ErrNotFound = errors.ErrNotExist
	// ErrPrecondition is returned by PutIfAbsent, UpdateIf, and DeleteIf
	// when the conditional check did not hold. It is expected and normal:
	// it means another contender's write won the race.
	ErrPrecondition = errors.ErrConflict
)
