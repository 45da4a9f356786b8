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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockExpired(t *testing.T) {
	start := time.Now()
	l := Lock{Timestamp: start, Duration: time.Minute}

	assert.False(t, l.expired(start))
	assert.False(t, l.expired(start.Add(time.Minute)), "exactly at the boundary is not yet expired")
	assert.True(t, l.expired(start.Add(time.Minute+time.Nanosecond)))
}

func TestLockSameRecord(t *testing.T) {
	a := Lock{Name: "job", Version: "v1"}
	b := Lock{Name: "job", Version: "v1"}
	c := Lock{Name: "job", Version: "v2"}
	d := Lock{Name: "other", Version: "v1"}

	assert.True(t, a.sameRecord(b))
	assert.False(t, a.sameRecord(c))
	assert.False(t, a.sameRecord(d))
}
