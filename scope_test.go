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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquirecloud/dynalock/kv/memstore"
)

func TestWithReleasesAfterFn(t *testing.T) {
	store := memstore.New()
	c := NewClient(store, DefaultPolicy(), Schema{})

	var sawLock *Lock
	err := With(context.Background(), c, "job", func(l *Lock) error {
		sawLock = l
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, sawLock)
	assert.False(t, c.Exists(context.Background(), "job"), "With must release the lock once fn returns")
}

func TestWithPropagatesFnError(t *testing.T) {
	store := memstore.New()
	c := NewClient(store, DefaultPolicy(), Schema{})

	boom := errors.New("boom")
	err := With(context.Background(), c, "job", func(l *Lock) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Exists(context.Background(), "job"), "a failing fn must still release the lock")
}

func TestWithReleasesOnPanic(t *testing.T) {
	store := memstore.New()
	c := NewClient(store, DefaultPolicy(), Schema{})

	assert.Panics(t, func() {
		_ = With(context.Background(), c, "job", func(l *Lock) error {
			panic("boom")
		})
	})
	assert.False(t, c.Exists(context.Background(), "job"), "a panicking fn must still release the lock")
}

func TestWithReturnsErrorWhenAcquireFails(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.PutIfAbsent(context.Background(), Record{
		Name: "job", Owner: "other", Version: "v1", Duration: 60000, IsLocked: true,
	}))

	c := NewClient(store, DefaultPolicy(), Schema{})
	err := With(context.Background(), c, "job", func(l *Lock) error {
		t.Fatal("fn must not run when acquire fails")
		return nil
	}, WithNoWait())
	assert.Error(t, err)
}
