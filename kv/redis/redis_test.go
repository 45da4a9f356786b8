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
package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquirecloud/dynalock"
	"github.com/acquirecloud/dynalock/golibs/errors"
	"github.com/acquirecloud/dynalock/kv/redis"
)

func newTestGateway(t *testing.T) *redis.Gateway {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.New(rdb, "locks-test")
}

func TestRedisGatewayGetMissing(t *testing.T) {
	gw := newTestGateway(t)
	_, err := gw.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, dynalock.ErrNotFound))
}

func TestRedisGatewayPutIfAbsent(t *testing.T) {
	gw := newTestGateway(t)
	rec := dynalock.Record{Name: "job", Owner: "o1", Version: "v1", Duration: 1000, IsLocked: true}
	require.NoError(t, gw.PutIfAbsent(context.Background(), rec))

	err := gw.PutIfAbsent(context.Background(), rec)
	assert.True(t, errors.Is(err, dynalock.ErrPrecondition))

	got, err := gw.Get(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRedisGatewayUpdateIf(t *testing.T) {
	gw := newTestGateway(t)
	require.NoError(t, gw.PutIfAbsent(context.Background(), dynalock.Record{
		Name: "job", Owner: "o1", Version: "v1", IsLocked: true,
	}))

	err := gw.UpdateIf(context.Background(), "job",
		map[string]any{dynalock.FieldVersion: "v2"},
		map[string]any{dynalock.FieldVersion: "wrong"})
	assert.True(t, errors.Is(err, dynalock.ErrPrecondition))

	require.NoError(t, gw.UpdateIf(context.Background(), "job",
		map[string]any{dynalock.FieldVersion: "v2"},
		map[string]any{dynalock.FieldVersion: "v1"}))

	got, err := gw.Get(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Version)
}

func TestRedisGatewayDeleteIf(t *testing.T) {
	gw := newTestGateway(t)
	require.NoError(t, gw.PutIfAbsent(context.Background(), dynalock.Record{
		Name: "job", Owner: "o1", Version: "v1",
	}))

	err := gw.DeleteIf(context.Background(), "job", map[string]any{dynalock.FieldVersion: "wrong"})
	assert.True(t, errors.Is(err, dynalock.ErrPrecondition))

	require.NoError(t, gw.DeleteIf(context.Background(), "job", map[string]any{dynalock.FieldVersion: "v1"}))
	_, err = gw.Get(context.Background(), "job")
	assert.True(t, errors.Is(err, dynalock.ErrNotFound))
}
