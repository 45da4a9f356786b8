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
package buntdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquirecloud/dynalock"
	"github.com/acquirecloud/dynalock/golibs/errors"
	"github.com/acquirecloud/dynalock/kv/buntdb"
)

func openTestGateway(t *testing.T) *buntdb.Gateway {
	t.Helper()
	gw, err := buntdb.Open(buntdb.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestGatewayGetMissing(t *testing.T) {
	gw := openTestGateway(t)
	_, err := gw.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, dynalock.ErrNotFound))
}

func TestGatewayPutIfAbsent(t *testing.T) {
	gw := openTestGateway(t)
	rec := dynalock.Record{Name: "job", Owner: "o1", Version: "v1", Duration: 1000, IsLocked: true}
	require.NoError(t, gw.PutIfAbsent(context.Background(), rec))

	err := gw.PutIfAbsent(context.Background(), rec)
	assert.True(t, errors.Is(err, dynalock.ErrPrecondition))

	got, err := gw.Get(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestGatewayUpdateIf(t *testing.T) {
	gw := openTestGateway(t)
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

func TestGatewayDeleteIf(t *testing.T) {
	gw := openTestGateway(t)
	require.NoError(t, gw.PutIfAbsent(context.Background(), dynalock.Record{
		Name: "job", Owner: "o1", Version: "v1",
	}))

	err := gw.DeleteIf(context.Background(), "job", map[string]any{dynalock.FieldVersion: "wrong"})
	assert.True(t, errors.Is(err, dynalock.ErrPrecondition))

	require.NoError(t, gw.DeleteIf(context.Background(), "job", map[string]any{dynalock.FieldVersion: "v1"}))
	_, err = gw.Get(context.Background(), "job")
	assert.True(t, errors.Is(err, dynalock.ErrNotFound))
}

func TestGatewayPayloadRoundTrips(t *testing.T) {
	gw := openTestGateway(t)
	rec := dynalock.Record{Name: "job", Owner: "o1", Version: "v1", Payload: []byte("hello")}
	require.NoError(t, gw.PutIfAbsent(context.Background(), rec))

	got, err := gw.Get(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)
}
