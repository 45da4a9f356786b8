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

// Package redis is a dynalock.Gateway backed by a single Redis key per
// lock, using WATCH/MULTI optimistic transactions for every conditional
// write.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"github.com/acquirecloud/dynalock"
	"github.com/acquirecloud/dynalock/golibs/errors"
)

// Gateway is a dynalock.Gateway backed by Redis.
type Gateway struct {
	rdb    *goredis.Client
	prefix string
}

// New returns a Gateway using rdb, namespacing every key under
// "<keyPrefix>/<lock name>".
func New(rdb *goredis.Client, keyPrefix string) *Gateway {
	return &Gateway{rdb: rdb, prefix: keyPrefix}
}

var _ dynalock.Gateway = (*Gateway)(nil)

// wireRecord is the JSON-on-the-wire shape stored at each key. The teacher
// repo's own Redis backend serializes kvs.Record via a generated protobuf
// type (golibs/kvs/genproto/golibskvspb); that generated package is not
// present in this module's source tree and regenerating it is out of
// reach without running protoc, so this Gateway serializes with
// encoding/json instead, the same substitution the rest of this module's
// JSON-first ambient stack uses elsewhere.
type wireRecord struct {
	Owner    string `json:"owner"`
	Version  string `json:"version"`
	Duration int64  `json:"duration"`
	IsLocked bool   `json:"is_locked"`
	Payload  []byte `json:"payload,omitempty"`
}

func (g *Gateway) key(name string) string {
	return fmt.Sprintf("%s/%s", g.prefix, name)
}

func (g *Gateway) Get(ctx context.Context, name string) (dynalock.Record, error) {
	val, err := g.rdb.Get(ctx, g.key(name)).Bytes()
	if err != nil {
		return dynalock.Record{}, checkErr(err)
	}
	return decode(name, val)
}

func (g *Gateway) PutIfAbsent(ctx context.Context, record dynalock.Record) error {
	buf, err := encode(record)
	if err != nil {
		return err
	}
	ok, err := g.rdb.SetNX(ctx, g.key(record.Name), buf, 0).Result()
	if err != nil {
		return checkErr(err)
	}
	if !ok {
		return dynalock.ErrPrecondition
	}
	return nil
}

func (g *Gateway) UpdateIf(ctx context.Context, name string, updates, expected map[string]any) error {
	key := g.key(name)
	return g.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return checkErr(err)
		}
		rec, err := decode(name, val)
		if err != nil {
			return err
		}
		if !matches(rec, name, expected) {
			return dynalock.ErrPrecondition
		}
		applyUpdates(&rec, updates)
		buf, err := encode(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return pipe.Set(ctx, key, buf, 0).Err()
		})
		return checkErr(err)
	}, key)
}

func (g *Gateway) DeleteIf(ctx context.Context, name string, expected map[string]any) error {
	key := g.key(name)
	return g.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return checkErr(err)
		}
		rec, err := decode(name, val)
		if err != nil {
			return err
		}
		if !matches(rec, name, expected) {
			return dynalock.ErrPrecondition
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return pipe.Del(ctx, key).Err()
		})
		return checkErr(err)
	}, key)
}

func matches(r dynalock.Record, name string, expected map[string]any) bool {
	for field, want := range expected {
		switch field {
		case dynalock.FieldName:
			if name != want {
				return false
			}
		case dynalock.FieldOwner:
			if r.Owner != want {
				return false
			}
		case dynalock.FieldVersion:
			if r.Version != want {
				return false
			}
		case dynalock.FieldIsLocked:
			if r.IsLocked != want {
				return false
			}
		case dynalock.FieldDuration:
			if r.Duration != toInt64(want) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func applyUpdates(r *dynalock.Record, updates map[string]any) {
	for field, v := range updates {
		switch field {
		case dynalock.FieldOwner:
			r.Owner = v.(string)
		case dynalock.FieldVersion:
			r.Version = v.(string)
		case dynalock.FieldIsLocked:
			r.IsLocked = v.(bool)
		case dynalock.FieldDuration:
			r.Duration = toInt64(v)
		case dynalock.FieldPayload:
			if v == nil {
				r.Payload = nil
			} else {
				r.Payload = v.([]byte)
			}
		}
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func encode(r dynalock.Record) ([]byte, error) {
	return json.Marshal(wireRecord{
		Owner:    r.Owner,
		Version:  r.Version,
		Duration: r.Duration,
		IsLocked: r.IsLocked,
		Payload:  r.Payload,
	})
}

func decode(name string, buf []byte) (dynalock.Record, error) {
	var w wireRecord
	if err := json.Unmarshal(buf, &w); err != nil {
		return dynalock.Record{}, fmt.Errorf("could not decode lock record %q: %w", name, err)
	}
	return dynalock.Record{
		Name:     name,
		Owner:    w.Owner,
		Version:  w.Version,
		Duration: w.Duration,
		IsLocked: w.IsLocked,
		Payload:  w.Payload,
	}, nil
}

func checkErr(err error) error {
	if err == nil {
		return nil
	}
	if err == goredis.Nil {
		return errors.ErrNotExist
	}
	if err == goredis.TxFailedErr {
		// Another writer changed the watched key between our read and our
		// EXEC; from the caller's point of view that is indistinguishable
		// from losing the conditional check outright.
		return dynalock.ErrPrecondition
	}
	return err
}
