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

// Package buntdb is a dynalock.Gateway backed by an embedded
// tidwall/buntdb database, useful for single-process deployments and for
// integration tests that want real conditional-write semantics without a
// network dependency. Get runs inside a read-only BuntDB transaction and
// every conditional write inside one BuntDB read/write transaction, so the
// conditional check and the write that
// depends on it are atomic by construction — there is no WATCH/MULTI
// ceremony needed the way there is for Redis.
package buntdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/buntdb"

	"github.com/acquirecloud/dynalock"
	"github.com/acquirecloud/dynalock/golibs/errors"
	"github.com/acquirecloud/dynalock/golibs/logging"
)

// Config configures a Gateway's backing file.
type Config struct {
	// DBFilePath is the path to the BuntDB file. Empty uses an in-memory
	// database, useful for tests.
	DBFilePath string
}

// Gateway is a dynalock.Gateway backed by BuntDB.
type Gateway struct {
	cfg    Config
	db     *buntdb.DB
	logger logging.Logger
}

// Open creates and opens a Gateway per cfg.
func Open(cfg Config) (*Gateway, error) {
	path := cfg.DBFilePath
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("buntdb.Open(%s) failed: %w", path, err)
	}
	return &Gateway{cfg: cfg, db: db, logger: logging.NewLogger("buntdb.Gateway")}, nil
}

// Close closes the underlying database file.
func (g *Gateway) Close() error {
	return g.db.Close()
}

var _ dynalock.Gateway = (*Gateway)(nil)

type wireRecord struct {
	Owner    string `json:"owner"`
	Version  string `json:"version"`
	Duration int64  `json:"duration"`
	IsLocked bool   `json:"is_locked"`
	Payload  []byte `json:"payload,omitempty"`
}

func (g *Gateway) Get(_ context.Context, name string) (dynalock.Record, error) {
	var rec dynalock.Record
	err := g.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(name)
		if err == buntdb.ErrNotFound {
			return errors.ErrNotExist
		}
		if err != nil {
			return err
		}
		rec, err = decode(name, val)
		return err
	})
	return rec, err
}

func (g *Gateway) PutIfAbsent(_ context.Context, record dynalock.Record) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(record.Name); err == nil {
			return dynalock.ErrPrecondition
		} else if err != buntdb.ErrNotFound {
			return err
		}
		buf, err := encode(record)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(record.Name, buf, nil)
		return err
	})
}

func (g *Gateway) UpdateIf(_ context.Context, name string, updates, expected map[string]any) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(name)
		if err == buntdb.ErrNotFound {
			return errors.ErrNotExist
		}
		if err != nil {
			return err
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
		_, _, err = tx.Set(name, buf, nil)
		return err
	})
}

func (g *Gateway) DeleteIf(_ context.Context, name string, expected map[string]any) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get(name)
		if err == buntdb.ErrNotFound {
			return errors.ErrNotExist
		}
		if err != nil {
			return err
		}
		rec, err := decode(name, val)
		if err != nil {
			return err
		}
		if !matches(rec, name, expected) {
			return dynalock.ErrPrecondition
		}
		_, err = tx.Delete(name)
		return err
	})
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

func encode(r dynalock.Record) (string, error) {
	buf, err := json.Marshal(wireRecord{
		Owner:    r.Owner,
		Version:  r.Version,
		Duration: r.Duration,
		IsLocked: r.IsLocked,
		Payload:  r.Payload,
	})
	return string(buf), err
}

func decode(name, val string) (dynalock.Record, error) {
	var w wireRecord
	if err := json.Unmarshal([]byte(val), &w); err != nil {
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
