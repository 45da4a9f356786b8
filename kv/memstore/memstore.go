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

// Package memstore is a mutex-guarded, in-process dynalock.Gateway used by
// this module's own test suite. It has no external dependency and offers
// the same conditional-write semantics the other backends offer over the
// network.
package memstore

import (
	"context"
	"sync"

	"github.com/acquirecloud/dynalock"
	"github.com/acquirecloud/dynalock/golibs/errors"
)

// Store is an in-memory dynalock.Gateway.
type Store struct {
	mu   sync.Mutex
	recs map[string]dynalock.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{recs: make(map[string]dynalock.Record)}
}

var _ dynalock.Gateway = (*Store)(nil)

func (s *Store) Get(_ context.Context, name string) (dynalock.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[name]
	if !ok {
		return dynalock.Record{}, errors.ErrNotExist
	}
	return r, nil
}

func (s *Store) PutIfAbsent(_ context.Context, record dynalock.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[record.Name]; ok {
		return errors.ErrConflict
	}
	s.recs[record.Name] = record
	return nil
}

func (s *Store) UpdateIf(_ context.Context, name string, updates, expected map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[name]
	if !ok {
		return errors.ErrNotExist
	}
	if !matches(r, name, expected) {
		return errors.ErrConflict
	}
	s.recs[name] = applyUpdates(r, updates)
	return nil
}

func (s *Store) DeleteIf(_ context.Context, name string, expected map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[name]
	if !ok {
		return errors.ErrNotExist
	}
	if !matches(r, name, expected) {
		return errors.ErrConflict
	}
	delete(s.recs, name)
	return nil
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

func applyUpdates(r dynalock.Record, updates map[string]any) dynalock.Record {
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
	return r
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
