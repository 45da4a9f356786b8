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
package errors

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalid is reported when an input value does not satisfy the contract of the function
	ErrInvalid = goerrors.New("invalid input")
	// ErrNotExist is reported when the requested object does not exist
	ErrNotExist = goerrors.New("not found")
	// ErrExist is reported when the object is expected to not exist, but it does
	ErrExist = goerrors.New("already exists")
	// ErrConflict is reported when an optimistic concurrency check (a conditional write) fails
	ErrConflict = goerrors.New("conflict")
	// ErrClosed is reported when an operation is attempted on an object that has been shut down
	ErrClosed = goerrors.New("closed")
	// ErrInternal is reported for an unexpected internal condition
	ErrInternal = goerrors.New("internal error")
	// ErrNotAuthorized is reported when the caller is not allowed to perform the operation
	ErrNotAuthorized = goerrors.New("not authorized")
	// ErrDataLoss is reported when unrecoverable data loss or corruption is detected
	ErrDataLoss = goerrors.New("data loss")
	// ErrExhausted is reported when a resource has been exhausted
	ErrExhausted = goerrors.New("exhausted")
	// ErrUnimplemented is reported when the operation is not implemented
	ErrUnimplemented = goerrors.New("not implemented")
	// ErrCanceled is reported when an operation was canceled, typically via a context
	ErrCanceled = goerrors.New("canceled")
	// ErrCommunication is reported for a transport-level failure talking to a backing store
	ErrCommunication = goerrors.New("communication error")
)

// jsonErrorMarker delimits a JSON-encoded payload embedded into an error's message by EmbedObject.
const jsonErrorMarker = "\x00eo\x00"

// Is reports whether err matches target, the same way errors.Is does, following %w wrapping chains.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// EmbedObject wraps obj into an error derived from base, so that later Is(err, base) is true and
// ExtractObject(err, &obj) recovers obj. obj and base must not be nil; embedding into an error that
// already carries an embedded object panics.
func EmbedObject(obj any, base error) error {
	if obj == nil {
		panic("errors.EmbedObject: obj must not be nil")
	}
	if base == nil {
		panic("errors.EmbedObject: base must not be nil")
	}
	if strings.Contains(base.Error(), jsonErrorMarker) {
		panic("errors.EmbedObject: base already carries an embedded object")
	}
	buf, err := json.Marshal(obj)
	if err != nil {
		panic(fmt.Sprintf("errors.EmbedObject: could not marshal object: %s", err))
	}
	return fmt.Errorf("%w: %s%s%s", base, jsonErrorMarker, buf, jsonErrorMarker)
}

// ExtractObject recovers a value embedded into err by EmbedObject into target, which must be a
// non-nil pointer. It returns false if err is nil or carries no well-formed embedded object.
func ExtractObject(err error, target any) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	start := strings.Index(msg, jsonErrorMarker)
	if start < 0 {
		return false
	}
	rest := msg[start+len(jsonErrorMarker):]
	end := strings.Index(rest, jsonErrorMarker)
	if end < 0 {
		return false
	}
	payload := rest[:end]
	if json.Unmarshal([]byte(payload), target) != nil {
		return false
	}
	return true
}
