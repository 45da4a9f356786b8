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
	"fmt"
)

// With acquires name, invokes fn with the held lock, and releases it
// afterwards regardless of whether fn returns an error or panics. It
// reports ErrNotFound-shaped failure as a plain error rather than a nil
// lock, since a scope block has no other way to signal "could not
// acquire" to its caller.
func With(ctx context.Context, c *Client, name string, fn func(*Lock) error, opts ...AcquireOption) (err error) {
	lock := c.Acquire(ctx, name, opts...)
	if lock == nil {
		return fmt.Errorf("dynalock: could not acquire %q", name)
	}
	defer func() {
		if r := recover(); r != nil {
			c.Release(ctx, lock, nil)
			panic(r)
		}
	}()
	err = fn(lock)
	c.Release(ctx, lock, nil)
	return err
}
