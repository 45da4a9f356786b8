// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
/*
Package errors contains a small set of general error classes that every
component in this module uses to describe the outcome of an operation. Code
should compare against these sentinels with Is, not with string matching or
type assertions, so that a backing-store specific error (a DynamoDB
ConditionalCheckFailedException, a Redis transaction failure, ...) can be
reported uniformly to callers who only need to know whether a write lost a
conditional check, a key was missing, or the call failed in transport.
*/
package errors
