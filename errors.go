// Copyright 2015 Google Inc. All Rights Reserved.
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

package linkmonitor

import "fmt"

// ErrKind classifies the failures a command-surface call can return.
type ErrKind int

const (
	// NotFound indicates a command targeted an ifindex not in the cache.
	NotFound ErrKind = iota

	// InvalidArgument indicates an unsupported link kind or malformed name.
	InvalidArgument

	// TransportFailure indicates kernel communication failed at the
	// netlink level for reasons other than success or EEXIST.
	TransportFailure

	// ExistsAlready is surfaced only by no-clobber variants of create;
	// the default Create collapses this case into success.
	ExistsAlready

	// Internal indicates a cache invariant violation or an unparseable
	// kernel reply. It always indicates a bug in this package.
	Internal
)

func (k ErrKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case InvalidArgument:
		return "invalid argument"
	case TransportFailure:
		return "transport failure"
	case ExistsAlready:
		return "exists already"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every command-surface operation.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, &Error{Kind: NotFound}) to match on kind
// alone; callers should prefer IsNotFound and friends below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsNotFound reports whether err is a NotFound command-surface error.
func IsNotFound(err error) bool {
	return errKindIs(err, NotFound)
}

// IsInvalidArgument reports whether err is an InvalidArgument error.
func IsInvalidArgument(err error) bool {
	return errKindIs(err, InvalidArgument)
}

// IsTransportFailure reports whether err is a TransportFailure error.
func IsTransportFailure(err error) bool {
	return errKindIs(err, TransportFailure)
}

func errKindIs(err error, kind ErrKind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
