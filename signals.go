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

// SignalKind distinguishes the three events a subscriber can be told
// about. There is no "no change" signal: reconcile never emits one.
type SignalKind int

const (
	// LinkAdded is emitted when an identity gains a kernel object it
	// didn't have cached before.
	LinkAdded SignalKind = iota

	// LinkChanged is emitted when a cached identity's kernel object
	// exists both before and after, but differs (per Link.Equal).
	LinkChanged

	// LinkRemoved is emitted when a cached identity's kernel object is
	// gone.
	LinkRemoved
)

func (k SignalKind) String() string {
	switch k {
	case LinkAdded:
		return "added"
	case LinkChanged:
		return "changed"
	case LinkRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Signal is delivered to every subscriber on every cache mutation other
// than the startup bulk seed.
type Signal struct {
	Kind SignalKind
	Link Link
}

// Subscribe registers fn to be called, synchronously and on the Engine's
// own goroutine, for every Signal the Engine emits from then on. The
// returned function removes the subscription; calling it more than once
// is a no-op.
//
// fn must not call back into the Engine it was registered on (Subscribe,
// EnumerateLinks, Create, ...): those calls are routed through the same
// goroutine fn is already running on and would deadlock. fn also must
// not block for long: it runs inline in the Engine's event loop, so a
// slow subscriber delays every other subscriber and the processing of
// the next kernel event.
func (e *Engine) Subscribe(fn func(Signal)) (unsubscribe func()) {
	var id int
	e.do(func() {
		id = e.nextID
		e.nextID++
		e.subs[id] = fn
	})

	var unsubOnce bool
	return func() {
		if unsubOnce {
			return
		}
		unsubOnce = true
		e.do(func() {
			delete(e.subs, id)
		})
	}
}
