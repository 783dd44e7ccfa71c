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

import (
	"context"

	"github.com/jsimonetti/rtnetlink/v2"
)

// eventKind distinguishes the two kernel notifications the event channel
// ever delivers; see transport_linux.go's translation from RTM_NEWLINK
// and RTM_DELLINK.
type eventKind int

const (
	eventNewLink eventKind = iota
	eventDelLink
)

// linkEvent is one notification read off the event channel. The
// Coherence Engine treats NEW and DEL identically — Kind is carried
// only so tests can assert on it — so Engine.handleEvent looks only at
// Ifindex.
type linkEvent struct {
	Kind    eventKind
	Ifindex int32
}

// transport is the Netlink Transport abstraction the Coherence Engine is
// built against. The real implementation (transport_linux.go) owns two
// netlink sockets — a request socket for synchronous commands and an
// event socket subscribed to the kernel's link multicast group. Tests
// substitute fakeTransport.
type transport interface {
	// list returns every link the kernel currently knows about. Used
	// only for the startup bulk seed.
	list(ctx context.Context) ([]rtnetlink.LinkMessage, error)

	// get returns the authoritative kernel object for ifindex. ok is
	// false, with a zero-value message and nil error, if the kernel has
	// no such interface (ENODEV): this is not a transport failure.
	get(ctx context.Context, ifindex int32) (msg rtnetlink.LinkMessage, ok bool, err error)

	// getByName is get's counterpart for identities not yet known by
	// ifindex, used only by create's post-creation lookup.
	getByName(ctx context.Context, name string) (msg rtnetlink.LinkMessage, ok bool, err error)

	// create asks the kernel to create a new link of the given kind.
	// kind must have an entry in kindToTypeString.
	create(ctx context.Context, name string, kind Kind) error

	// del asks the kernel to remove ifindex.
	del(ctx context.Context, ifindex int32) error

	// setFlags applies a read-modify-write flag change: the bits of
	// flags are ORed or ANDed into the interface's current flag word according to
	// mask, then written back with RTM_SETLINK (see commands.go's
	// changeFlags, which this mirrors from nm-linux-platform.c's
	// link_change_flags).
	setFlags(ctx context.Context, ifindex int32, flags, mask uint32) error

	// events returns the channel events are delivered on. It is closed
	// when the transport is closed or the event socket fails
	// unrecoverably.
	events() <-chan linkEvent

	// close releases both sockets. Idempotent.
	close() error
}
