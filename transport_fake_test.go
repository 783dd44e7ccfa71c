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
	"fmt"
	"sync"

	"github.com/jsimonetti/rtnetlink/v2"
	"golang.org/x/sys/unix"
)

// fakeTransport is an in-memory stand-in for linuxTransport, giving
// engine_test.go and commands_test.go full control over what "the
// kernel" reports without a real netlink socket.
type fakeTransport struct {
	mu      sync.Mutex
	links   map[int32]rtnetlink.LinkMessage
	evCh    chan linkEvent
	nextIdx int32

	failCreate error
	failDelete error
	failSet    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		links:   make(map[int32]rtnetlink.LinkMessage),
		evCh:    make(chan linkEvent, 16),
		nextIdx: 1,
	}
}

// seedLink adds a link directly to the fake kernel's table, bypassing
// create, for constructing the cache a test starts with.
func (f *fakeTransport) seedLink(name string, flags uint32) rtnetlink.LinkMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.nextIdx
	f.nextIdx++

	msg := rtnetlink.LinkMessage{
		Index: uint32(idx),
		Flags: flags,
		Attributes: &rtnetlink.LinkAttributes{
			Name: name,
		},
	}
	f.links[idx] = msg
	return msg
}

// deliver pushes a synthetic kernel event, as if an RTM_NEWLINK or
// RTM_DELLINK notification had just arrived.
func (f *fakeTransport) deliver(kind eventKind, ifindex int32) {
	f.evCh <- linkEvent{Kind: kind, Ifindex: ifindex}
}

// mutate directly changes a link already present in the fake kernel
// table, simulating an external change (e.g. another process bringing
// an interface up), without going through this package's own command
// surface.
func (f *fakeTransport) mutate(ifindex int32, fn func(*rtnetlink.LinkMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.links[ifindex]
	fn(&msg)
	f.links[ifindex] = msg
}

func (f *fakeTransport) list(ctx context.Context) ([]rtnetlink.LinkMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]rtnetlink.LinkMessage, 0, len(f.links))
	for _, msg := range f.links {
		out = append(out, msg)
	}
	return out, nil
}

func (f *fakeTransport) get(ctx context.Context, ifindex int32) (rtnetlink.LinkMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.links[ifindex]
	return msg, ok, nil
}

func (f *fakeTransport) getByName(ctx context.Context, name string) (rtnetlink.LinkMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.links {
		if msg.Attributes != nil && msg.Attributes.Name == name {
			return msg, true, nil
		}
	}
	return rtnetlink.LinkMessage{}, false, nil
}

func (f *fakeTransport) create(ctx context.Context, name string, kind Kind) error {
	if f.failCreate != nil {
		return f.failCreate
	}

	typeString, ok := kindToTypeString[kind]
	if !ok {
		return fmt.Errorf("fakeTransport: kind %s has no type string", kind)
	}

	f.mu.Lock()
	for _, msg := range f.links {
		if msg.Attributes != nil && msg.Attributes.Name == name {
			f.mu.Unlock()
			return unix.EEXIST
		}
	}
	idx := f.nextIdx
	f.nextIdx++
	f.links[idx] = rtnetlink.LinkMessage{
		Index: uint32(idx),
		Attributes: &rtnetlink.LinkAttributes{
			Name: name,
			Info: &rtnetlink.LinkInfo{Kind: typeString},
		},
	}
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) del(ctx context.Context, ifindex int32) error {
	if f.failDelete != nil {
		return f.failDelete
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.links, ifindex)
	return nil
}

func (f *fakeTransport) setFlags(ctx context.Context, ifindex int32, flags, mask uint32) error {
	if f.failSet != nil {
		return f.failSet
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.links[ifindex]
	if !ok {
		return unix.ENODEV
	}
	msg.Flags = (msg.Flags &^ mask) | (flags & mask)
	f.links[ifindex] = msg
	return nil
}

func (f *fakeTransport) events() <-chan linkEvent {
	return f.evCh
}

func (f *fakeTransport) close() error {
	return nil
}
