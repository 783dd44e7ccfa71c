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

	"golang.org/x/sys/unix"
)

// EnumerateLinks returns a snapshot of every currently-cached link.
func (e *Engine) EnumerateLinks() []Link {
	var out []Link
	e.do(func() {
		out = e.cache.enumerate()
	})
	return out
}

// FindByName returns the ifindex cached under name.
func (e *Engine) FindByName(name string) (ifindex int32, ok bool) {
	e.do(func() {
		ifindex, ok = e.cache.lookupByName(name)
	})
	return ifindex, ok
}

// Create asks the kernel to create a link of the given kind, named name,
// and waits for the cache to observe it. If an interface named name
// already exists, Create succeeds without error and without creating a
// second interface: a concurrent creator (e.g. a dispatcher script)
// racing this call is indistinguishable from success.
func (e *Engine) Create(ctx context.Context, name string, kind Kind) error {
	if _, ok := kindToTypeString[kind]; !ok {
		return newError(InvalidArgument, "Create", nil)
	}

	if err := e.tr.create(ctx, name, kind); err != nil {
		if !isExist(err) {
			return newError(TransportFailure, "Create", err)
		}
	}

	msg, ok, err := e.tr.getByName(ctx, name)
	if err != nil {
		return newError(TransportFailure, "Create", err)
	}
	if !ok {
		return newError(Internal, "Create", nil)
	}

	ifindex := int32(msg.Index)
	e.do(func() {
		e.reconcile(ifindex, deriveLink(msg), true)
	})
	return nil
}

// Delete asks the kernel to remove ifindex and waits for the cache to
// observe its removal. NotFound is returned if ifindex isn't cached;
// this is checked before the kernel round trip so a caller never pays
// for a request the kernel would refuse anyway.
func (e *Engine) Delete(ctx context.Context, ifindex int32) error {
	if _, ok := e.findByIndex(ifindex); !ok {
		return newError(NotFound, "Delete", nil)
	}

	if err := e.tr.del(ctx, ifindex); err != nil {
		return newError(TransportFailure, "Delete", err)
	}

	e.refreshAfterCommand(ctx, ifindex, "Delete")
	return nil
}

// findByIndex reports whether ifindex is currently cached, returning its
// Link if so. It backs Delete's existence check and the
// SetUp/SetDown/SetARP/SetNoARP family below.
func (e *Engine) findByIndex(ifindex int32) (Link, bool) {
	var l Link
	var ok bool
	e.do(func() {
		l, ok = e.cache.lookupByIndex(ifindex)
	})
	return l, ok
}

// SetUp brings ifindex administratively up (IFF_UP).
func (e *Engine) SetUp(ctx context.Context, ifindex int32) error {
	return e.changeFlags(ctx, ifindex, unix.IFF_UP, true)
}

// SetDown brings ifindex administratively down.
func (e *Engine) SetDown(ctx context.Context, ifindex int32) error {
	return e.changeFlags(ctx, ifindex, unix.IFF_UP, false)
}

// SetARP enables ARP resolution on ifindex (clears IFF_NOARP).
func (e *Engine) SetARP(ctx context.Context, ifindex int32) error {
	return e.changeFlags(ctx, ifindex, unix.IFF_NOARP, false)
}

// SetNoARP disables ARP resolution on ifindex (sets IFF_NOARP).
func (e *Engine) SetNoARP(ctx context.Context, ifindex int32) error {
	return e.changeFlags(ctx, ifindex, unix.IFF_NOARP, true)
}

// changeFlags is the read-modify-write primitive every flag-toggle
// command shares, mirroring link_change_flags: set or clear a single
// flag bit, leaving every other bit untouched.
func (e *Engine) changeFlags(ctx context.Context, ifindex int32, bit uint32, set bool) error {
	if _, ok := e.findByIndex(ifindex); !ok {
		return newError(NotFound, "changeFlags", nil)
	}

	value := uint32(0)
	if set {
		value = bit
	}

	if err := e.tr.setFlags(ctx, ifindex, value, bit); err != nil {
		return newError(TransportFailure, "changeFlags", err)
	}

	e.refreshAfterCommand(ctx, ifindex, "changeFlags")
	return nil
}

// refreshAfterCommand re-queries the kernel for ifindex and runs it
// through the same reconciliation primitive the event path uses. This is
// the command-path half of the Coherence Engine: a command never trusts
// its own idea of what changed, only what the kernel reports back.
func (e *Engine) refreshAfterCommand(ctx context.Context, ifindex int32, op string) {
	msg, ok, err := e.tr.get(ctx, ifindex)
	if err != nil {
		logger().Printf("linkmonitor: %s: failed to refresh ifindex %d: %v", op, ifindex, err)
		return
	}

	var link Link
	if ok {
		link = deriveLink(msg)
	}
	e.do(func() {
		e.reconcile(ifindex, link, ok)
	})
}

// Name returns the cached name for ifindex.
func (e *Engine) Name(ifindex int32) (string, error) {
	l, ok := e.findByIndex(ifindex)
	if !ok {
		return "", newError(NotFound, "Name", nil)
	}
	return l.Name, nil
}

// KindOf returns the cached Kind for ifindex.
func (e *Engine) KindOf(ifindex int32) (Kind, error) {
	l, ok := e.findByIndex(ifindex)
	if !ok {
		return None, newError(NotFound, "KindOf", nil)
	}
	return l.Kind, nil
}

// IsUp reports whether ifindex is administratively up.
func (e *Engine) IsUp(ifindex int32) (bool, error) {
	l, ok := e.findByIndex(ifindex)
	if !ok {
		return false, newError(NotFound, "IsUp", nil)
	}
	return l.Up, nil
}

// IsConnected reports ifindex's carrier state.
func (e *Engine) IsConnected(ifindex int32) (bool, error) {
	l, ok := e.findByIndex(ifindex)
	if !ok {
		return false, newError(NotFound, "IsConnected", nil)
	}
	return l.Connected, nil
}

// UsesARP reports whether ARP resolution is enabled on ifindex.
func (e *Engine) UsesARP(ifindex int32) (bool, error) {
	l, ok := e.findByIndex(ifindex)
	if !ok {
		return false, newError(NotFound, "UsesARP", nil)
	}
	return l.ARP, nil
}

// isExist reports whether err is the kernel's EEXIST reply: a create
// racing an identical external creator is treated as success rather
// than failure.
func isExist(err error) bool {
	if errno, ok := err.(unix.Errno); ok {
		return errno == unix.EEXIST
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return isExist(u.Unwrap())
	}
	return false
}
