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
	"sync"
	"testing"
	"time"

	"github.com/jsimonetti/rtnetlink/v2"
	"golang.org/x/sys/unix"
)

func newTestEngine(t *testing.T, tr *fakeTransport) *Engine {
	t.Helper()
	e, err := newEngineWithTransport(tr, NewEngineConfig())
	if err != nil {
		t.Fatalf("newEngineWithTransport: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// signalRecorder subscribes to an Engine and gives tests a blocking way
// to wait for the next signal, instead of sleeping.
type signalRecorder struct {
	ch chan Signal
}

func newSignalRecorder(e *Engine) (*signalRecorder, func()) {
	r := &signalRecorder{ch: make(chan Signal, 16)}
	unsub := e.Subscribe(func(sig Signal) {
		r.ch <- sig
	})
	return r, unsub
}

func (r *signalRecorder) next(t *testing.T) Signal {
	t.Helper()
	select {
	case sig := <-r.ch:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a signal")
		return Signal{}
	}
}

func (r *signalRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case sig := <-r.ch:
		t.Fatalf("expected no signal, got %+v", sig)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineSeedEmitsNoSignals(t *testing.T) {
	tr := newFakeTransport()
	tr.seedLink("lo", unix.IFF_UP|unix.IFF_LOOPBACK)
	tr.seedLink("eth0", unix.IFF_UP)

	e := newTestEngine(t, tr)
	rec, unsub := newSignalRecorder(e)
	defer unsub()

	rec.expectNone(t)

	links := e.EnumerateLinks()
	if len(links) != 2 {
		t.Fatalf("EnumerateLinks returned %d links, want 2", len(links))
	}
}

func TestEngineExternalAdditionEmitsLinkAdded(t *testing.T) {
	tr := newFakeTransport()
	e := newTestEngine(t, tr)
	rec, unsub := newSignalRecorder(e)
	defer unsub()

	msg := tr.seedLink("veth0", unix.IFF_UP)
	tr.deliver(eventNewLink, int32(msg.Index))

	sig := rec.next(t)
	if sig.Kind != LinkAdded || sig.Link.Name != "veth0" {
		t.Fatalf("got signal %+v, want LinkAdded veth0", sig)
	}

	if _, ok := e.FindByName("veth0"); !ok {
		t.Fatalf("veth0 not cached after external addition")
	}
}

func TestEngineExternalRemovalEmitsLinkRemoved(t *testing.T) {
	tr := newFakeTransport()
	msg := tr.seedLink("veth0", unix.IFF_UP)
	e := newTestEngine(t, tr)
	rec, unsub := newSignalRecorder(e)
	defer unsub()

	ifindex := int32(msg.Index)
	tr.mu.Lock()
	delete(tr.links, ifindex)
	tr.mu.Unlock()
	tr.deliver(eventDelLink, ifindex)

	sig := rec.next(t)
	if sig.Kind != LinkRemoved || sig.Link.Name != "veth0" {
		t.Fatalf("got signal %+v, want LinkRemoved veth0", sig)
	}
}

func TestEngineInconsistentDelLinkIsIgnored(t *testing.T) {
	// Per the reconciliation primitive, a DELLINK notification for an
	// ifindex the kernel still reports (a fast del-then-add collapsed
	// into one notification) must not remove the cache entry.
	tr := newFakeTransport()
	msg := tr.seedLink("veth0", unix.IFF_UP)
	e := newTestEngine(t, tr)
	rec, unsub := newSignalRecorder(e)
	defer unsub()

	tr.deliver(eventDelLink, int32(msg.Index))

	rec.expectNone(t)
	if _, ok := e.FindByName("veth0"); !ok {
		t.Fatalf("veth0 was evicted despite the kernel still reporting it")
	}
}

func TestEngineExternalChangeEmitsLinkChanged(t *testing.T) {
	tr := newFakeTransport()
	msg := tr.seedLink("eth0", 0)
	e := newTestEngine(t, tr)
	rec, unsub := newSignalRecorder(e)
	defer unsub()

	ifindex := int32(msg.Index)
	tr.mutate(ifindex, func(m *rtnetlink.LinkMessage) {
		m.Flags = unix.IFF_UP
	})
	tr.deliver(eventNewLink, ifindex)

	sig := rec.next(t)
	if sig.Kind != LinkChanged || !sig.Link.Up {
		t.Fatalf("got signal %+v, want LinkChanged with Up=true", sig)
	}
}

func TestEngineNoOpChangeEmitsNoSignal(t *testing.T) {
	tr := newFakeTransport()
	msg := tr.seedLink("eth0", unix.IFF_UP)
	e := newTestEngine(t, tr)
	rec, unsub := newSignalRecorder(e)
	defer unsub()

	tr.deliver(eventNewLink, int32(msg.Index))
	rec.expectNone(t)
}

func TestEngineDeleteThenRecreateSameNameYieldsRemovedThenAdded(t *testing.T) {
	// A rapid delete-then-recreate under the same name before the engine
	// observes either must not be collapsed into a single Changed signal
	// spanning two different ifindices: the old identity is Removed, the
	// new identity is Added, per scenario 4 of the testable properties.
	tr := newFakeTransport()
	oldMsg := tr.seedLink("veth0", unix.IFF_UP)
	e := newTestEngine(t, tr)
	rec, unsub := newSignalRecorder(e)
	defer unsub()

	oldIdx := int32(oldMsg.Index)
	tr.mu.Lock()
	delete(tr.links, oldIdx)
	tr.mu.Unlock()
	newMsg := tr.seedLink("veth0", unix.IFF_UP)
	newIdx := int32(newMsg.Index)

	tr.deliver(eventDelLink, oldIdx)
	tr.deliver(eventNewLink, newIdx)

	first := rec.next(t)
	if first.Kind != LinkRemoved || first.Link.Ifindex != oldIdx {
		t.Fatalf("first signal = %+v, want LinkRemoved for ifindex %d", first, oldIdx)
	}
	second := rec.next(t)
	if second.Kind != LinkAdded || second.Link.Ifindex != newIdx || second.Link.Name != "veth0" {
		t.Fatalf("second signal = %+v, want LinkAdded veth0 for ifindex %d", second, newIdx)
	}

	if _, ok := e.FindByName("veth0"); !ok {
		t.Fatalf("veth0 not cached under its new ifindex")
	}
	idx, _ := e.FindByName("veth0")
	if idx != newIdx {
		t.Fatalf("FindByName(veth0) = %d, want %d", idx, newIdx)
	}
}

func TestEngineCloseStopsEventLoop(t *testing.T) {
	tr := newFakeTransport()
	e, err := newEngineWithTransport(tr, NewEngineConfig())
	if err != nil {
		t.Fatalf("newEngineWithTransport: %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// A second Close must not panic or block.
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Calls made after Close still complete rather than hang forever.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.EnumerateLinks()
	}()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("EnumerateLinks after Close did not return")
	}
}
