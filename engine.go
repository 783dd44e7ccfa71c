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
	"sync"
	"time"
)

// EngineConfig controls how an Engine is constructed. The zero value is
// not valid; use NewEngineConfig for one with sane defaults.
type EngineConfig struct {
	// StartupTimeout bounds the initial bulk seed (the enumeration of
	// every existing link performed before NewEngine returns). Zero
	// means no timeout.
	StartupTimeout time.Duration
}

// NewEngineConfig returns an EngineConfig with the package's defaults.
func NewEngineConfig() EngineConfig {
	return EngineConfig{
		StartupTimeout: 5 * time.Second,
	}
}

// Engine is a coherent, event-driven mirror of the kernel's link table.
// All of its state — the cache and the subscriber list — is owned by a
// single goroutine (run); every exported method, whether a read or a
// write, is dispatched onto that goroutine through reqCh rather than
// guarded by a mutex.
type Engine struct {
	tr     transport
	cache  *linkCache
	subs   map[int]func(Signal)
	nextID int

	reqCh    chan engineRequest
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// engineRequest is a unit of work run on the Engine's goroutine.
type engineRequest struct {
	fn   func()
	done chan struct{}
}

// NewEngine opens the netlink transport, performs the startup bulk seed
// (every currently-existing link is cached with no signals emitted), and
// starts the event loop. The returned Engine must be closed with Close.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	tr, err := newLinuxTransport()
	if err != nil {
		return nil, newError(TransportFailure, "NewEngine", err)
	}
	return newEngineWithTransport(tr, cfg)
}

// newEngineWithTransport is the test entry point: it skips opening a
// real netlink socket in favor of a caller-supplied fake.
func newEngineWithTransport(tr transport, cfg EngineConfig) (*Engine, error) {
	e := &Engine{
		tr:     tr,
		cache:  newLinkCache(),
		subs:   make(map[int]func(Signal)),
		reqCh:  make(chan engineRequest),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if err := e.seed(cfg.StartupTimeout); err != nil {
		tr.close()
		return nil, err
	}

	go e.run()
	return e, nil
}

// seed populates the cache from a full kernel listing before the event
// loop starts. No signals are emitted for this initial population: a
// subscriber only ever hears about changes, never the starting state.
func (e *Engine) seed(timeout time.Duration) error {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msgs, err := e.tr.list(ctx)
	if err != nil {
		return newError(TransportFailure, "NewEngine", err)
	}

	for _, msg := range msgs {
		e.cache.insert(deriveLink(msg))
	}
	return nil
}

// run is the Engine's single goroutine. It owns the cache and the
// subscriber list for the Engine's entire lifetime.
func (e *Engine) run() {
	defer close(e.doneCh)

	for {
		select {
		case ev, ok := <-e.tr.events():
			if !ok {
				logger().Printf("linkmonitor: event channel closed, engine is now stale")
				return
			}
			e.handleEvent(ev)

		case req := <-e.reqCh:
			req.fn()
			close(req.done)

		case <-e.stopCh:
			return
		}
	}
}

// handleEvent applies the reconciliation primitive to the identity named
// by an incoming event. It deliberately does not branch on ev.Kind:
// whether the kernel sent RTM_NEWLINK or RTM_DELLINK, the authoritative
// answer is always "query the kernel for this ifindex right now and see
// what's there".
func (e *Engine) handleEvent(ev linkEvent) {
	ctx := context.Background()
	kernelMsg, kernelOK, err := e.tr.get(ctx, ev.Ifindex)
	if err != nil {
		logger().Printf("linkmonitor: failed to refresh ifindex %d after event: %v", ev.Ifindex, err)
		return
	}

	var kernelLink Link
	if kernelOK {
		kernelLink = deriveLink(kernelMsg)
	}
	e.reconcile(ev.Ifindex, kernelLink, kernelOK)
}

// reconcile is the three-row primitive: given the cached state C for an
// identity and a freshly queried kernel state K, decide the cache
// mutation and the signal, if any, to emit. It is used identically by
// the event path (handleEvent) and the command path (commands.go's
// refreshAfterCommand), so a command's own reply never needs special
// casing either.
func (e *Engine) reconcile(ifindex int32, kernel Link, kernelOK bool) {
	cached, cachedOK := e.cache.lookupByIndex(ifindex)

	switch {
	case !kernelOK && !cachedOK:
		// No-op: nothing the cache or a subscriber needs to know.
		return

	case !kernelOK && cachedOK:
		e.cache.remove(ifindex)
		e.emit(Signal{Kind: LinkRemoved, Link: cached})

	case kernelOK && !cachedOK:
		e.cache.insert(kernel)
		e.emit(Signal{Kind: LinkAdded, Link: kernel})

	default: // kernelOK && cachedOK
		if cached.Equal(kernel) {
			return
		}
		e.cache.replace(kernel)
		e.emit(Signal{Kind: LinkChanged, Link: kernel})
	}
}

// emit delivers a signal to every current subscriber, synchronously, on
// the Engine's own goroutine: a subscriber callback that blocks blocks
// the whole engine. See Subscribe's doc comment.
func (e *Engine) emit(sig Signal) {
	for _, fn := range e.subs {
		fn(sig)
	}
}

// do runs fn on the Engine's goroutine and waits for it to finish. Every
// exported method on Engine is implemented in terms of do, so reads and
// writes against the cache never race.
func (e *Engine) do(fn func()) {
	req := engineRequest{fn: fn, done: make(chan struct{})}
	select {
	case e.reqCh <- req:
		<-req.done
	case <-e.doneCh:
		// Engine already stopped; run fn inline so callers made after
		// Close still observe a consistent (frozen) cache rather than
		// hanging forever.
		fn()
	}
}

// Close stops the event loop and releases the netlink transport. It is
// safe to call more than once; only the first call has effect, mirroring
// nm_linux_platform_finalize's socket teardown.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
	return e.tr.close()
}
