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

// linkCache is an indexed collection of currently-known Links, keyed
// by ifindex with a secondary name index. It is not safe for
// concurrent use; the Engine that owns it runs a single-threaded
// event loop and is the only writer.
//
// INVARIANT: for every k in byIndex, byIndex[k].Ifindex == k.
// INVARIANT: for every (name, idx) in byName, byIndex[idx].Name == name.
// INVARIANT: len(byName) == len(byIndex).
type linkCache struct {
	byIndex map[int32]Link
	byName  map[string]int32
}

func newLinkCache() *linkCache {
	return &linkCache{
		byIndex: make(map[int32]Link),
		byName:  make(map[string]int32),
	}
}

// lookupByIndex returns the cached Link for ifindex, if any.
func (c *linkCache) lookupByIndex(ifindex int32) (Link, bool) {
	l, ok := c.byIndex[ifindex]
	return l, ok
}

// lookupByName returns the ifindex cached under name, if any.
func (c *linkCache) lookupByName(name string) (int32, bool) {
	idx, ok := c.byName[name]
	return idx, ok
}

// insert adds l to the cache. It panics if l.Ifindex is already
// present, or if l.Name collides with a different ifindex: both are
// cache invariant violations never expected at runtime — the
// reconciliation primitive never calls insert for an identity it
// hasn't just confirmed is absent.
func (c *linkCache) insert(l Link) {
	if _, ok := c.byIndex[l.Ifindex]; ok {
		panic(fmt.Sprintf("linkmonitor: duplicate ifindex %d on insert", l.Ifindex))
	}
	if existing, ok := c.byName[l.Name]; ok && existing != l.Ifindex {
		panic(fmt.Sprintf("linkmonitor: name %q already claimed by ifindex %d", l.Name, existing))
	}

	c.byIndex[l.Ifindex] = l
	c.byName[l.Name] = l.Ifindex
}

// remove deletes the Link cached under ifindex. It panics if ifindex
// is not present, per the same invariant-violation policy as insert.
func (c *linkCache) remove(ifindex int32) {
	l, ok := c.byIndex[ifindex]
	if !ok {
		panic(fmt.Sprintf("linkmonitor: unknown ifindex %d on remove", ifindex))
	}

	delete(c.byIndex, ifindex)
	delete(c.byName, l.Name)
}

// replace atomically removes whatever is cached under l.Ifindex (if
// anything) and inserts l, including updating the name index when the
// name has changed underneath the same ifindex. Like insert, it panics
// if l.Name is already claimed by a different ifindex: a rename that
// collides with another cached identity's name is a cache invariant
// violation a single-identity reconciliation step must never silently
// paper over, since doing so would leave byName pointing away from the
// identity byIndex still claims it for.
func (c *linkCache) replace(l Link) {
	if old, ok := c.byIndex[l.Ifindex]; ok {
		delete(c.byName, old.Name)
	}
	if existing, ok := c.byName[l.Name]; ok && existing != l.Ifindex {
		panic(fmt.Sprintf("linkmonitor: name %q already claimed by ifindex %d", l.Name, existing))
	}

	c.byIndex[l.Ifindex] = l
	c.byName[l.Name] = l.Ifindex
}

// enumerate returns every cached Link, sorted by ifindex so callers see
// a stable order across calls regardless of map iteration order.
func (c *linkCache) enumerate() []Link {
	out := make([]Link, 0, len(c.byIndex))
	for _, l := range c.byIndex {
		out = append(out, l)
	}
	sortLinksByIfindex(out)
	return out
}

func sortLinksByIfindex(links []Link) {
	// Insertion sort: caches are small (tens to low hundreds of
	// interfaces), and this keeps enumerate() free of an extra import.
	for i := 1; i < len(links); i++ {
		for j := i; j > 0 && links[j-1].Ifindex > links[j].Ifindex; j-- {
			links[j-1], links[j] = links[j], links[j-1]
		}
	}
}
