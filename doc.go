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

// Package linkmonitor maintains a coherent, event-driven mirror of the
// Linux kernel's network-link table (rtnetlink's "link" objects) for
// consumption by an upstream network-management daemon.
//
// An Engine owns two netlink channels: a request channel used for
// synchronous create/delete/set-flags commands, and an event channel
// subscribed to the kernel's link multicast group. Every mutation to
// the in-memory cache — whether triggered by a command reply or by an
// unsolicited kernel event — passes through the same reconciliation
// primitive, which re-queries the kernel for the authoritative object
// before deciding whether to insert, replace, or remove the cached
// entry and which signal, if any, to emit. See Engine.reconcile.
package linkmonitor
