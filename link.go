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
	"github.com/jsimonetti/rtnetlink/v2"
	"golang.org/x/sys/unix"
)

// Kind is a tagged variant over the small set of link types this
// package distinguishes. Only Dummy has a reverse mapping for Create;
// see commands.go.
type Kind int

const (
	// None is the zero value, used for an absent kernel object.
	None Kind = iota
	Loopback
	Ethernet
	Dummy
	Generic
	Unknown
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Loopback:
		return "loopback"
	case Ethernet:
		return "ethernet"
	case Dummy:
		return "dummy"
	case Generic:
		return "generic"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// kindToTypeString maps a creatable Kind to the IFLA_INFO_KIND string
// the kernel expects when creating a link of that type. Only Dummy is
// populated; attempting to create any other kind is InvalidArgument.
var kindToTypeString = map[Kind]string{
	Dummy: "dummy",
}

// typeStringToKind is the reverse of kindToTypeString, extended with
// every explicit kernel type string this package recognizes on read.
var typeStringToKind = map[string]Kind{
	"dummy": Dummy,
}

// Link represents a single network interface as observed at some
// instant. Two Links are semantically equal iff all seven attributes
// below match; see Link.Equal. This equality, not byte
// equality of the underlying netlink payload, is what the Coherence
// Engine uses to suppress no-op change events.
type Link struct {
	// Ifindex is the kernel-assigned, positive identifier, stable and
	// unique across the cache for as long as the interface exists.
	Ifindex int32

	// Name is the interface's short textual identifier (<=15 bytes
	// plus a NUL terminator in the kernel's own representation).
	Name string

	// Kind is the link's type, derived per deriveKind.
	Kind Kind

	// Up is the administrative state (IFF_UP).
	Up bool

	// Connected is the lower-layer carrier state (IFF_LOWER_UP).
	Connected bool

	// ARP reports whether ARP resolution is enabled, i.e. IFF_NOARP is
	// clear.
	ARP bool

	// RawFlags is the kernel's full flag word, preserved so the
	// command surface can set or clear individual bits without
	// disturbing the others (see commands.go's changeFlags).
	RawFlags uint32
}

// Equal reports whether l and other have identical observable
// attributes. It deliberately ignores nothing: every field in Link
// participates. This is attribute-level equality, not a comparison of
// raw netlink payloads, which may differ in ways that carry no
// observable meaning.
func (l Link) Equal(other Link) bool {
	return l.Ifindex == other.Ifindex &&
		l.Name == other.Name &&
		l.Kind == other.Kind &&
		l.Up == other.Up &&
		l.Connected == other.Connected &&
		l.ARP == other.ARP &&
		l.RawFlags == other.RawFlags
}

// deriveLink converts a raw rtnetlink link message into a Link. The
// derivation is total and pure: the same msg always yields the same
// Link.
func deriveLink(msg rtnetlink.LinkMessage) Link {
	flags := msg.Flags

	var name string
	if msg.Attributes != nil {
		name = msg.Attributes.Name
	}

	return Link{
		Ifindex:   int32(msg.Index),
		Name:      name,
		Kind:      deriveKind(msg),
		Up:        flags&unix.IFF_UP != 0,
		Connected: flags&unix.IFF_LOWER_UP != 0,
		ARP:       flags&unix.IFF_NOARP == 0,
		RawFlags:  flags,
	}
}

// deriveKind applies the link-kind extraction rule: an explicit kernel
// type string wins if present (mapped through typeStringToKind,
// defaulting to Unknown for any string this package doesn't recognize
// by name); otherwise the ARP hardware type decides.
func deriveKind(msg rtnetlink.LinkMessage) Kind {
	if msg.Attributes != nil && msg.Attributes.Info != nil && msg.Attributes.Info.Kind != "" {
		info := msg.Attributes.Info
		if k, ok := typeStringToKind[info.Kind]; ok {
			return k
		}
		return Unknown
	}

	switch msg.Type {
	case unix.ARPHRD_LOOPBACK:
		return Loopback
	case unix.ARPHRD_ETHER:
		return Ethernet
	default:
		return Generic
	}
}
