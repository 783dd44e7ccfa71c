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

//go:build linux

package linkmonitor

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
)

// rawLinkMessage builds a minimal nlmsghdr-framed RTM_NEWLINK/RTM_DELLINK
// payload carrying just enough of an ifinfomsg for rtnetlink.LinkMessage
// to unmarshal: family, device type, index, flags, change mask.
func rawLinkMessage(msgType uint16, index uint32) []byte {
	const ifinfomsgLen = 16
	payload := make([]byte, ifinfomsgLen)
	payload[0] = unix.AF_UNSPEC
	binary.LittleEndian.PutUint16(payload[2:4], unix.ARPHRD_ETHER)
	binary.LittleEndian.PutUint32(payload[4:8], index)

	total := 16 + len(payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint16(buf[4:6], msgType)
	copy(buf[16:], payload)
	return buf
}

func TestParseLinkEventsExtractsNewAndDel(t *testing.T) {
	buf := append(rawLinkMessage(unix.RTM_NEWLINK, 7), rawLinkMessage(unix.RTM_DELLINK, 8)...)

	events := parseLinkEvents(buf)
	if len(events) != 2 {
		t.Fatalf("parseLinkEvents returned %d events, want 2", len(events))
	}
	if events[0].Kind != eventNewLink || events[0].Ifindex != 7 {
		t.Errorf("events[0] = %+v, want {eventNewLink 7}", events[0])
	}
	if events[1].Kind != eventDelLink || events[1].Ifindex != 8 {
		t.Errorf("events[1] = %+v, want {eventDelLink 8}", events[1])
	}
}

func TestParseLinkEventsIgnoresUnrelatedMessageTypes(t *testing.T) {
	buf := rawLinkMessage(unix.RTM_NEWADDR, 3)

	if events := parseLinkEvents(buf); len(events) != 0 {
		t.Fatalf("parseLinkEvents on an RTM_NEWADDR message returned %d events, want 0", len(events))
	}
}

func TestParseLinkEventsStopsOnTruncatedHeader(t *testing.T) {
	buf := rawLinkMessage(unix.RTM_NEWLINK, 1)
	buf = buf[:len(buf)-4] // truncate, simulating a short read

	// Must not panic or read out of bounds on malformed/truncated input.
	_ = parseLinkEvents(buf)
}

func TestParseUcredAcceptsKernelOrigin(t *testing.T) {
	oob := unix.UnixCredentials(&unix.Ucred{Pid: 0, Uid: 0, Gid: 0})

	cred, ok := parseUcred(oob)
	if !ok {
		t.Fatalf("parseUcred failed to parse a well-formed SCM_CREDENTIALS message")
	}
	if cred.Pid != 0 || cred.Uid != 0 || cred.Gid != 0 {
		t.Fatalf("parseUcred = %+v, want all-zero kernel credentials", cred)
	}
}

func TestParseUcredSurfacesNonKernelCredentials(t *testing.T) {
	oob := unix.UnixCredentials(&unix.Ucred{Pid: 1234, Uid: 1000, Gid: 1000})

	cred, ok := parseUcred(oob)
	if !ok {
		t.Fatalf("parseUcred failed to parse a well-formed SCM_CREDENTIALS message")
	}
	// readCredentialedDatagram is responsible for rejecting this;
	// parseUcred's job is only to extract whatever credentials were
	// attached.
	if cred.Pid == 0 && cred.Uid == 0 && cred.Gid == 0 {
		t.Fatalf("parseUcred lost the non-zero credentials")
	}
}

func TestParseUcredRejectsMissingAncillaryData(t *testing.T) {
	if _, ok := parseUcred(nil); ok {
		t.Fatalf("parseUcred succeeded on empty ancillary data")
	}
}
