package link

import (
	"net"
	"testing"
	"time"
)

func newTestStatusSender(e *Election, targets func() []*DeviceAnnouncement, send func(addr string, pkt []byte)) *StatusSender {
	m := NewMetronome(120.0)
	return NewStatusSender(
		testLogger(), m, e, nil,
		func() string { return "VCDJ" },
		func() DeviceID { return 2 },
		func() bool { return true },  // playing
		func() bool { return false }, // synced
		func() bool { return true },  // on air
		func() time.Duration { return 200 * time.Millisecond },
		targets,
		send,
	)
}

func TestStatusSenderUnicastsToEveryPeer(t *testing.T) {
	e := NewElection(testLogger(), func() DeviceID { return 2 })
	peers := []*DeviceAnnouncement{
		{Number: 1, IP: net.IPv4(10, 0, 0, 1)},
		{Number: 3, IP: net.IPv4(10, 0, 0, 3)},
	}

	var addrs []string
	var last []byte
	s := newTestStatusSender(e,
		func() []*DeviceAnnouncement { return peers },
		func(addr string, pkt []byte) { addrs = append(addrs, addr); last = pkt },
	)

	s.sendOnce()

	if len(addrs) != 2 {
		t.Fatalf("sent to %d peers, want 2 (%v)", len(addrs), addrs)
	}

	decoded := decodeCdjStatus(last, fakeAddr("10.0.0.2:50002"))
	if decoded.DeviceNumber != 2 {
		t.Errorf("DeviceNumber = %d, want 2", decoded.DeviceNumber)
	}
	if !decoded.IsPlaying {
		t.Error("IsPlaying = false, want true")
	}
	if !decoded.IsOnAir {
		t.Error("IsOnAir = false, want true")
	}
	if decoded.IsMaster {
		t.Error("IsMaster = true, want false (no master role held)")
	}
	if decoded.Counter != 1 {
		t.Errorf("Counter = %d, want 1 on first packet", decoded.Counter)
	}
}

func TestStatusSenderIncrementsPacketCounter(t *testing.T) {
	e := NewElection(testLogger(), func() DeviceID { return 2 })
	peers := []*DeviceAnnouncement{{Number: 1, IP: net.IPv4(10, 0, 0, 1)}}

	var last []byte
	s := newTestStatusSender(e,
		func() []*DeviceAnnouncement { return peers },
		func(addr string, pkt []byte) { last = pkt },
	)

	s.sendOnce()
	s.sendOnce()
	s.sendOnce()

	decoded := decodeCdjStatus(last, fakeAddr("10.0.0.2:50002"))
	if decoded.Counter != 3 {
		t.Errorf("Counter = %d, want 3 after three sends", decoded.Counter)
	}
}

func TestStatusSenderCarriesYieldToWhileHandoffPending(t *testing.T) {
	e := NewElection(testLogger(), func() DeviceID { return 2 })
	e.amMaster = true
	if !e.ReceiveYieldCommand(4) {
		t.Fatal("ReceiveYieldCommand should succeed while master")
	}

	var last []byte
	s := newTestStatusSender(e,
		func() []*DeviceAnnouncement { return []*DeviceAnnouncement{{Number: 1, IP: net.IPv4(10, 0, 0, 1)}} },
		func(addr string, pkt []byte) { last = pkt },
	)
	s.sendOnce()

	decoded := decodeCdjStatus(last, fakeAddr("10.0.0.2:50002"))
	if !decoded.IsMaster {
		t.Error("IsMaster = false, want true while yield is in flight")
	}
	if decoded.YieldTo != 4 {
		t.Errorf("YieldTo = %d, want 4", decoded.YieldTo)
	}
}
