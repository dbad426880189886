package link

import "testing"

func newTestCommandSurface(running bool, registry *Registry) *CommandSurface {
	election := NewElection(testLogger(), func() DeviceID { return 1 })
	return NewCommandSurface(
		testLogger(), registry, election,
		func() bool { return running },
		func() []byte { return make([]byte, minLen[KindAnnouncement]) },
		func() DeviceID { return 1 },
		func() float64 { return 120.0 },
		func(kind string) {},
		func(addr string, pkt []byte) {},
		func(port int, pkt []byte) {},
		func(addr string, pkt []byte) {},
	)
}

func TestCommandsFailWhenNotRunning(t *testing.T) {
	c := newTestCommandSurface(false, NewRegistry(testLogger()))
	if err := c.SendFaderStart(nil, nil); err != ErrNotRunning {
		t.Errorf("SendFaderStart err = %v, want ErrNotRunning", err)
	}
}

func TestCommandsFailForUnknownPeer(t *testing.T) {
	c := newTestCommandSurface(true, NewRegistry(testLogger()))
	if err := c.SendMediaQuery(9, 1); err != ErrUnknownPeer {
		t.Errorf("SendMediaQuery err = %v, want ErrUnknownPeer", err)
	}
}

func TestFaderStartStopWinsOverStart(t *testing.T) {
	// SendFaderStart({1,3}, {2,3}) -> bytes 5..8 = {0,1,1,2}: stop wins for 3.
	r := NewRegistry(testLogger())
	c := newTestCommandSurface(true, r)

	var captured []byte
	c.broadcastPort = func(port int, pkt []byte) { captured = pkt }

	start := map[DeviceID]bool{1: true, 3: true}
	stop := map[DeviceID]bool{2: true, 3: true}

	if err := c.SendFaderStart(start, stop); err != nil {
		t.Fatalf("SendFaderStart: %v", err)
	}

	payloadStart := len(prolinkMagic) + 2
	got := captured[payloadStart+0x05 : payloadStart+0x09]
	want := []byte{0, 1, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %d, want %d (full=%v)", i, got[i], want[i], got)
		}
	}
}
