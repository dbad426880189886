package link

import (
	"net"
	"testing"
	"time"
)

func TestRegistryIgnoresOwnAddress(t *testing.T) {
	r := NewRegistry(testLogger())
	r.IgnoreAddress("10.0.0.1:50002")

	ok := r.IngestAnnouncement("10.0.0.1:50002", &DeviceAnnouncement{Number: 1})
	if ok {
		t.Error("IngestAnnouncement should reject our own ignored address")
	}
	if len(r.CurrentDevices()) != 0 {
		t.Error("registry should not contain the ignored announcement")
	}
}

func TestRegistryLatestFrom(t *testing.T) {
	r := NewRegistry(testLogger())
	old := &DeviceAnnouncement{Number: 2, LastSeen: time.Now().Add(-time.Minute)}
	fresh := &DeviceAnnouncement{Number: 2, LastSeen: time.Now()}

	r.IngestAnnouncement("10.0.0.2:1", old)
	r.IngestAnnouncement("10.0.0.2:2", fresh)

	got := r.LatestFrom(2)
	if got == nil || !got.LastSeen.Equal(fresh.LastSeen) {
		t.Errorf("LatestFrom(2) did not return the freshest announcement")
	}
}

func TestRegistryReapsExpired(t *testing.T) {
	r := NewRegistry(testLogger())
	r.SetMaxAge(10 * time.Millisecond)
	r.reapInterval = 5 * time.Millisecond
	r.Start()
	defer r.Stop()

	r.IngestAnnouncement("10.0.0.3:1", &DeviceAnnouncement{Number: 3, LastSeen: time.Now()})
	if len(r.CurrentDevices()) != 1 {
		t.Fatal("expected 1 device registered")
	}

	time.Sleep(60 * time.Millisecond)

	if len(r.CurrentDevices()) != 0 {
		t.Error("expired announcement should have been reaped")
	}
}

func TestRegistryFirstDeviceTime(t *testing.T) {
	r := NewRegistry(testLogger())
	if !r.FirstDeviceTime().IsZero() {
		t.Fatal("FirstDeviceTime should be zero before any announcement")
	}

	r.IngestAnnouncement("10.0.0.4:1", &DeviceAnnouncement{Number: 4, LastSeen: time.Now()})
	if r.FirstDeviceTime().IsZero() {
		t.Error("FirstDeviceTime should be set after first announcement")
	}
}

func TestOccupiedNumbers(t *testing.T) {
	r := NewRegistry(testLogger())
	r.IngestAnnouncement("a", &DeviceAnnouncement{Number: 1, IP: net.IPv4(1, 1, 1, 1)})
	r.IngestAnnouncement("b", &DeviceAnnouncement{Number: 4, IP: net.IPv4(1, 1, 1, 2)})

	occ := r.OccupiedNumbers()
	if !occ[1] || !occ[4] {
		t.Errorf("OccupiedNumbers = %v, want {1,4}", occ)
	}
}

func TestSelfAssignmentConvergence(t *testing.T) {
	// Testable property 1: for every set of observed device numbers,
	// the chosen number must be free and respect use_standard_player_number.
	cases := []struct {
		occupied    map[DeviceID]bool
		useStandard bool
	}{
		{map[DeviceID]bool{1: true, 2: true, 4: true}, true},
		{map[DeviceID]bool{1: true, 2: true, 3: true, 4: true}, true},
		{map[DeviceID]bool{}, false},
		{map[DeviceID]bool{5: true, 6: true}, false},
	}

	for _, c := range cases {
		n, err := selfAssignNumber(c.occupied, c.useStandard)
		if err != nil {
			if len(c.occupied) >= 11 {
				continue // all of 5..15 taken is a legitimate failure
			}
			t.Fatalf("selfAssignNumber(%v, %v): %v", c.occupied, c.useStandard, err)
		}
		if c.occupied[n] {
			t.Errorf("chosen number %d is already occupied in %v", n, c.occupied)
		}
		if !c.useStandard && n < 5 {
			t.Errorf("useStandard=false but chosen number %d < 5", n)
		}
		if c.useStandard {
			freeStandard := false
			for i := DeviceID(1); i <= 4; i++ {
				if !c.occupied[i] {
					freeStandard = true
				}
			}
			if freeStandard && n > 4 {
				t.Errorf("a standard slot was free but chose %d", n)
			}
		}
	}
}
