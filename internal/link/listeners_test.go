package link

import "testing"

func TestListenerPanicIsIsolated(t *testing.T) {
	l := NewListeners(testLogger())

	calls := 0
	l.AddDeviceUpdateListener(func(interface{}) { panic("bad listener") })
	l.AddDeviceUpdateListener(func(interface{}) { calls++ })

	l.DispatchDeviceUpdate(&BeatPacket{DeviceNumber: 1})

	if calls != 1 {
		t.Errorf("healthy listener invoked %d times, want 1 (panic must not halt fan-out)", calls)
	}
}

func TestListenerRemoval(t *testing.T) {
	l := NewListeners(testLogger())

	calls := 0
	remove := l.AddTempoChangedListener(func(float64) { calls++ })

	l.DispatchTempoChanged(120.0)
	remove()
	l.DispatchTempoChanged(121.0)

	if calls != 1 {
		t.Errorf("listener invoked %d times, want 1 after removal", calls)
	}
}

func TestMasterChangedDispatchOrder(t *testing.T) {
	l := NewListeners(testLogger())

	var seen []DeviceID
	l.AddMasterChangedListener(func(prev, next *MasterInfo) {
		if next != nil {
			seen = append(seen, next.DeviceNumber)
		}
	})

	l.DispatchMasterChanged(nil, &MasterInfo{DeviceNumber: 3})
	l.DispatchMasterChanged(&MasterInfo{DeviceNumber: 3}, &MasterInfo{DeviceNumber: 5})

	if len(seen) != 2 || seen[0] != 3 || seen[1] != 5 {
		t.Errorf("master changes delivered as %v, want [3 5] in arrival order", seen)
	}
}

func TestCommandListenersReceiveDecodedCommands(t *testing.T) {
	l := NewListeners(testLogger())

	var fader *FaderStartReceived
	var syncCmd *SyncControlReceived
	l.AddFaderStartListener(func(e *FaderStartReceived) { fader = e })
	l.AddSyncControlListener(func(e *SyncControlReceived) { syncCmd = e })

	l.DispatchFaderStart(&FaderStartReceived{Players: [4]byte{0, 1, 2, 2}})
	l.DispatchSyncControl(&SyncControlReceived{Command: SyncCommandOn})

	if fader == nil || fader.Players != [4]byte{0, 1, 2, 2} {
		t.Errorf("fader start listener got %+v", fader)
	}
	if syncCmd == nil || syncCmd.Command != SyncCommandOn {
		t.Errorf("sync control listener got %+v", syncCmd)
	}
}
