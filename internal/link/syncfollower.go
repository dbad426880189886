package link

import "log/slog"

// SyncFollower aligns our metronome to an observed tempo master's timeline
// while we are synced and not master. It is added/removed as
// (sending_status, synced) toggles; the participant owns that wiring.
type SyncFollower struct {
	logger    *slog.Logger
	metronome *Metronome
	notify    func()
}

// NewSyncFollower creates a follower bound to the given metronome. notify
// is called after each snap so the beat sender recomputes its deadline.
func NewSyncFollower(logger *slog.Logger, m *Metronome, notify func()) *SyncFollower {
	return &SyncFollower{
		logger:    logger.With("subsystem", "sync-follower"),
		metronome: m,
		notify:    notify,
	}
}

// OnMasterTempoChanged mirrors a master tempo change into our metronome.
func (f *SyncFollower) OnMasterTempoChanged(bpm float64) {
	f.metronome.SetTempo(bpm)
	if f.notify != nil {
		f.notify()
	}
}

// OnMasterBeat snaps our beat phase to zero on receipt of a master beat,
// aligning our next emitted beat to the master's phase.
func (f *SyncFollower) OnMasterBeat(at *BeatPacket) {
	snap := f.metronome.Snapshot()
	f.metronome.AdjustStart(at.Timestamp, snap.Beat, snap.BeatWithinBar)
	if f.notify != nil {
		f.notify()
	}
}
