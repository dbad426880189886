package link

import (
	"math"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time read of a Metronome's beat timeline. All
// fields are derived from a single atomic load, so a Snapshot is always
// internally consistent even though the underlying Metronome is being
// updated concurrently by other goroutines.
type Snapshot struct {
	Tempo         float64 // BPM
	Beat          uint64  // monotonically increasing beat counter since start
	BeatWithinBar int     // 1-4
	MsToNextBeat  int64
	MsToNextBar   int64

	// MsFromNearestBeat is the signed distance to the closest beat
	// boundary: positive when the nearest beat just passed, negative when
	// it is still ahead.
	MsFromNearestBeat int64

	StartedAt time.Time
}

// packedTempo bit-packs a tempo (float64 BPM, clamped to a sane range) into
// the low 32 bits of an atomic.Uint64 alongside a 32-bit generation counter,
// so readers can detect a tempo change mid-read without taking a lock. The
// generation counter is incremented on every store.
type packedTempo struct {
	v atomic.Uint64
}

func tempoToBits(bpm float64) uint32 {
	if bpm < 0 {
		bpm = 0
	}
	if bpm > 999.9 {
		bpm = 999.9
	}
	return uint32(math.Round(bpm * 100))
}

func bitsToTempo(bits uint32) float64 {
	return float64(bits) / 100.0
}

func (p *packedTempo) store(bpm float64) {
	for {
		old := p.v.Load()
		gen := uint32(old >> 32)
		next := (uint64(gen+1) << 32) | uint64(tempoToBits(bpm))
		if p.v.CompareAndSwap(old, next) {
			return
		}
	}
}

func (p *packedTempo) load() float64 {
	return bitsToTempo(uint32(p.v.Load()))
}

// Metronome is the single source of truth for a virtual participant's beat
// timeline: nominal tempo, beat count, and the phase offset that lets the
// beat sender compute ms-until-next-beat without revisiting a shared clock
// reference on every tick. All state is stored in atomics so Snapshot can
// be called from any goroutine without blocking the ingest goroutine that
// drives tempo updates.
type Metronome struct {
	tempo packedTempo

	// startNanos is the UnixNano timestamp at which beat beatAtStart
	// begins; beats accumulate forward from it at the current tempo.
	startNanos atomic.Int64

	// beatAtStart is the beat count in effect at startNanos, so JumpToBeat
	// and AdjustStart can rebase the origin without resetting to zero.
	beatAtStart atomic.Int64

	barFirstBeat atomic.Int64 // beat number that begins the current bar
}

// NewMetronome creates a Metronome at the given starting tempo, with beat 1
// anchored to now. The beat counter is 1-based and never reports below 1.
func NewMetronome(initialBPM float64) *Metronome {
	m := &Metronome{}
	m.tempo.store(initialBPM)
	m.beatAtStart.Store(1)
	m.barFirstBeat.Store(1)
	m.startNanos.Store(time.Now().UnixNano())
	return m
}

// Tempo returns the current nominal tempo in BPM.
func (m *Metronome) Tempo() float64 {
	return m.tempo.load()
}

// SetTempo updates the nominal tempo. The beat timeline is NOT rebased: the
// beat count continues to advance from its current position, it simply
// advances at the new rate from this instant forward. Callers that need a
// hard edit to the schedule (e.g. following a peer's authoritative grid)
// should call AdjustStart instead.
func (m *Metronome) SetTempo(bpm float64) {
	now := time.Now().UnixNano()
	snap := m.snapshotAt(now)
	m.beatAtStart.Store(int64(snap.Beat))
	m.startNanos.Store(now)
	m.tempo.store(bpm)
}

// JumpToBeat forcibly resets the beat counter to beat, effective now,
// without changing tempo. Used when a peer declares a beat count that
// disagrees with ours beyond tolerance.
func (m *Metronome) JumpToBeat(beat uint64) {
	m.beatAtStart.Store(int64(beat))
	m.startNanos.Store(time.Now().UnixNano())
}

// AdjustStart rebases the timeline origin to align our beat phase with an
// externally observed one: at wallClock, the timeline should read beat
// beatNumber, beatWithinBar phaseInBar.
func (m *Metronome) AdjustStart(wallClock time.Time, beatNumber uint64, phaseInBar int) {
	m.beatAtStart.Store(int64(beatNumber))
	m.startNanos.Store(wallClock.UnixNano())
	if phaseInBar >= 1 && phaseInBar <= 4 {
		m.barFirstBeat.Store(int64(beatNumber) - int64(phaseInBar-1))
	}
}

// Snapshot returns a consistent point-in-time read of the beat timeline.
func (m *Metronome) Snapshot() Snapshot {
	return m.snapshotAt(time.Now().UnixNano())
}

func (m *Metronome) snapshotAt(nowNanos int64) Snapshot {
	bpm := m.tempo.load()
	startNanos := m.startNanos.Load()
	beatAtStart := m.beatAtStart.Load()

	msPerBeat := 60000.0 / bpm
	elapsedMs := float64(nowNanos-startNanos) / 1e6
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	beatsElapsed := int64(elapsedMs / msPerBeat)
	beat := beatAtStart + beatsElapsed
	if beat < 1 {
		beat = 1
	}

	msIntoCurrentBeat := elapsedMs - float64(beatsElapsed)*msPerBeat
	msToNextBeat := int64(msPerBeat - msIntoCurrentBeat)

	msFromNearest := int64(msIntoCurrentBeat)
	if msFromNearest > msToNextBeat {
		msFromNearest = -msToNextBeat
	}

	barFirst := m.barFirstBeat.Load()
	beatWithinBar := int((beat-barFirst)%4) + 1
	if beatWithinBar < 1 {
		beatWithinBar += 4
	}
	beatsToNextBar := int64(4 - (beatWithinBar - 1))
	msToNextBar := msToNextBeat + (beatsToNextBar-1)*int64(msPerBeat)

	return Snapshot{
		Tempo:             bpm,
		Beat:              uint64(beat),
		BeatWithinBar:     beatWithinBar,
		MsToNextBeat:      msToNextBeat,
		MsToNextBar:       msToNextBar,
		MsFromNearestBeat: msFromNearest,
		StartedAt:         time.Unix(0, startNanos),
	}
}

// TempoChanged reports whether newBPM differs from the current tempo by at
// least epsilon, the gate that keeps pitch-fader jitter from fanning out.
func (m *Metronome) TempoChanged(newBPM, epsilon float64) bool {
	return math.Abs(m.Tempo()-newBPM) >= epsilon
}
