package link

import "sort"

// CueEntry is one entry in a track's cue list: a hot cue, memory point, or
// loop, sorted by CueTimeMs.
type CueEntry struct {
	CueTimeMs  int64
	LoopTimeMs int64 // 0 if not a loop
	HotCueNum  int   // 0 = memory point
	IsLoop     bool
	Color      byte
	Comment    string
}

// CueList is a track's cue points, kept sorted by cue time.
type CueList struct {
	entries []CueEntry
}

// NewCueList builds a CueList from unsorted entries.
func NewCueList(entries []CueEntry) *CueList {
	sorted := append([]CueEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CueTimeMs < sorted[j].CueTimeMs })
	return &CueList{entries: sorted}
}

// Entries returns the cue list in sorted order.
func (c *CueList) Entries() []CueEntry {
	return c.entries
}

// BeatGrid maps beat index to time-in-track and beat-within-bar for a
// single track, supporting binary-searchable time→beat lookup used by
// collaborators that need to translate a reported playback position into a
// beat number (e.g. for loop/cue alignment).
type BeatGrid struct {
	timesMs        []int64 // time-in-track, ms, one per beat, ascending
	beatsWithinBar []int   // 1-4, parallel to timesMs
}

// NewBeatGrid builds a grid from parallel time/phase arrays. The arrays
// must be the same length and timesMs must be ascending.
func NewBeatGrid(timesMs []int64, beatsWithinBar []int) *BeatGrid {
	return &BeatGrid{
		timesMs:        append([]int64(nil), timesMs...),
		beatsWithinBar: append([]int(nil), beatsWithinBar...),
	}
}

// Len returns the number of beats in the grid.
func (g *BeatGrid) Len() int {
	return len(g.timesMs)
}

// FindBeatAtTime returns the 1-based beat index active at timeMs, or a
// negative value if timeMs falls before the first beat. Past the final
// beat (e.g. during looping past the grid's known end), it extrapolates
// forward using the interval between the last two beats rather than
// failing, per the grid's past-last-beat interpolation note.
func (g *BeatGrid) FindBeatAtTime(timeMs int64) int {
	n := len(g.timesMs)
	if n == 0 {
		return -1
	}
	if timeMs < g.timesMs[0] {
		return -1
	}

	// sort.Search finds the first index whose time is > timeMs; the active
	// beat is the one before it.
	idx := sort.Search(n, func(i int) bool { return g.timesMs[i] > timeMs })
	if idx < n {
		return idx // idx is 0-based position of the beat *before* idx+1; beat index idx (1-based) since idx-1+1 == idx
	}

	// Past the last known beat: extrapolate using the final interval.
	if n == 1 {
		return n
	}
	interval := g.timesMs[n-1] - g.timesMs[n-2]
	if interval <= 0 {
		return n
	}
	beatsPast := (timeMs - g.timesMs[n-1]) / interval
	return n + int(beatsPast)
}

// BeatWithinBarAt returns the beat-within-bar phase (1-4) for the given
// 1-based beat index, extrapolating past the grid's end by cycling the
// last four beats' phase pattern.
func (g *BeatGrid) BeatWithinBarAt(beatIndex int) int {
	n := len(g.beatsWithinBar)
	if n == 0 {
		return 1
	}
	if beatIndex >= 1 && beatIndex <= n {
		return g.beatsWithinBar[beatIndex-1]
	}
	if beatIndex > n {
		overshoot := beatIndex - n
		lastPhase := g.beatsWithinBar[n-1]
		phase := ((lastPhase-1)+overshoot)%4 + 1
		return phase
	}
	return 1
}

// TimeAtBeat returns the time-in-track (ms) for the given 1-based beat
// index, or -1 if out of range on the low end. Past the grid's end it
// extrapolates using the final interval.
func (g *BeatGrid) TimeAtBeat(beatIndex int) int64 {
	n := len(g.timesMs)
	if n == 0 || beatIndex < 1 {
		return -1
	}
	if beatIndex <= n {
		return g.timesMs[beatIndex-1]
	}

	if n == 1 {
		return g.timesMs[0]
	}
	interval := g.timesMs[n-1] - g.timesMs[n-2]
	overshoot := int64(beatIndex - n)
	return g.timesMs[n-1] + overshoot*interval
}
