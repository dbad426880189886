package link

import "testing"

func TestFindBeatAtTimeBeforeFirstBeat(t *testing.T) {
	g := NewBeatGrid([]int64{1000, 1500, 2000}, []int{1, 2, 3})
	if got := g.FindBeatAtTime(500); got >= 0 {
		t.Errorf("FindBeatAtTime(500) = %d, want negative (before first beat)", got)
	}
}

func TestFindBeatAtTimeExactMatch(t *testing.T) {
	g := NewBeatGrid([]int64{0, 500, 1000, 1500}, []int{1, 2, 3, 4})
	if got := g.FindBeatAtTime(500); got != 2 {
		t.Errorf("FindBeatAtTime(500) = %d, want 2", got)
	}
}

func TestFindBeatAtTimeExtrapolatesPastEnd(t *testing.T) {
	g := NewBeatGrid([]int64{0, 500, 1000}, []int{1, 2, 3})
	// interval is 500ms; 2000ms is 2 intervals past the last beat (1000ms).
	if got := g.FindBeatAtTime(2000); got != 5 {
		t.Errorf("FindBeatAtTime(2000) = %d, want 5", got)
	}
}

func TestBeatWithinBarAtCyclesPastEnd(t *testing.T) {
	g := NewBeatGrid([]int64{0, 500, 1000, 1500}, []int{1, 2, 3, 4})
	if got := g.BeatWithinBarAt(5); got != 1 {
		t.Errorf("BeatWithinBarAt(5) = %d, want 1", got)
	}
	if got := g.BeatWithinBarAt(6); got != 2 {
		t.Errorf("BeatWithinBarAt(6) = %d, want 2", got)
	}
}

func TestCueListSortedByTime(t *testing.T) {
	cl := NewCueList([]CueEntry{
		{CueTimeMs: 5000, HotCueNum: 1},
		{CueTimeMs: 1000, HotCueNum: 2},
		{CueTimeMs: 3000, HotCueNum: 3},
	})
	entries := cl.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].CueTimeMs < entries[i-1].CueTimeMs {
			t.Fatalf("cue list not sorted: %v", entries)
		}
	}
}
