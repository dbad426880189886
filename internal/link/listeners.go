package link

import (
	"log/slog"
	"sync"
)

// DeviceUpdateListener is notified of every decoded device update
// (announcement, status, mixer status, beat) as it is processed on the
// ingest goroutine.
type DeviceUpdateListener func(update interface{})

// MasterChangedListener is notified whenever the observed tempo master
// changes, in the same order the defining status packets arrived.
type MasterChangedListener func(prev, next *MasterInfo)

// TempoChangedListener is notified when a master tempo change clears the
// tempo-epsilon publication gate.
type TempoChangedListener func(bpm float64)

// LifecycleListener is notified of participant start/stop transitions.
type LifecycleListener func(event string)

// MediaDetailsListener is notified when a collaborator publishes track
// metadata it retrieved out-of-band (we don't decode this off the wire
// ourselves).
type MediaDetailsListener func(details *MediaDetails)

// FaderStartListener is notified of a received fader start/stop command.
type FaderStartListener func(event *FaderStartReceived)

// OnAirListener is notified of a received channels-on-air command.
type OnAirListener func(event *OnAirReceived)

// SyncControlListener is notified of a received sync-control command
// (sync on, sync off, or appoint tempo master).
type SyncControlListener func(event *SyncControlReceived)

// MediaQueryListener is notified of a received media query command.
type MediaQueryListener func(event *MediaQueryReceived)

// LoadTrackListener is notified of a received load-track command.
type LoadTrackListener func(event *LoadTrackReceived)

// MasterHandoffListener is notified of a received master-handoff request
// or acknowledgement, in addition to the election state machine's own
// handling of the same packets.
type MasterHandoffListener func(event *MasterHandoffReceived)

// Listeners is the participant's fan-out registry: one set per event kind.
// All dispatch happens inline on the ingest goroutine, so
// every invocation is guarded to isolate a misbehaving listener from the
// rest of fan-out and from the ingest loop itself.
type Listeners struct {
	logger *slog.Logger

	mu            sync.RWMutex
	deviceUpdates []DeviceUpdateListener
	masterChanged []MasterChangedListener
	tempoChanged  []TempoChangedListener
	lifecycle     []LifecycleListener
	mediaDetails  []MediaDetailsListener
	faderStart    []FaderStartListener
	onAir         []OnAirListener
	syncControl   []SyncControlListener
	mediaQuery    []MediaQueryListener
	loadTrack     []LoadTrackListener
	masterHandoff []MasterHandoffListener
}

// NewListeners creates an empty fan-out registry.
func NewListeners(logger *slog.Logger) *Listeners {
	return &Listeners{logger: logger.With("subsystem", "listeners")}
}

// AddDeviceUpdateListener registers fn to receive every decoded update.
// Returns a function that removes it.
func (l *Listeners) AddDeviceUpdateListener(fn DeviceUpdateListener) func() {
	l.mu.Lock()
	l.deviceUpdates = append(l.deviceUpdates, fn)
	idx := len(l.deviceUpdates) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.deviceUpdates) {
			l.deviceUpdates[idx] = nil
		}
	}
}

// AddMasterChangedListener registers fn to receive master-change events.
func (l *Listeners) AddMasterChangedListener(fn MasterChangedListener) func() {
	l.mu.Lock()
	l.masterChanged = append(l.masterChanged, fn)
	idx := len(l.masterChanged) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.masterChanged) {
			l.masterChanged[idx] = nil
		}
	}
}

// AddTempoChangedListener registers fn to receive tempoChanged events.
func (l *Listeners) AddTempoChangedListener(fn TempoChangedListener) func() {
	l.mu.Lock()
	l.tempoChanged = append(l.tempoChanged, fn)
	idx := len(l.tempoChanged) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.tempoChanged) {
			l.tempoChanged[idx] = nil
		}
	}
}

// AddLifecycleListener registers fn to receive started/stopped events.
func (l *Listeners) AddLifecycleListener(fn LifecycleListener) func() {
	l.mu.Lock()
	l.lifecycle = append(l.lifecycle, fn)
	idx := len(l.lifecycle) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.lifecycle) {
			l.lifecycle[idx] = nil
		}
	}
}

// AddMediaDetailsListener registers fn to receive collaborator-published
// media details.
func (l *Listeners) AddMediaDetailsListener(fn MediaDetailsListener) func() {
	l.mu.Lock()
	l.mediaDetails = append(l.mediaDetails, fn)
	idx := len(l.mediaDetails) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.mediaDetails) {
			l.mediaDetails[idx] = nil
		}
	}
}

// AddFaderStartListener registers fn to receive fader start/stop commands.
func (l *Listeners) AddFaderStartListener(fn FaderStartListener) func() {
	l.mu.Lock()
	l.faderStart = append(l.faderStart, fn)
	idx := len(l.faderStart) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.faderStart) {
			l.faderStart[idx] = nil
		}
	}
}

// AddOnAirListener registers fn to receive channels-on-air commands.
func (l *Listeners) AddOnAirListener(fn OnAirListener) func() {
	l.mu.Lock()
	l.onAir = append(l.onAir, fn)
	idx := len(l.onAir) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.onAir) {
			l.onAir[idx] = nil
		}
	}
}

// AddSyncControlListener registers fn to receive sync-control commands.
func (l *Listeners) AddSyncControlListener(fn SyncControlListener) func() {
	l.mu.Lock()
	l.syncControl = append(l.syncControl, fn)
	idx := len(l.syncControl) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.syncControl) {
			l.syncControl[idx] = nil
		}
	}
}

// AddMediaQueryListener registers fn to receive media query commands.
func (l *Listeners) AddMediaQueryListener(fn MediaQueryListener) func() {
	l.mu.Lock()
	l.mediaQuery = append(l.mediaQuery, fn)
	idx := len(l.mediaQuery) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.mediaQuery) {
			l.mediaQuery[idx] = nil
		}
	}
}

// AddLoadTrackListener registers fn to receive load-track commands.
func (l *Listeners) AddLoadTrackListener(fn LoadTrackListener) func() {
	l.mu.Lock()
	l.loadTrack = append(l.loadTrack, fn)
	idx := len(l.loadTrack) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.loadTrack) {
			l.loadTrack[idx] = nil
		}
	}
}

// AddMasterHandoffListener registers fn to receive master-handoff requests
// and acknowledgements.
func (l *Listeners) AddMasterHandoffListener(fn MasterHandoffListener) func() {
	l.mu.Lock()
	l.masterHandoff = append(l.masterHandoff, fn)
	idx := len(l.masterHandoff) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.masterHandoff) {
			l.masterHandoff[idx] = nil
		}
	}
}

// snapshot copy-on-iterate helpers: the lock is held only long enough to
// copy the listener slice, so a listener that blocks cannot stall
// registration of new listeners.

func (l *Listeners) DispatchDeviceUpdate(update interface{}) {
	l.mu.RLock()
	fns := append([]DeviceUpdateListener(nil), l.deviceUpdates...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		l.guard(func() { fn(update) })
	}
}

func (l *Listeners) DispatchMasterChanged(prev, next *MasterInfo) {
	l.mu.RLock()
	fns := append([]MasterChangedListener(nil), l.masterChanged...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(prev, next) })
	}
}

func (l *Listeners) DispatchTempoChanged(bpm float64) {
	l.mu.RLock()
	fns := append([]TempoChangedListener(nil), l.tempoChanged...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(bpm) })
	}
}

func (l *Listeners) DispatchLifecycle(event string) {
	l.mu.RLock()
	fns := append([]LifecycleListener(nil), l.lifecycle...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(event) })
	}
}

func (l *Listeners) DispatchMediaDetails(details *MediaDetails) {
	l.mu.RLock()
	fns := append([]MediaDetailsListener(nil), l.mediaDetails...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(details) })
	}
}

func (l *Listeners) DispatchFaderStart(event *FaderStartReceived) {
	l.mu.RLock()
	fns := append([]FaderStartListener(nil), l.faderStart...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(event) })
	}
}

func (l *Listeners) DispatchOnAir(event *OnAirReceived) {
	l.mu.RLock()
	fns := append([]OnAirListener(nil), l.onAir...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(event) })
	}
}

func (l *Listeners) DispatchSyncControl(event *SyncControlReceived) {
	l.mu.RLock()
	fns := append([]SyncControlListener(nil), l.syncControl...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(event) })
	}
}

func (l *Listeners) DispatchMediaQuery(event *MediaQueryReceived) {
	l.mu.RLock()
	fns := append([]MediaQueryListener(nil), l.mediaQuery...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(event) })
	}
}

func (l *Listeners) DispatchLoadTrack(event *LoadTrackReceived) {
	l.mu.RLock()
	fns := append([]LoadTrackListener(nil), l.loadTrack...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(event) })
	}
}

func (l *Listeners) DispatchMasterHandoff(event *MasterHandoffReceived) {
	l.mu.RLock()
	fns := append([]MasterHandoffListener(nil), l.masterHandoff...)
	l.mu.RUnlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		fn := fn
		l.guard(func() { fn(event) })
	}
}

// guard isolates a single listener invocation: a panic is logged and
// swallowed so one bad listener cannot halt fan-out or the ingest loop.
func (l *Listeners) guard(call func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("listener panicked, discarding", "recovered", r)
		}
	}()
	call()
}
