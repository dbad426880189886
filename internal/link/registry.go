package link

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxAge is how stale an announcement can be before GetLatestStatus
// filters it out as gone.
const DefaultMaxAge = 10 * time.Second

const defaultReapScanInterval = 2 * time.Second

// Registry tracks every device that has announced itself on the network,
// keyed by the source address string passed to IngestAnnouncement (host:port
// on the ingest path, so one host sending from two ports occupies two
// entries). It is shared read-only with subscribers; all mutation
// is serialised by the registry's own mutex (the ingest goroutine is the
// only writer in practice, but the registry does not assume that).
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[string]*DeviceAnnouncement // keyed by source address string
	ignored map[string]bool                // our own bound addresses

	firstSeen    atomicTime
	maxAge       time.Duration
	cancelReaper context.CancelFunc
	reaperDone   chan struct{}
	reapInterval time.Duration

	onStopped func()
}

// atomicTime guards a single time.Time with a mutex; the registry's hot path
// (IngestAnnouncement) already holds mu, so this exists only to let
// FirstDeviceTime be read without it.
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

func (a *atomicTime) reset() {
	a.mu.Lock()
	a.t = time.Time{}
	a.mu.Unlock()
}

// NewRegistry creates a device registry. IngestAnnouncement works on a
// registry that was never started; stale entries are evicted only by the
// background reaper that Start launches.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:       logger.With("subsystem", "device-registry"),
		devices:      make(map[string]*DeviceAnnouncement),
		ignored:      make(map[string]bool),
		maxAge:       DefaultMaxAge,
		reapInterval: defaultReapScanInterval,
	}
}

// IgnoreAddress marks addr (our own bound address) as one whose
// announcements should never be registered.
func (r *Registry) IgnoreAddress(addr string) {
	r.mu.Lock()
	r.ignored[addr] = true
	r.mu.Unlock()
}

// UnignoreAddress reverses IgnoreAddress, called on participant stop.
func (r *Registry) UnignoreAddress(addr string) {
	r.mu.Lock()
	delete(r.ignored, addr)
	r.mu.Unlock()
}

// IngestAnnouncement records a presence announcement. Returns false if the
// source address is on the ignore list (our own socket).
func (r *Registry) IngestAnnouncement(addr string, a *DeviceAnnouncement) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ignored[addr] {
		return false
	}

	if len(r.devices) == 0 && r.firstSeen.get().IsZero() {
		r.firstSeen.set(time.Now())
	}

	r.devices[addr] = a
	return true
}

// CurrentDevices returns a snapshot slice of every currently registered
// announcement. Safe to call from any goroutine; copy-on-read so callers
// never observe a registry mutation mid-iteration.
func (r *Registry) CurrentDevices() []*DeviceAnnouncement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*DeviceAnnouncement, 0, len(r.devices))
	for _, a := range r.devices {
		out = append(out, a)
	}
	return out
}

// LatestFrom returns the most recently seen announcement for the given
// player number, or nil if none is registered.
func (r *Registry) LatestFrom(number DeviceID) *DeviceAnnouncement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *DeviceAnnouncement
	for _, a := range r.devices {
		if a.Number != number {
			continue
		}
		if latest == nil || a.LastSeen.After(latest.LastSeen) {
			latest = a
		}
	}
	return latest
}

// OccupiedNumbers returns the set of device numbers currently present in
// the registry, for self-assignment scanning.
func (r *Registry) OccupiedNumbers() map[DeviceID]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[DeviceID]bool, len(r.devices))
	for _, a := range r.devices {
		out[a.Number] = true
	}
	return out
}

// FirstDeviceTime returns the monotonic-ish timestamp of the first
// announcement observed since the registry emptied out, or the zero Time
// if no device has been seen since.
func (r *Registry) FirstDeviceTime() time.Time {
	return r.firstSeen.get()
}

// GetLatestStatus returns the announcement for number if it is registered
// and was last seen within maxAge; nil otherwise.
func (r *Registry) GetLatestStatus(number DeviceID) *DeviceAnnouncement {
	a := r.LatestFrom(number)
	if a == nil {
		return nil
	}
	if time.Since(a.LastSeen) > r.maxAge {
		return nil
	}
	return a
}

// SetMaxAge overrides the default staleness window used by GetLatestStatus.
func (r *Registry) SetMaxAge(d time.Duration) {
	r.maxAge = d
}

// Start launches the background reaper goroutine that evicts stale
// announcements. Call Stop to shut it down.
func (r *Registry) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelReaper = cancel
	r.reaperDone = make(chan struct{})

	go r.reapLoop(ctx)
}

// OnStopped registers a callback invoked after the registry shuts down. The
// participant depends on a live registry, so it uses this hook to stop
// itself whenever the registry stops out from under it. Must be set before
// Start; not safe to change concurrently with Stop.
func (r *Registry) OnStopped(fn func()) {
	r.onStopped = fn
}

// Stop shuts down the reaper and clears all registered devices.
func (r *Registry) Stop() {
	if r.cancelReaper != nil {
		r.cancelReaper()
		<-r.reaperDone
		r.cancelReaper = nil
	}

	r.mu.Lock()
	r.devices = make(map[string]*DeviceAnnouncement)
	r.mu.Unlock()
	r.firstSeen.reset()

	if r.onStopped != nil {
		r.onStopped()
	}
}

func (r *Registry) reapLoop(ctx context.Context) {
	defer close(r.reaperDone)

	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapExpired()
		}
	}
}

func (r *Registry) reapExpired() {
	now := time.Now()

	r.mu.Lock()
	for addr, a := range r.devices {
		if now.Sub(a.LastSeen) > r.maxAge {
			delete(r.devices, addr)
		}
	}
	empty := len(r.devices) == 0
	r.mu.Unlock()

	if empty {
		r.firstSeen.reset()
	}
}
