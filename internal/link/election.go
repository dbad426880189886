package link

import (
	"log/slog"
	"net"
	"sync"
)

// noNextMaster is the sentinel "no pending handoff target" value for
// next_master on the wire.
const noNextMaster = DeviceID(0xFF)

// MasterInfo identifies the device currently holding the tempo-master role,
// as observed from its status packets.
type MasterInfo struct {
	DeviceNumber DeviceID
	Addr         net.Addr
}

// Election owns the tempo-master state machine. Status, handoff-ack and
// yield processing run on the ingest goroutine; BecomeTempoMaster is called
// from the command surface and StatusFields from the status sender. Every
// method takes mu, which guards all of the state fields below; callbacks
// are invoked with mu released.
type Election struct {
	logger *slog.Logger

	ourNumber func() DeviceID

	mu sync.RWMutex

	amMaster              bool
	nextMaster            DeviceID
	requestingFrom        DeviceID
	yieldedFrom           DeviceID
	syncCounter           uint32
	largestSeenSync       uint32
	currentMaster         *MasterInfo
	masterTempo           float64
	masterTempoSet        bool

	onMasterChanged func(prev, next *MasterInfo)
	onTempoChanged  func(bpm float64)
}

// NewElection creates an election state machine. ourNumber is called
// lazily so the participant can construct the election before its device
// number is finalized by self-assignment.
func NewElection(logger *slog.Logger, ourNumber func() DeviceID) *Election {
	return &Election{
		logger:         logger.With("subsystem", "tempo-election"),
		ourNumber:      ourNumber,
		nextMaster:     noNextMaster,
		requestingFrom: 0,
		yieldedFrom:    0,
	}
}

// OnMasterChanged registers the callback invoked whenever the observed
// tempo master changes (including becoming nil). Must be set before the
// ingest loop starts; not safe to change concurrently with processing.
func (e *Election) OnMasterChanged(fn func(prev, next *MasterInfo)) {
	e.onMasterChanged = fn
}

// OnTempoChanged registers the callback invoked when a tempo change passes
// the publication gate in ProcessStatus.
func (e *Election) OnTempoChanged(fn func(bpm float64)) {
	e.onTempoChanged = fn
}

// AmMaster reports whether we currently hold the tempo-master role.
func (e *Election) AmMaster() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.amMaster
}

// CurrentMaster returns the currently observed tempo master, or nil if none.
func (e *Election) CurrentMaster() *MasterInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentMaster
}

// setMasterLocked updates currentMaster and fires onMasterChanged if it differs.
// Must be called with e.mu held.
func (e *Election) setMasterLocked(next *MasterInfo) {
	prev := e.currentMaster
	e.currentMaster = next
	changed := (prev == nil) != (next == nil)
	if !changed && prev != nil && next != nil {
		changed = prev.DeviceNumber != next.DeviceNumber
	}
	if changed && e.onMasterChanged != nil {
		fn := e.onMasterChanged
		e.mu.Unlock()
		fn(prev, next)
		e.mu.Lock()
	}
}

// ProcessStatus runs one CDJ status update through the election state
// machine. tempoEpsilon gates the tempoChanged notification.
func (e *Election) ProcessStatus(u *CdjStatus, ourTempo func() float64, tempoEpsilon float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ourNum := e.ourNumber()

	if u.IsMaster {
		if u.YieldTo == 0 {
			if e.amMaster && e.nextMaster == u.DeviceNumber {
				e.syncCounter = e.largestSeenSync + 1
			} else if e.amMaster {
				e.logger.Warn("unexpected master takeover",
					"from_device", u.DeviceNumber, "we_thought_next_master", e.nextMaster)
			}
			e.amMaster = false
			e.nextMaster = noNextMaster

			e.setMasterLocked(&MasterInfo{DeviceNumber: u.DeviceNumber, Addr: u.SourceAddr})
			e.publishTempoLocked(u.EffectiveTempo, tempoEpsilon)
		} else {
			if u.YieldTo == ourNum {
				if u.DeviceNumber != e.yieldedFrom {
					e.logger.Warn("unsolicited or unexpected yield source",
						"from_device", u.DeviceNumber, "expected", e.yieldedFrom)
				}
				e.amMaster = true
				e.yieldedFrom = 0
				e.setMasterLocked(nil)
				e.publishTempoLocked(ourTempo(), tempoEpsilon)
			}
		}
	} else {
		if e.currentMaster != nil && sameAddr(e.currentMaster.Addr, u.SourceAddr) {
			e.setMasterLocked(nil) // resignation
		}
	}

	if u.SyncNumber > e.largestSeenSync {
		e.largestSeenSync = u.SyncNumber
	}
}

// publishTempoLocked fires onTempoChanged if the delta clears tempoEpsilon
// and a master exists (or we just became master, which setMasterLocked has
// already reflected by the time this runs). Must be called with e.mu held.
func (e *Election) publishTempoLocked(newTempo float64, tempoEpsilon float64) {
	old := e.masterTempo
	delta := newTempo - old
	if delta < 0 {
		delta = -delta
	}
	if e.masterTempoSet && delta <= tempoEpsilon {
		return
	}
	e.masterTempo = newTempo
	e.masterTempoSet = true
	if e.onTempoChanged != nil {
		fn := e.onTempoChanged
		e.mu.Unlock()
		fn(newTempo)
		e.mu.Lock()
	}
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.String() == b.String()
}

// BecomeTempoMaster implements an explicit request for the master role.
// sendRequest is invoked to unicast a MasterHandoffRequest to the
// current master on the BeatFinder port; it is passed in so Election stays
// decoupled from socket I/O. ourTempo becomes the master tempo when no
// prior master exists.
func (e *Election) BecomeTempoMaster(sendingStatus bool, ourTempo float64, sendRequest func(target DeviceID) error) error {
	if !sendingStatus {
		return ErrNotSendingStatus
	}

	e.mu.Lock()
	master := e.currentMaster
	if master == nil {
		e.amMaster = true
		e.masterTempo = ourTempo
		e.masterTempoSet = true
		e.mu.Unlock()
		e.setMasterChangedSelf()
		return nil
	}
	e.requestingFrom = master.DeviceNumber
	target := master.DeviceNumber
	e.mu.Unlock()

	return sendRequest(target)
}

// setMasterChangedSelf fires the masterChanged(self) notification used when
// we become master with no prior master present.
func (e *Election) setMasterChangedSelf() {
	if e.onMasterChanged != nil {
		e.onMasterChanged(nil, &MasterInfo{DeviceNumber: e.ourNumber()})
	}
}

// ReceiveHandoffAck processes a MasterHandoffResponse(yield=true, from=d):
// the current master has agreed to hand the role to us.
func (e *Election) ReceiveHandoffAck(sendingStatus bool, from DeviceID) {
	if !sendingStatus {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if from != e.requestingFrom {
		return
	}
	e.yieldedFrom = from
	e.requestingFrom = 0
}

// ReceiveYieldCommand processes a YieldMasterTo(d) instruction received
// while we are master: we nominate d as the next master and our status
// packets begin carrying yield_to = d until d asserts normal mastery.
func (e *Election) ReceiveYieldCommand(d DeviceID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.amMaster || d == e.ourNumber() {
		return false
	}
	e.nextMaster = d
	return true
}

// StatusFields returns the (master, yieldTo) byte pair that the status
// sender should encode into the next outgoing CDJ status packet.
func (e *Election) StatusFields() (master bool, yieldTo DeviceID) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	yieldTo = DeviceID(0)
	if e.nextMaster != noNextMaster {
		yieldTo = e.nextMaster
	}
	return e.amMaster, yieldTo
}

// Reset clears all election state, called on participant stop.
func (e *Election) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.amMaster = false
	e.nextMaster = noNextMaster
	e.requestingFrom = 0
	e.yieldedFrom = 0
	e.syncCounter = 0
	e.largestSeenSync = 0
	e.currentMaster = nil
	e.masterTempoSet = false
}
