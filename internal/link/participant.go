package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// State is the participant lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	announcementPort = 50000
	ingestPort       = 50002
	beatFinderPort   = 50001

	selfAssignWaitAfterFirstDevice = 4 * time.Second
	startupPeerWaitTotal           = 10 * time.Second
	startupPeerPollInterval        = 500 * time.Millisecond

	maxBeat = 65536
)

// Participant is an owned handle to a virtual Pro DJ Link device: an
// affordance for sending/receiving the packets a real CDJ/XDJ would, so a
// host application can appear on the network as one more participant
// without owning the socket or timing plumbing itself.
type Participant struct {
	logger *slog.Logger

	cfgMu        sync.RWMutex
	deviceName   string
	deviceNumber DeviceID
	useStandard  bool
	announceMs   int
	statusMs     int
	tempoEpsilon float64

	stateMu sync.RWMutex
	state   State

	sendingStatus atomic.Bool
	playing       atomic.Bool
	synced        atomic.Bool
	onAir         atomic.Bool

	whereStoppedMu sync.Mutex
	whereStopped   Snapshot

	registry   *Registry
	election   *Election
	metronome  *Metronome
	listeners  *Listeners
	commands   *CommandSurface
	beatSender *BeatSender
	status     *StatusSender
	follower   *SyncFollower

	counters Counters

	conn          *net.UDPConn
	localAddr     string
	announceTmpl  []byte
	ourMAC        net.HardwareAddr
	ourIP         net.IP
	broadcastAddr net.IP

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewParticipant creates a Stopped participant with the given initial
// configuration. Use the Set* methods to reconfigure before Start.
func NewParticipant(logger *slog.Logger, deviceName string, deviceNumber DeviceID, useStandard bool, announceMs, statusMs int, tempoEpsilon float64) *Participant {
	logger = logger.With("subsystem", "participant")

	p := &Participant{
		logger:       logger,
		deviceName:   deviceName,
		deviceNumber: deviceNumber,
		useStandard:  useStandard,
		announceMs:   announceMs,
		statusMs:     statusMs,
		tempoEpsilon: tempoEpsilon,
		state:        StateStopped,
		metronome:    NewMetronome(120.0),
		listeners:    NewListeners(logger),
	}
	// A stopped deck is parked on beat 1; the first SetPlaying(true) resumes
	// from here, and the beat counter must never report below 1.
	p.whereStopped = Snapshot{Beat: 1, BeatWithinBar: 1}
	p.counters.init()

	p.registry = NewRegistry(logger)
	// Lifecycle dependency: a participant cannot outlive its registry. Stop
	// is idempotent, so the participant's own stop path (which stops the
	// registry itself) re-enters here harmlessly.
	p.registry.OnStopped(p.Stop)
	p.election = NewElection(logger, p.DeviceNumber)
	p.election.OnMasterChanged(func(prev, next *MasterInfo) {
		p.counters.masterTransitions.Add(1)
		p.listeners.DispatchMasterChanged(prev, next)
	})
	p.election.OnTempoChanged(func(bpm float64) {
		p.listeners.DispatchTempoChanged(bpm)
		if p.synced.Load() && !p.election.AmMaster() {
			p.metronome.SetTempo(bpm)
			p.notifyTimelineChanged()
		}
	})

	return p
}

// State returns the current lifecycle state.
func (p *Participant) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

func (p *Participant) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// DeviceNumber returns our current device number.
func (p *Participant) DeviceNumber() DeviceID {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.deviceNumber
}

// SetDeviceNumber changes our device number. Fails with BusySendingStatus
// while status sending is active.
func (p *Participant) SetDeviceNumber(n DeviceID) error {
	if p.sendingStatus.Load() {
		return ErrBusySendingStatus
	}
	p.cfgMu.Lock()
	p.deviceNumber = n
	p.cfgMu.Unlock()
	return nil
}

// IsRunning reports whether the participant is in the Running state, used
// by the command surface's guard.
func (p *Participant) IsRunning() bool {
	return p.State() == StateRunning
}

// DeviceCount implements MetricsSource.
func (p *Participant) DeviceCount() int { return len(p.registry.CurrentDevices()) }

// IsMaster implements MetricsSource.
func (p *Participant) IsMaster() bool { return p.election.AmMaster() }

// CurrentTempo implements MetricsSource.
func (p *Participant) CurrentTempo() float64 { return p.metronome.Tempo() }

// MasterTransitions implements MetricsSource.
func (p *Participant) MasterTransitions() uint64 { return p.counters.masterTransitions.Load() }

// CommandsSentByKind implements MetricsSource.
func (p *Participant) CommandsSentByKind() map[string]uint64 { return p.counters.commandCounts() }

// StatusPacketsSent implements MetricsSource.
func (p *Participant) StatusPacketsSent() uint64 { return p.counters.statusSent.Load() }

// BeatPacketsSent implements MetricsSource.
func (p *Participant) BeatPacketsSent() uint64 { return p.counters.beatsSent.Load() }

// BeatEmitJitter implements MetricsSource.
func (p *Participant) BeatEmitJitter() prometheus.Histogram { return p.counters.beatJitter }

// Listeners exposes the fan-out registry for subscribers.
func (p *Participant) Listeners() *Listeners { return p.listeners }

// Commands exposes the collaborator facade. It is nil until the first
// successful Start reaches step 8; commands themselves guard on running
// state.
func (p *Participant) Commands() *CommandSurface { return p.commands }

// Start brings the participant onto the wire: wait for peers, pick an
// interface and device number, bind the status socket, and spawn the
// ingest and announcement tasks.
func (p *Participant) Start(ctx context.Context) error {
	p.setState(StateStarting)

	// 1. Start the Device Registry.
	p.registry.Start()

	// 2. Wait up to 10s for at least one real device.
	if !p.waitForPeers(ctx) {
		p.registry.Stop()
		p.setState(StateStopped)
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return ErrNoPeers
	}

	// 3. Select the local interface whose broadcast network matches a peer.
	localIP, broadcastIP, mac, err := selectInterface(p.registry.CurrentDevices(), p.logger)
	if err != nil {
		p.registry.Stop()
		p.setState(StateStopped)
		return err
	}
	p.ourIP = localIP
	p.ourMAC = mac
	p.broadcastAddr = broadcastIP

	// 4. Self-assign a device number if configured as 0.
	p.cfgMu.Lock()
	requested := p.deviceNumber
	useStandard := p.useStandard
	p.cfgMu.Unlock()

	if requested == 0 {
		p.sleepUntilSelfAssignWindow(ctx)
		assigned, err := selfAssignNumber(p.registry.OccupiedNumbers(), useStandard)
		if err != nil {
			p.registry.Stop()
			p.setState(StateStopped)
			return err
		}
		p.cfgMu.Lock()
		p.deviceNumber = assigned
		p.cfgMu.Unlock()
	}

	// 5. Patch the announcement template.
	p.cfgMu.RLock()
	name := p.deviceName
	number := p.deviceNumber
	p.cfgMu.RUnlock()

	tmpl := encodeNamed(KindAnnouncement, name, make([]byte, minLen[KindAnnouncement]-offsetDeviceName-deviceNameLen))
	patchDeviceIdentity(tmpl, byte(number), mac, localIP.To4())
	p.announceTmpl = tmpl

	// 6. Bind a UDP socket on port 50002.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: localIP, Port: ingestPort})
	if err != nil {
		p.registry.Stop()
		p.setState(StateStopped)
		return fmt.Errorf("%w: %v", ErrSocketFailure, err)
	}
	p.conn = conn
	p.localAddr = conn.LocalAddr().String()

	// 7. Register our bound address as ignored.
	p.registry.IgnoreAddress(p.localAddr)

	// 8. Spawn the ingest and announcement tasks.
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	p.group = g

	p.commands = NewCommandSurface(
		p.logger, p.registry, p.election,
		p.IsRunning,
		func() []byte { return p.announceTmpl },
		p.DeviceNumber,
		p.metronome.Tempo,
		p.counters.recordCommand,
		p.sendUnicast(beatFinderPort),
		p.broadcastOnPort,
		p.sendUnicast(ingestPort),
	)

	g.Go(func() error { return p.runIngest(gctx) })
	g.Go(func() error { return p.runAnnouncements(gctx) })

	p.setState(StateRunning)
	p.listeners.DispatchLifecycle("started")
	return nil
}

func (p *Participant) waitForPeers(ctx context.Context) bool {
	deadline := time.Now().Add(startupPeerWaitTotal)
	ticker := time.NewTicker(startupPeerPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if len(p.registry.CurrentDevices()) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return len(p.registry.CurrentDevices()) > 0
}

func (p *Participant) sleepUntilSelfAssignWindow(ctx context.Context) {
	first := p.registry.FirstDeviceTime()
	if first.IsZero() {
		return
	}
	remaining := selfAssignWaitAfterFirstDevice - time.Since(first)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// selfAssignNumber picks the smallest free device number, preferring the
// standard 1..4 player slots when configured to.
func selfAssignNumber(occupied map[DeviceID]bool, useStandard bool) (DeviceID, error) {
	if useStandard {
		for n := DeviceID(1); n <= 4; n++ {
			if !occupied[n] {
				return n, nil
			}
		}
	}
	for n := DeviceID(5); n <= 15; n++ {
		if !occupied[n] {
			return n, nil
		}
	}
	return 0, ErrNoAvailableNumber
}

// selectInterface enumerates local interface addresses and picks the one
// whose broadcast network matches a discovered device's IP.
func selectInterface(devices []*DeviceAnnouncement, logger *slog.Logger) (localIP net.IP, broadcastIP net.IP, mac net.HardwareAddr, err error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: enumerating interfaces: %v", ErrSocketFailure, err)
	}

	type match struct {
		ip   net.IP
		bcst net.IP
		mac  net.HardwareAddr
	}
	var matches []match

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			for _, dev := range devices {
				if !sameNetwork(ipNet, dev.IP) {
					continue
				}
				matches = append(matches, match{
					ip:   ipNet.IP,
					bcst: broadcastAddress(ipNet),
					mac:  iface.HardwareAddr,
				})
				break
			}
		}
	}

	if len(matches) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: no local interface matches any discovered device's network", ErrSocketFailure)
	}
	if len(matches) > 1 {
		logger.Warn("multiple local interfaces match discovered device networks; duplicate packets may break state tracking", "count", len(matches))
	}

	m := matches[0]
	return m.ip, m.bcst, m.mac, nil
}

func sameNetwork(ipNet *net.IPNet, other net.IP) bool {
	other4 := other.To4()
	if other4 == nil {
		return false
	}
	return ipNet.Contains(other4)
}

func broadcastAddress(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	mask := ipNet.Mask
	bcst := make(net.IP, 4)
	for i := range bcst {
		bcst[i] = ip4[i] | ^mask[i]
	}
	return bcst
}

func (p *Participant) sendUnicast(port int) func(addr string, pkt []byte) {
	return func(addr string, pkt []byte) {
		udpAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, port))
		if err != nil {
			return
		}
		p.conn.WriteToUDP(pkt, udpAddr)
	}
}

func (p *Participant) broadcastOnPort(port int, pkt []byte) {
	addr := &net.UDPAddr{IP: p.broadcastAddr, Port: port}
	p.conn.WriteToUDP(pkt, addr)
}

// runIngest is the ingest task: blocks reading UDP, mutates election state
// single-writer, dispatches to listeners, never dies on a per-packet error.
func (p *Participant) runIngest(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil // suppressed: socket closed during stop
			}
			p.logger.Error("ingest socket read failed, stopping participant", "error", err)
			go p.Stop()
			return fmt.Errorf("%w: %v", ErrSocketFailure, err)
		}

		if addr.String() == p.localAddr {
			continue
		}

		p.handlePacket(buf[:n], addr)
	}
}

func (p *Participant) handlePacket(raw []byte, addr net.Addr) {
	kind, err := validateHeader(raw, ingestPort)
	if err != nil {
		p.logger.Debug("dropping packet", "error", err, "source", addr)
		return
	}

	if oversized(kind, len(raw)) {
		p.logger.Warn("packet longer than expected, processing anyway",
			"kind", kind, "length", len(raw), "source", addr)
	}

	switch kind {
	case KindAnnouncement:
		a := decodeAnnouncement(raw)
		p.registry.IngestAnnouncement(addr.String(), a)
		p.listeners.DispatchDeviceUpdate(a)
	case KindCdjStatus:
		s := decodeCdjStatus(raw, addr)
		p.election.ProcessStatus(s, p.metronome.Tempo, p.tempoEpsilonValue())
		p.listeners.DispatchDeviceUpdate(s)
	case KindMixerStatus:
		m := decodeMixerStatus(raw, addr)
		p.listeners.DispatchDeviceUpdate(m)
	case KindBeat:
		b := decodeBeat(raw, addr)
		if p.synced.Load() && !p.election.AmMaster() && p.follower != nil {
			if m := p.election.CurrentMaster(); m != nil && m.DeviceNumber == b.DeviceNumber {
				p.follower.OnMasterBeat(b)
			}
		}
		p.listeners.DispatchDeviceUpdate(b)
	case KindFaderStart:
		f := decodeFaderStart(raw, addr)
		p.listeners.DispatchFaderStart(f)
	case KindChannelsOnAir:
		o := decodeOnAir(raw, addr)
		p.listeners.DispatchOnAir(o)
	case KindSyncControl:
		s := decodeSyncControl(raw, addr)
		p.applySyncControl(s)
		p.listeners.DispatchSyncControl(s)
	case KindMediaQuery:
		m := decodeMediaQuery(raw, addr)
		p.listeners.DispatchMediaQuery(m)
	case KindLoadTrack:
		lt := decodeLoadTrack(raw, addr)
		p.listeners.DispatchLoadTrack(lt)
	case KindMasterHandoffRequest:
		d := DeviceID(shortPayload(raw)[0x02])
		if p.election.ReceiveYieldCommand(d) {
			peerAddr := addr
			p.commands.YieldMasterTo(d, peerAddr)
		}
		p.listeners.DispatchMasterHandoff(decodeMasterHandoff(KindMasterHandoffRequest, raw, addr))
	case KindMasterHandoffAck:
		from := DeviceID(shortPayload(raw)[0x02])
		p.election.ReceiveHandoffAck(p.sendingStatus.Load(), from)
		p.listeners.DispatchMasterHandoff(decodeMasterHandoff(KindMasterHandoffAck, raw, addr))
	default:
		p.logger.Debug("unhandled packet kind on ingest", "kind", kind)
	}
}

func (p *Participant) tempoEpsilonValue() float64 {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.tempoEpsilon
}

// runAnnouncements is the announcement task: broadcasts our presence on
// port 50000 every announce_interval ms.
func (p *Participant) runAnnouncements(ctx context.Context) error {
	p.cfgMu.RLock()
	interval := time.Duration(p.announceMs) * time.Millisecond
	p.cfgMu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			addr := &net.UDPAddr{IP: p.broadcastAddr, Port: announcementPort}
			if _, err := p.conn.WriteToUDP(p.announceTmpl, addr); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("announcement send failed, stopping participant", "error", err)
				go p.Stop()
				return fmt.Errorf("%w: %v", ErrSocketFailure, err)
			}
		}
	}
}

// Stop tears the participant down: idempotent, releases the
// socket and tasks, resets device number to re-enable self-assignment.
// A no-op unless Running: Start's own failure paths unwind their partial
// acquisitions themselves.
func (p *Participant) Stop() {
	if p.State() != StateRunning {
		return
	}
	p.setState(StateStopping)

	if p.status != nil {
		p.status.Stop()
	}
	if p.beatSender != nil {
		p.beatSender.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	if p.group != nil {
		p.group.Wait() //nolint:errcheck
	}

	p.registry.UnignoreAddress(p.localAddr)
	p.registry.Stop()
	p.election.Reset()
	p.sendingStatus.Store(false)

	p.cfgMu.Lock()
	p.deviceNumber = 0
	p.cfgMu.Unlock()

	p.setState(StateStopped)
	p.listeners.DispatchLifecycle("stopped")
}

// SetSendingStatus turns the status sender (and its beat sender/sync
// follower) on or off. Requires a device number in 1..4 to turn on.
func (p *Participant) SetSendingStatus(on bool) error {
	if !p.IsRunning() {
		return ErrNotRunning
	}

	if !on {
		p.sendingStatus.Store(false)
		if p.status != nil {
			p.status.Stop()
			p.status = nil
		}
		if p.beatSender != nil {
			p.beatSender.Stop()
			p.beatSender = nil
		}
		p.follower = nil
		return nil
	}

	num := p.DeviceNumber()
	if num < 1 || num > 4 {
		return ErrInvalidDeviceNumberForStatus
	}

	p.beatSender = NewBeatSender(p.logger, p.metronome, p.DeviceNumber, func(pkt []byte) {
		p.broadcastOnPort(beatFinderPort, pkt)
		p.counters.beatsSent.Add(1)
	}, p.counters.beatJitter.Observe)

	p.status = NewStatusSender(
		p.logger, p.metronome, p.election, p.beatSender,
		func() string { p.cfgMu.RLock(); defer p.cfgMu.RUnlock(); return p.deviceName },
		p.DeviceNumber,
		p.playing.Load,
		p.synced.Load,
		p.onAir.Load,
		func() time.Duration { p.cfgMu.RLock(); defer p.cfgMu.RUnlock(); return time.Duration(p.statusMs) * time.Millisecond },
		p.registry.CurrentDevices,
		func(addr string, pkt []byte) {
			p.sendUnicast(ingestPort)(addr, pkt)
			p.counters.statusSent.Add(1)
		},
	)

	if p.synced.Load() {
		p.attachSyncFollower()
	}

	p.sendingStatus.Store(true)
	p.status.Start()
	if p.playing.Load() {
		p.beatSender.Start()
	}
	return nil
}

func (p *Participant) attachSyncFollower() {
	p.follower = NewSyncFollower(p.logger, p.metronome, p.notifyTimelineChanged)
}

func (p *Participant) notifyTimelineChanged() {
	if p.beatSender != nil {
		p.beatSender.NotifyTimelineChanged()
	}
}

// SetSynced toggles sync-follower mode: attached/detached as
// (sending_status, synced) changes.
func (p *Participant) SetSynced(synced bool) {
	p.synced.Store(synced)
	if synced && p.sendingStatus.Load() {
		p.attachSyncFollower()
	} else {
		p.follower = nil
	}
}

// SetOnAir toggles the on-air status bit.
func (p *Participant) SetOnAir(onAir bool) { p.onAir.Store(onAir) }

// applySyncControl handles a received sync-control command:
// sync on/off flips our own follower state, and appoint-master requests the
// tempo master role through the same path AppointTempoMaster's sender
// expects a collaborator to use.
func (p *Participant) applySyncControl(s *SyncControlReceived) {
	switch s.Command {
	case SyncCommandOn:
		p.SetSynced(true)
	case SyncCommandOff:
		p.SetSynced(false)
	case SyncCommandAppointMaster:
		if err := p.commands.BecomeTempoMaster(p.sendingStatus.Load()); err != nil {
			p.logger.Debug("become-tempo-master from sync control failed", "error", err)
		}
	}
}

// SetPlaying toggles playback. Starting playback starts the beat sender
// (if sending status) and resumes from where_stopped; stopping snapshots
// the metronome into whereStopped.
func (p *Participant) SetPlaying(playing bool) {
	wasPlaying := p.playing.Swap(playing)
	if playing == wasPlaying {
		return
	}

	if playing {
		p.whereStoppedMu.Lock()
		beat := p.whereStopped.Beat
		phase := p.whereStopped.BeatWithinBar
		p.whereStoppedMu.Unlock()
		p.metronome.AdjustStart(time.Now(), beat, phase)

		if p.sendingStatus.Load() && p.beatSender != nil {
			p.beatSender.Start()
		}
	} else {
		snap := p.metronome.Snapshot()
		p.whereStoppedMu.Lock()
		p.whereStopped = snap
		p.whereStoppedMu.Unlock()
		if p.beatSender != nil {
			p.beatSender.Stop()
		}
	}
}

// JumpToBeat clamps n to >=1 and wraps at maxBeat.
func (p *Participant) JumpToBeat(n int64) {
	wrapped := wrapBeat(n)
	if p.playing.Load() {
		p.metronome.JumpToBeat(wrapped)
		p.notifyTimelineChanged()
	} else {
		p.whereStoppedMu.Lock()
		p.whereStopped.Beat = wrapped
		p.whereStoppedMu.Unlock()
	}
}

func wrapBeat(n int64) uint64 {
	if n < 1 {
		n = 1
	}
	return uint64((n-1)%maxBeat) + 1
}

// AdjustPlaybackPosition shifts the reported beat position by ms
// milliseconds (positive moves forward, negative rewinds), preserving beat
// monotonicity: a rewind that would otherwise drive
// the beat below 1 instead adds one bar's worth of beats back.
func (p *Participant) AdjustPlaybackPosition(ms int64) {
	snap := p.metronome.Snapshot()
	msPerBeat := 60000.0 / snap.Tempo
	msIntoBeat := msPerBeat - float64(snap.MsToNextBeat)
	if msIntoBeat < 0 {
		msIntoBeat = 0
	}
	target := msIntoBeat + float64(ms)
	beatShift := int64(target / msPerBeat)
	if float64(beatShift)*msPerBeat > target {
		beatShift--
	}
	remainder := target - float64(beatShift)*msPerBeat

	newBeat := int64(snap.Beat) + beatShift
	if newBeat < 1 {
		newBeat += 4
	}
	if newBeat < 1 {
		newBeat = 1
	}

	phase := ((int(snap.BeatWithinBar)-1+int(beatShift))%4+4)%4 + 1

	p.metronome.AdjustStart(time.Now().Add(-time.Duration(remainder*float64(time.Millisecond))), uint64(newBeat), phase)
	p.notifyTimelineChanged()
}
