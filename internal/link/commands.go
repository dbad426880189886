package link

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// commandRate and commandBurst bound how often outbound commands may be
// issued. There is one limiter per command kind ("media-query",
// "load-track", ...), shared by every caller, since there is no HTTP
// request to extract an identity from.
const (
	commandRate  = rate.Limit(50)
	commandBurst = 100
)

// CommandSurface is the collaborator-facing command surface: the
// outward-facing set of operations a host application calls to make the
// participant act on the network. Every method except YieldMasterTo (which
// the ingest path calls) fails fast with ErrNotRunning when the participant
// isn't Running, and with ErrUnknownPeer when addressed at a peer the
// registry doesn't know about.
type CommandSurface struct {
	logger   *slog.Logger
	registry *Registry
	election *Election

	isRunning    func() bool
	ourTemplate  func() []byte // our patched announcement bytes, for the IP octets at 0x2C..0x30
	deviceNumber func() DeviceID
	ourTempo     func() float64
	record       func(kind string)

	sendBeatFinder func(addr string, pkt []byte)
	broadcastPort  func(port int, pkt []byte)
	sendMediaPort  func(addr string, pkt []byte)

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewCommandSurface wires a command surface against the transport
// callbacks the participant owns.
func NewCommandSurface(
	logger *slog.Logger,
	registry *Registry,
	election *Election,
	isRunning func() bool,
	ourTemplate func() []byte,
	deviceNumber func() DeviceID,
	ourTempo func() float64,
	record func(kind string),
	sendBeatFinder func(addr string, pkt []byte),
	broadcastPort func(port int, pkt []byte),
	sendMediaPort func(addr string, pkt []byte),
) *CommandSurface {
	return &CommandSurface{
		logger:         logger.With("subsystem", "commands"),
		registry:       registry,
		election:       election,
		isRunning:      isRunning,
		ourTemplate:    ourTemplate,
		deviceNumber:   deviceNumber,
		ourTempo:       ourTempo,
		record:         record,
		sendBeatFinder: sendBeatFinder,
		broadcastPort:  broadcastPort,
		sendMediaPort:  sendMediaPort,
		limiters:       make(map[string]*rate.Limiter),
	}
}

func (c *CommandSurface) limiterFor(caller string) *rate.Limiter {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	l, ok := c.limiters[caller]
	if !ok {
		l = rate.NewLimiter(commandRate, commandBurst)
		c.limiters[caller] = l
	}
	return l
}

func (c *CommandSurface) guard(caller string) error {
	if !c.isRunning() {
		return ErrNotRunning
	}
	if !c.limiterFor(caller).Allow() {
		return fmt.Errorf("link: command rate limit exceeded for %s", caller)
	}
	return nil
}

func (c *CommandSurface) peerOrErr(number DeviceID) (*DeviceAnnouncement, error) {
	peer := c.registry.LatestFrom(number)
	if peer == nil {
		return nil, ErrUnknownPeer
	}
	return peer, nil
}

// SendMediaQuery unicasts to player target a query for the media in slot.
// IP bytes come from our own patched announcement template.
func (c *CommandSurface) SendMediaQuery(target DeviceID, slot byte) error {
	if err := c.guard("media-query"); err != nil {
		return err
	}
	peer, err := c.peerOrErr(target)
	if err != nil {
		return err
	}

	payload := make([]byte, minLen[KindMediaQuery])
	payload[0x02] = byte(c.deviceNumber())
	tmpl := c.ourTemplate()
	if len(tmpl) >= offsetIPv4+4 {
		copy(payload[0x05:0x09], tmpl[offsetIPv4:offsetIPv4+4])
	}
	payload[0x0C] = byte(target)
	payload[0x10] = slot

	pkt := encodeShort(KindMediaQuery, payload)
	c.sendMediaPort(peer.IP.String(), pkt)
	c.record("media-query")
	c.logger.Debug("media query sent", "target", target, "slot", slot, "correlation_id", uuid.New())
	return nil
}

// SendSyncMode unicasts a sync-control command to device, turning its sync
// follower on or off.
func (c *CommandSurface) SendSyncMode(device DeviceID, on bool) error {
	if err := c.guard("sync-mode"); err != nil {
		return err
	}
	peer, err := c.peerOrErr(device)
	if err != nil {
		return err
	}

	cmdByte := byte(0x20)
	if on {
		cmdByte = 0x10
	}
	payload := make([]byte, minLen[KindSyncControl])
	payload[0x0C] = cmdByte

	pkt := encodeShort(KindSyncControl, payload)
	c.sendBeatFinder(peer.IP.String(), pkt)
	c.record("sync-mode")
	return nil
}

// AppointTempoMaster unicasts a become-master instruction to device.
func (c *CommandSurface) AppointTempoMaster(device DeviceID) error {
	if err := c.guard("appoint-master"); err != nil {
		return err
	}
	peer, err := c.peerOrErr(device)
	if err != nil {
		return err
	}

	payload := make([]byte, minLen[KindSyncControl])
	payload[0x0C] = 0x01

	pkt := encodeShort(KindSyncControl, payload)
	c.sendBeatFinder(peer.IP.String(), pkt)
	c.record("appoint-master")
	return nil
}

// SendFaderStart broadcasts fader start/stop instructions for players 1..4.
// Per-device byte defaults to 2 (no-op); 0 = start, 1 = stop. When a device
// appears in both sets, stop wins.
func (c *CommandSurface) SendFaderStart(start, stop map[DeviceID]bool) error {
	if err := c.guard("fader-start"); err != nil {
		return err
	}

	payload := make([]byte, minLen[KindFaderStart])
	for i := range payload[0x05:0x09] {
		payload[0x05+i] = 2
	}
	for d := range start {
		if d >= 1 && d <= 4 {
			payload[0x05+int(d-1)] = 0
		}
	}
	for d := range stop {
		if d >= 1 && d <= 4 {
			payload[0x05+int(d-1)] = 1
		}
	}

	pkt := encodeShort(KindFaderStart, payload)
	c.broadcastPort(50001, pkt)
	c.record("fader-start")
	return nil
}

// SendOnAir broadcasts the on-air state for players 1..4.
func (c *CommandSurface) SendOnAir(onAir map[DeviceID]bool) error {
	if err := c.guard("on-air"); err != nil {
		return err
	}

	payload := make([]byte, minLen[KindChannelsOnAir])
	for d, v := range onAir {
		if d >= 1 && d <= 4 && v {
			payload[0x05+int(d-1)] = 1
		}
	}

	pkt := encodeShort(KindChannelsOnAir, payload)
	c.broadcastPort(50001, pkt)
	c.record("on-air")
	return nil
}

// LoadTrackSource describes where a loaded track comes from.
type LoadTrackSource struct {
	Player DeviceID
	Slot   byte
	Type   byte
}

// SendLoadTrack unicasts a load-track command to target, asking it to load
// rekordboxID from the given source.
func (c *CommandSurface) SendLoadTrack(target DeviceID, rekordboxID uint32, source LoadTrackSource) error {
	if err := c.guard("load-track"); err != nil {
		return err
	}
	peer, err := c.peerOrErr(target)
	if err != nil {
		return err
	}

	payload := make([]byte, minLen[KindLoadTrack])
	payload[0x02] = byte(target)
	payload[0x05] = byte(c.deviceNumber())
	payload[0x09] = byte(source.Player)
	payload[0x0A] = source.Slot
	payload[0x0B] = source.Type
	putUint32BE(payload, 0x0D, rekordboxID)

	pkt := encodeShort(KindLoadTrack, payload)
	c.sendMediaPort(peer.IP.String(), pkt)
	c.record("load-track")
	return nil
}

// BecomeTempoMaster requests the tempo master role.
func (c *CommandSurface) BecomeTempoMaster(sendingStatus bool) error {
	if err := c.guard("become-master"); err != nil {
		return err
	}
	err := c.election.BecomeTempoMaster(sendingStatus, c.ourTempo(), func(target DeviceID) error {
		peer, err := c.peerOrErr(target)
		if err != nil {
			return err
		}
		payload := make([]byte, minLen[KindMasterHandoffRequest])
		payload[0x02] = byte(c.deviceNumber())
		payload[0x08] = byte(target)
		pkt := encodeShort(KindMasterHandoffRequest, payload)
		c.sendBeatFinder(peer.IP.String(), pkt)
		return nil
	})
	if err == nil {
		c.record("become-master")
	}
	return err
}

// YieldMasterTo sends a MasterHandoffAck acknowledging a yield request,
// used from the ingest path when we are master and a peer asks us to
// step down.
func (c *CommandSurface) YieldMasterTo(d DeviceID, peerAddr net.Addr) {
	payload := make([]byte, minLen[KindMasterHandoffAck])
	payload[0x02] = byte(c.deviceNumber())
	payload[0x08] = byte(d)
	payload[0x0C] = byte(d)

	// peerAddr carries the source port the request arrived from; the ack
	// goes back to the peer's BeatFinder port, so only the host survives.
	host := peerAddr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	pkt := encodeShort(KindMasterHandoffAck, payload)
	c.sendBeatFinder(host, pkt)
	c.record("yield-master")
}
