package link

import "net"

// This file decodes the short-form command packets a participant may
// receive as well as send (fader start, on-air, sync control, media query,
// load track, master handoff), mirroring the outbound builders in
// commands.go and the device-update decoders in device.go. Each type
// implements Message so it can flow through the same listener fan-out as
// device updates.

// FaderStartReceived is a decoded 0x02 Fader Start command: per-player
// (1..4) byte, 0 = start, 1 = stop, 2 = no-op.
type FaderStartReceived struct {
	SourceAddr net.Addr
	Players    [4]byte
}

func (*FaderStartReceived) Kind() Kind { return KindFaderStart }

func decodeFaderStart(buf []byte, addr net.Addr) *FaderStartReceived {
	p := shortPayload(buf)
	f := &FaderStartReceived{SourceAddr: addr}
	copy(f.Players[:], p[0x05:0x09])
	return f
}

// OnAirReceived is a decoded 0x03 Channels On-Air command.
type OnAirReceived struct {
	SourceAddr net.Addr
	OnAir      [4]bool
}

func (*OnAirReceived) Kind() Kind { return KindChannelsOnAir }

func decodeOnAir(buf []byte, addr net.Addr) *OnAirReceived {
	p := shortPayload(buf)
	o := &OnAirReceived{SourceAddr: addr}
	for i := range o.OnAir {
		o.OnAir[i] = p[0x05+i] == 1
	}
	return o
}

// SyncCommand identifies the action carried by a 0x2A Sync Control packet.
type SyncCommand byte

const (
	SyncCommandOn            SyncCommand = 0x10
	SyncCommandOff           SyncCommand = 0x20
	SyncCommandAppointMaster SyncCommand = 0x01
)

// SyncControlReceived is a decoded 0x2A Sync Control command.
type SyncControlReceived struct {
	SourceAddr net.Addr
	Command    SyncCommand
}

func (*SyncControlReceived) Kind() Kind { return KindSyncControl }

func decodeSyncControl(buf []byte, addr net.Addr) *SyncControlReceived {
	p := shortPayload(buf)
	return &SyncControlReceived{SourceAddr: addr, Command: SyncCommand(p[0x0C])}
}

// MediaQueryReceived is a decoded 0x05 Media Query command, asking the
// target player which slot to report media for. Retrieving or serving the
// actual metadata is a collaborator's job; this is only the request
// envelope.
type MediaQueryReceived struct {
	SourceAddr   net.Addr
	DeviceNumber DeviceID
	RequesterIP  net.IP
	Target       DeviceID
	Slot         byte
}

func (*MediaQueryReceived) Kind() Kind { return KindMediaQuery }

func decodeMediaQuery(buf []byte, addr net.Addr) *MediaQueryReceived {
	p := shortPayload(buf)
	return &MediaQueryReceived{
		SourceAddr:   addr,
		DeviceNumber: DeviceID(p[0x02]),
		RequesterIP:  append(net.IP(nil), p[0x05:0x09]...),
		Target:       DeviceID(p[0x0C]),
		Slot:         p[0x10],
	}
}

// LoadTrackReceived is a decoded 0x19 Load Track command asking us to load
// a rekordbox track from a peer's media slot. Actually loading it is a
// host-application concern; this is only the request envelope.
type LoadTrackReceived struct {
	SourceAddr   net.Addr
	Target       DeviceID
	DeviceNumber DeviceID
	SourcePlayer DeviceID
	SourceSlot   byte
	SourceType   byte
	RekordboxID  uint32
}

func (*LoadTrackReceived) Kind() Kind { return KindLoadTrack }

func decodeLoadTrack(buf []byte, addr net.Addr) *LoadTrackReceived {
	p := shortPayload(buf)
	return &LoadTrackReceived{
		SourceAddr:   addr,
		Target:       DeviceID(p[0x02]),
		DeviceNumber: DeviceID(p[0x05]),
		SourcePlayer: DeviceID(p[0x09]),
		SourceSlot:   p[0x0A],
		SourceType:   p[0x0B],
		RekordboxID:  getUint32BE(p, 0x0D),
	}
}

// MasterHandoffReceived is a decoded MasterHandoffRequest (0x26) or
// MasterHandoffAck (0x27), published to observers in addition to the
// election state machine's own internal handling.
type MasterHandoffReceived struct {
	SourceAddr   net.Addr
	WireKind     Kind
	DeviceNumber DeviceID
	NextMaster   DeviceID // meaningful for MasterHandoffAck only
}

func (m *MasterHandoffReceived) Kind() Kind { return m.WireKind }

func decodeMasterHandoff(kind Kind, buf []byte, addr net.Addr) *MasterHandoffReceived {
	p := shortPayload(buf)
	m := &MasterHandoffReceived{SourceAddr: addr, WireKind: kind, DeviceNumber: DeviceID(p[0x02])}
	if kind == KindMasterHandoffAck {
		m.NextMaster = DeviceID(p[0x0C])
	}
	return m
}
