package link

import (
	"bytes"
	"net"
	"time"
)

// DeviceID is a Pro DJ Link device number, 1-127 (1-4 are "standard" player
// slots that can send status and be loaded from USB/SD).
type DeviceID byte

// Message is anything the codec can decode off the wire: a device update
// (from the periodic broadcast/unicast status streams) or a command (an
// explicit collaborator-triggered action targeting or originating from a
// peer).
type Message interface {
	Kind() Kind
}

// DeviceAnnouncement is the presence record carried by a 0x06 packet.
type DeviceAnnouncement struct {
	Number   DeviceID
	Name     string
	MAC      net.HardwareAddr
	IP       net.IP
	LastSeen time.Time
}

func (*DeviceAnnouncement) Kind() Kind { return KindAnnouncement }

// decodeAnnouncement parses a validated 0x06 packet.
func decodeAnnouncement(buf []byte) *DeviceAnnouncement {
	return &DeviceAnnouncement{
		Number:   DeviceID(buf[offsetDeviceNumber]),
		Name:     trimName(buf[offsetDeviceName : offsetDeviceName+deviceNameLen]),
		MAC:      append(net.HardwareAddr(nil), buf[offsetMAC:offsetMAC+macLen]...),
		IP:       append(net.IP(nil), buf[offsetIPv4:offsetIPv4+4]...),
		LastSeen: time.Now(),
	}
}

func trimName(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// CDJ status field offsets, relative to magic start. Some documented
// duplicates of the device number and play state (0x02/0x05/0x09, 0x08)
// fall inside the fixed 10-byte magic prefix; this codec treats the
// device-number and play-state already carried at offsetDeviceNumber and
// the status bitmask as authoritative and does not duplicate them there.
const (
	cdjOffsetPlaying1    = 0x5C
	cdjOffsetSyncNumber  = 0x65
	cdjOffsetStatusFlags = 0x6A
	cdjOffsetPlaying2    = 0x6C
	cdjOffsetTempo       = 0x73
	cdjOffsetPlaying3    = 0x7E
	cdjOffsetMasterFlag  = 0x7F
	cdjOffsetYieldTo     = 0x80
	cdjOffsetBeat        = 0x81
	cdjOffsetBeatInBar   = 0x87
	cdjOffsetCounter     = 0xA9
)

// Status bitmask bits at cdjOffsetStatusFlags.
const (
	statusBitBase    = 0x84
	statusBitPlaying = 0x40
	statusBitMaster  = 0x20
	statusBitSynced  = 0x10
	statusBitOnAir   = 0x08
)

// CdjStatus is a decoded CDJ status update (0x0A packets).
type CdjStatus struct {
	SourceAddr     net.Addr
	DeviceNumber   DeviceID
	Timestamp      time.Time
	Name           string
	Tempo          float64 // BPM
	EffectiveTempo float64 // BPM; the pitch field is not decoded, so this equals Tempo
	BeatWithinBar  byte    // 1-4
	Beat           uint32
	IsPlaying      bool
	IsMaster       bool
	IsSynced       bool
	IsOnAir        bool
	YieldTo        DeviceID // 0 = no pending yield
	SyncNumber     uint32
	Counter        uint32
}

func (*CdjStatus) Kind() Kind { return KindCdjStatus }

// decodeCdjStatus parses a validated 0x0A packet. addr is the UDP source
// address the packet arrived from.
func decodeCdjStatus(buf []byte, addr net.Addr) *CdjStatus {
	flags := buf[cdjOffsetStatusFlags]
	tempo := float64(getUint16BE(buf, cdjOffsetTempo)) / 100.0

	return &CdjStatus{
		SourceAddr:     addr,
		DeviceNumber:   DeviceID(buf[offsetDeviceNumber]),
		Timestamp:      time.Now(),
		Name:           trimName(buf[offsetDeviceName : offsetDeviceName+deviceNameLen]),
		Tempo:          tempo,
		EffectiveTempo: tempo,
		BeatWithinBar:  buf[cdjOffsetBeatInBar],
		Beat:           getUint32BE(buf, cdjOffsetBeat),
		IsPlaying:      flags&statusBitPlaying != 0,
		IsMaster:       buf[cdjOffsetMasterFlag] != 0,
		IsSynced:       flags&statusBitSynced != 0,
		IsOnAir:        flags&statusBitOnAir != 0,
		YieldTo:        DeviceID(buf[cdjOffsetYieldTo]),
		SyncNumber:     getUint32BE(buf, cdjOffsetSyncNumber),
		Counter:        getUint32BE(buf, cdjOffsetCounter),
	}
}

// cdjStatusWireLen is the full length of the status packets we synthesize;
// real hardware sends 212 bytes even though decoders only require 208.
const cdjStatusWireLen = 212

// encodeCdjStatus renders a status broadcast for the given synthesized
// state.
func encodeCdjStatus(deviceName string, deviceNumber DeviceID, s Snapshot, playing, master, synced, onAir bool, yieldTo DeviceID, counter uint32) []byte {
	payload := make([]byte, cdjStatusWireLen-offsetDeviceName-deviceNameLen)

	// payload is appended after the 20-byte name block, so every offset
	// below must be expressed relative to payload start (wire offset - 0x20).
	const base = offsetDeviceName + deviceNameLen // 0x20

	flags := byte(statusBitBase)
	playingByte := byte(0)
	if playing {
		flags |= statusBitPlaying
		playingByte = 1
	}
	if master {
		flags |= statusBitMaster
	}
	if synced {
		flags |= statusBitSynced
	}
	if onAir {
		flags |= statusBitOnAir
	}
	payload[cdjOffsetPlaying1-base] = playingByte
	payload[cdjOffsetStatusFlags-base] = flags
	payload[cdjOffsetPlaying2-base] = playingByte
	payload[cdjOffsetPlaying3-base] = playingByte

	putUint32BE(payload, cdjOffsetSyncNumber-base, 0)
	putUint16BE(payload, cdjOffsetTempo-base, uint16(s.Tempo*100))

	masterByte := byte(0)
	if master {
		masterByte = 1
	}
	payload[cdjOffsetMasterFlag-base] = masterByte
	// yield_to doubles as the pending next-master byte while a handoff is
	// in flight; the election's StatusFields supplies it.
	payload[cdjOffsetYieldTo-base] = byte(yieldTo)

	putUint32BE(payload, cdjOffsetBeat-base, uint32(s.Beat))
	payload[cdjOffsetBeatInBar-base] = byte(s.BeatWithinBar)
	putUint32BE(payload, cdjOffsetCounter-base, counter)

	pkt := encodeNamed(KindCdjStatus, deviceName, payload)
	// device number lives at the shared identity offset; play state is
	// already carried in the status bitmask above.
	pkt[offsetDeviceNumber] = byte(deviceNumber)
	return pkt
}

// MixerStatus is a decoded 0x29 packet. The wire format carries no fields
// beyond the shared named-packet header; collaborators that need more
// detail should treat Raw as opaque.
type MixerStatus struct {
	SourceAddr   net.Addr
	DeviceNumber DeviceID
	Timestamp    time.Time
	Name         string
	Raw          []byte
}

func (*MixerStatus) Kind() Kind { return KindMixerStatus }

func decodeMixerStatus(buf []byte, addr net.Addr) *MixerStatus {
	return &MixerStatus{
		SourceAddr:   addr,
		DeviceNumber: DeviceID(buf[offsetDeviceNumber]),
		Timestamp:    time.Now(),
		Name:         trimName(buf[offsetDeviceName : offsetDeviceName+deviceNameLen]),
		Raw:          append([]byte(nil), buf...),
	}
}

// Beat offsets, relative to the short-form payload (the first byte after
// shortHeaderLen), as used by encodeBeat and decodeBeat.
const (
	beatOffsetDevice1   = 0x02
	beatOffsetNextBeat  = 0x05
	beatOffsetNextBar   = 0x0D
	beatOffsetTempo     = 0x3B
	beatOffsetBeatInBar = 0x3D
	beatOffsetDevice2   = 0x40
)

// BeatPacket is a decoded 0x28 packet.
type BeatPacket struct {
	SourceAddr    net.Addr
	DeviceNumber  DeviceID
	Timestamp     time.Time
	NextBeatMs    uint32
	NextBarMs     uint32
	Tempo         float64
	BeatWithinBar byte
}

func (*BeatPacket) Kind() Kind { return KindBeat }

func decodeBeat(buf []byte, addr net.Addr) *BeatPacket {
	p := shortPayload(buf)
	return &BeatPacket{
		SourceAddr:    addr,
		DeviceNumber:  DeviceID(p[beatOffsetDevice1]),
		Timestamp:     time.Now(),
		NextBeatMs:    getUint32BE(p, beatOffsetNextBeat),
		NextBarMs:     getUint32BE(p, beatOffsetNextBar),
		Tempo:         float64(getUint16BE(p, beatOffsetTempo)) / 100.0,
		BeatWithinBar: p[beatOffsetBeatInBar],
	}
}

func encodeBeat(deviceNumber DeviceID, s Snapshot) []byte {
	payload := make([]byte, minLen[KindBeat])

	payload[beatOffsetDevice1] = byte(deviceNumber)
	putUint32BE(payload, beatOffsetNextBeat, uint32(s.MsToNextBeat))
	putUint32BE(payload, beatOffsetNextBar, uint32(s.MsToNextBar))
	putUint16BE(payload, beatOffsetTempo, uint16(s.Tempo*100))
	payload[beatOffsetBeatInBar] = byte(s.BeatWithinBar)
	payload[beatOffsetDevice2] = byte(deviceNumber)

	return encodeShort(KindBeat, payload)
}

// MediaDetails is populated by an out-of-band collaborator (e.g. a remote
// database client) and published through the fan-out; the core codec does
// not decode it off the wire, since rekordbox metadata retrieval is a
// collaborator's job.
type MediaDetails struct {
	SourceAddr   net.Addr
	DeviceNumber DeviceID
	Timestamp    time.Time
	Slot         byte
	RekordboxID  uint32
	Title        string
	Artist       string
}

func (*MediaDetails) Kind() Kind { return 0xFF }
