package link

import "errors"

// Error kinds returned by the participant and its command surface, per the
// error handling design: command calls return these to the caller and never
// crash the participant.
var (
	// ErrNoPeers is returned by Start when no real device appeared on the
	// wire within the startup grace period.
	ErrNoPeers = errors.New("link: no peers seen on the network")

	// ErrNoAvailableNumber is returned by Start when self-assignment could
	// not find a free device number.
	ErrNoAvailableNumber = errors.New("link: no available device number")

	// ErrBusySendingStatus is returned by SetDeviceNumber while status
	// sending is active.
	ErrBusySendingStatus = errors.New("link: device number cannot change while sending status")

	// ErrNotRunning is returned by any command issued while the participant
	// is not in the Running state.
	ErrNotRunning = errors.New("link: participant is not running")

	// ErrNotSendingStatus is returned by BecomeTempoMaster when status
	// sending is not active.
	ErrNotSendingStatus = errors.New("link: participant is not sending status")

	// ErrInvalidDeviceNumberForStatus is returned when SetSendingStatus(true)
	// is called with a device number outside 1..4.
	ErrInvalidDeviceNumberForStatus = errors.New("link: device number must be 1-4 to send status")

	// ErrUnknownPeer is returned by commands addressed to a device the
	// registry has no announcement for.
	ErrUnknownPeer = errors.New("link: unknown peer device")

	// ErrMalformedPacket is returned by the codec when a buffer is shorter
	// than a kind's minimum length.
	ErrMalformedPacket = errors.New("link: malformed packet")

	// ErrUnknownKind is returned by the codec when the magic prefix doesn't
	// match, or the type byte isn't recognized.
	ErrUnknownKind = errors.New("link: unknown packet kind")

	// ErrSocketFailure wraps unexpected I/O errors from the wire sockets.
	ErrSocketFailure = errors.New("link: socket failure")

	// ErrInterrupted is returned by Start when its context is cancelled
	// while it waits for peers.
	ErrInterrupted = errors.New("link: interrupted")
)
