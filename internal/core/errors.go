package core

import "errors"

var (
	// ErrConnectionClosed reports a peer close, mid-frame or between frames. Normal teardown.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMalformedPacket reports a frame or datagram that cannot be decoded. The read loop drops it and continues.
	ErrMalformedPacket = errors.New("malformed packet")

	ErrNotFound            = errors.New("conference not found")
	ErrAlreadyInConference = errors.New("already in conference")
	ErrNotInConference     = errors.New("not in conference")
	ErrForbidden           = errors.New("forbidden")
	ErrBadCommand          = errors.New("bad command")
	ErrSSRCInUse           = errors.New("ssrc bound to another participant")

	// ErrPartialSendFailure wraps a fan-out failure toward a single recipient.
	ErrPartialSendFailure = errors.New("partial send failure")
	ErrBackpressure       = errors.New("backpressure")
	ErrTransportClosed    = errors.New("transport closed")
)
