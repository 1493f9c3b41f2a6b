package core

import (
	"github.com/dkeye/confrelay/internal/domain"
	"github.com/pion/rtp"
)

// DataType is the leading tag byte of every application payload.
type DataType byte

const (
	DataControl DataType = 0
	DataVideo   DataType = 1
	DataAudio   DataType = 2
)

func (t DataType) Valid() bool { return t <= DataAudio }

func (t DataType) IsMedia() bool { return t == DataVideo || t == DataAudio }

func (t DataType) String() string {
	switch t {
	case DataControl:
		return "control"
	case DataVideo:
		return "video"
	case DataAudio:
		return "audio"
	}
	return "unknown"
}

// MediaHeader is the fixed 12-byte datagram header. CSRCCount, Padding and
// Extension are carried as header bits only; no CSRC list, extension or
// padding bytes follow the header on the wire.
type MediaHeader struct {
	rtp.Header
	CSRCCount uint8
}

// Frame is one application frame. Header is set for media frames once they are
// stamped by the reader or decoded from a datagram.
type Frame struct {
	Type    DataType
	Payload []byte
	Source  domain.ParticipantID
	Header  *MediaHeader
}

func (f Frame) Sequence() uint16 {
	if f.Header == nil {
		return 0
	}
	return f.Header.SequenceNumber
}
