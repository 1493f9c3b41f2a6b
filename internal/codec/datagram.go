package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/dkeye/confrelay/internal/core"
	"github.com/pion/rtp"
)

const (
	// HeaderSize is the fixed datagram header; the payload starts right after it.
	HeaderSize = 12
	// MaxDatagramSize is the practical UDP payload limit over IPv4.
	MaxDatagramSize = 65507

	rtpVersion = 2
	maxCSRC    = 0x0f
)

// Header is the datagram header: the RTP fixed header fields plus the raw
// CSRC count bits.
type Header = core.MediaHeader

// NewHeader builds a version 2 header.
func NewHeader(pt uint8, seq uint16, ts, ssrc uint32) Header {
	return Header{Header: rtp.Header{
		Version:        rtpVersion,
		PayloadType:    pt,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
	}}
}

// EncodeDatagram returns the 12-byte header followed by payload. A zero
// version is written as 2.
func EncodeDatagram(h Header, payload []byte) ([]byte, error) {
	if h.CSRCCount > maxCSRC {
		return nil, fmt.Errorf("csrc count %d exceeds %d", h.CSRCCount, maxCSRC)
	}
	if h.PayloadType > 0x7f {
		return nil, fmt.Errorf("payload type %d exceeds 127", h.PayloadType)
	}
	version := h.Version
	if version == 0 {
		version = rtpVersion
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = version<<6 | bit(h.Padding)<<5 | bit(h.Extension)<<4 | h.CSRCCount
	buf[1] = bit(h.Marker)<<7 | h.PayloadType
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// DecodeDatagram splits buf into its header and payload. Only a buffer
// shorter than the header is malformed. The returned payload aliases buf.
func DecodeDatagram(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: datagram of %d bytes", core.ErrMalformedPacket, len(buf))
	}
	h := Header{
		Header: rtp.Header{
			Version:        buf[0] >> 6,
			Padding:        buf[0]&0x20 != 0,
			Extension:      buf[0]&0x10 != 0,
			Marker:         buf[1]&0x80 != 0,
			PayloadType:    buf[1] & 0x7f,
			SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
			Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
			SSRC:           binary.BigEndian.Uint32(buf[8:12]),
		},
		CSRCCount: buf[0] & maxCSRC,
	}
	return h, buf[HeaderSize:], nil
}

// DatagramFrame builds the media frame carried by a decoded datagram.
func DatagramFrame(h Header, payload []byte) core.Frame {
	hdr := h
	return core.Frame{
		Type:    core.DataTypeForPayloadType(h.PayloadType),
		Payload: payload,
		Header:  &hdr,
	}
}

func bit(b bool) byte {
	if b {
		return 1
	}
	return 0
}
