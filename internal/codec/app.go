package codec

import (
	"fmt"

	"github.com/dkeye/confrelay/internal/core"
)

// EncodeApp prefixes body with the data-type tag.
func EncodeApp(t core.DataType, body []byte) []byte {
	buf := make([]byte, 1+len(body))
	buf[0] = byte(t)
	copy(buf[1:], body)
	return buf
}

// DecodeApp splits an application payload into its tag and body.
func DecodeApp(payload []byte) (core.DataType, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("%w: empty payload", core.ErrMalformedPacket)
	}
	t := core.DataType(payload[0])
	if !t.Valid() {
		return 0, nil, fmt.Errorf("%w: unknown tag %d", core.ErrMalformedPacket, payload[0])
	}
	return t, payload[1:], nil
}

// DecodeFrame turns an application payload into a Frame.
func DecodeFrame(payload []byte) (core.Frame, error) {
	t, body, err := DecodeApp(payload)
	if err != nil {
		return core.Frame{}, err
	}
	return core.Frame{Type: t, Payload: body}, nil
}

// EncodeFrame is the application payload of f, ready for stream or message framing.
func EncodeFrame(f core.Frame) []byte {
	return EncodeApp(f.Type, f.Payload)
}
