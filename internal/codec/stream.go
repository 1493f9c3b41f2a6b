// Package codec implements the relay's wire framings: length-prefixed stream
// frames, tagged application payloads, control commands and RTP datagrams.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/confrelay/internal/core"
)

const (
	lengthPrefixSize = 4
	// oversize frames up to this multiple of maxLen are skipped, larger ones end the stream
	discardFactor = 4
)

// EncodeStream returns u32be(len(payload)) ++ payload.
func EncodeStream(payload []byte) []byte {
	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)
	return buf
}

// WriteFrame writes one length-prefixed frame in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(EncodeStream(payload))
	return err
}

// ReadFrame blocks until one whole frame is read. A peer close at any point is
// core.ErrConnectionClosed. A declared length above maxLen is
// core.ErrMalformedPacket; its bytes are consumed so the next call stays aligned.
// A length beyond discardFactor times maxLen is not drained: the stream is
// treated as broken and core.ErrConnectionClosed is returned.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, readErr(err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if maxLen > 0 && uint64(n) > uint64(maxLen) {
		if uint64(n) > uint64(maxLen)*discardFactor {
			return nil, fmt.Errorf("%w: frame length %d far exceeds %d", core.ErrConnectionClosed, n, maxLen)
		}
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return nil, readErr(err)
		}
		return nil, fmt.Errorf("%w: frame length %d exceeds %d", core.ErrMalformedPacket, n, maxLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readErr(err)
	}
	return payload, nil
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return core.ErrConnectionClosed
	}
	return err
}
