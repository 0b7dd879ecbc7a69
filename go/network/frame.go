package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Messages are framed with a two-byte big-endian length prefix, the common
// convention of ISO 8583 TCP links. The prefix counts payload bytes only.
const maxFrameSize = 1<<16 - 1

// writeFrame writes a length-prefixed payload to |w|.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the %d-byte limit", len(payload), maxFrameSize)
	}
	var buf = make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(payload)))
	copy(buf[2:], payload)

	var _, err = w.Write(buf)
	return err
}

// readFrame reads the next length-prefixed payload from |r|.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	var payload = make([]byte, binary.BigEndian.Uint16(prefix[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
