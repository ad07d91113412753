package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"ReplicaMesh/internal/wire"
)

const (
	// maxMessageSize is the maximum allowed frame size (4 MB).
	maxMessageSize = 4 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

// writeMessage writes a length-prefixed frame.
// Format: [4 bytes big-endian length] [payload]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readMessage reads a length-prefixed frame.
func readMessage(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}

// writeEvent encodes msg and writes it as one frame.
func writeEvent(w io.Writer, msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	return writeMessage(w, data)
}

// readEvent reads one frame and decodes it.
func readEvent(r io.Reader) (wire.Message, error) {
	data, err := readMessage(r)
	if err != nil {
		return nil, err
	}

	return wire.Decode(data)
}

// readHello reads the first frame of a connection, which must be a hello
// carrying a node id.
func readHello(r io.Reader) (wire.Hello, error) {
	msg, err := readEvent(r)
	if err != nil {
		return wire.Hello{}, err
	}

	hello, ok := msg.(wire.Hello)
	if !ok {
		return wire.Hello{}, fmt.Errorf("expected hello, got kind 0x%02x", byte(msg.Kind()))
	}

	if hello.NodeID == "" {
		return wire.Hello{}, fmt.Errorf("hello without node id")
	}

	return hello, nil
}
