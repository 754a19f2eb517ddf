// Package wire implements the framed binary channel between learners and
// the aggregator: an 8-byte big-endian length prefix followed by a
// msgpack-encoded payload, symmetric in both directions.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frames above this size indicate a corrupt length prefix rather than a
// legitimate payload.
const maxFrameSize = 1 << 30

var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame, looping until the declared
// byte count is satisfied. A zero-byte read on the prefix surfaces as
// io.EOF and is treated by callers as peer disconnect.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint64(hdr[:])
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMsg marshals v with msgpack and writes it as one frame.
func WriteMsg(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadMsg reads one frame and unmarshals it into v. Decode failures are
// handled by callers identically to a disconnect.
func ReadMsg(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}
