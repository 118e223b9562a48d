// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package frame splits a channel's byte stream into length-prefixed frames.
//
// Each frame starts with a CBOR byte string header, followed by its payload. A zero length frame carries no payload
// and might be sent as a keepalive.
package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dtn7/cboring"

	"github.com/dtn7/sockpipe/pkg/buffer"
)

var (
	// ErrFrameTooLarge is returned for a frame which cannot fit into a buffer.
	ErrFrameTooLarge = errors.New("frame exceeds the buffer's capacity")

	// ErrMalformedHeader is returned for a header which is not a CBOR byte string length.
	ErrMalformedHeader = errors.New("malformed frame header")
)

const majorByteString = 0x40

// headerLen derives a frame header's length from its first byte.
func headerLen(initial byte) (int, error) {
	if initial&0xe0 != majorByteString {
		return 0, fmt.Errorf("%w: initial byte 0x%02x", ErrMalformedHeader, initial)
	}

	switch info := initial & 0x1f; {
	case info < 24:
		return 1, nil
	case info == 24:
		return 2, nil
	case info == 25:
		return 3, nil
	case info == 26:
		return 5, nil
	case info == 27:
		return 9, nil
	default:
		return 0, fmt.Errorf("%w: unsupported additional information %d", ErrMalformedHeader, info)
	}
}

// Overhead is the header length for a payload of the given length.
func Overhead(payloadLen int) int {
	switch n := uint64(payloadLen); {
	case n < 24:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// Encode a payload as a frame into the buffer. Either the whole frame is written or nothing at all.
func Encode(out *buffer.Buffer, payload []byte) error {
	total := Overhead(len(payload)) + len(payload)
	if total > out.Cap() {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrFrameTooLarge, total, out.Cap())
	}

	frame := bytes.NewBuffer(make([]byte, 0, total))
	if err := cboring.WriteByteStringLen(uint64(len(payload)), frame); err != nil {
		return err
	}
	frame.Write(payload)

	_, err := out.Write(frame.Bytes())
	return err
}
