// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"errors"
	"fmt"
	"io"

	"github.com/dtn7/sockpipe/pkg/peer"
)

var (
	// ErrEndOfStream reports that the peer closed the connection. It wraps io.EOF.
	ErrEndOfStream = fmt.Errorf("end of stream: %w", io.EOF)

	// ErrInsufficientBufferSpace reports a full inbound buffer which was not drained by the pipeline. This indicates a
	// pipeline misconfiguration, not a network failure.
	ErrInsufficientBufferSpace = errors.New("insufficient space in buffer")

	// ErrClosed is returned for operations on an already closed Handler.
	ErrClosed = errors.New("channel is closed")
)

// Direction of a failed operation.
type Direction uint

const (
	_ Direction = iota

	// Inbound covers reading from the socket and delivering data to the pipeline.
	Inbound

	// Outbound covers flushing to the socket.
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown direction"
	}
}

// Error is returned for each fatal channel condition. The channel was already closed when an Error is returned.
type Error struct {
	Channel   peer.Identity
	Direction Direction
	Err       error
}

func newError(channel peer.Identity, direction Direction, err error) *Error {
	return &Error{
		Channel:   channel,
		Direction: direction,
		Err:       err,
	}
}

func (err *Error) Error() string {
	return fmt.Sprintf("channel %v, %v: %v", err.Channel, err.Direction, err.Err)
}

func (err *Error) Unwrap() error {
	return err.Err
}

// IsEndOfStream checks if err reports a regular close by the peer.
func IsEndOfStream(err error) bool {
	return errors.Is(err, ErrEndOfStream)
}
