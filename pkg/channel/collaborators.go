// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import "github.com/dtn7/sockpipe/pkg/pipeline"

// Socket is a nonblocking, connected stream socket exclusively owned by one Handler.
//
// Read returns (0, nil) if no data is available right now and io.EOF after the peer closed the connection. Bytes
// returned together with io.EOF are valid. Reading into an empty slice returns (0, nil).
//
// Write returns (0, nil) if the socket's send buffer is full.
type Socket interface {
	// Handle is the raw OS handle, used as the Reactor's registration key.
	Handle() int

	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// Reactor owns the readiness notification of sockets. All methods are keyed by the Socket's handle and must be both
// idempotent and nonblocking.
type Reactor interface {
	RegisterChannel(handle int, h *Handler) error
	UnregisterChannel(handle int) error
	ActivateChannel(handle int) error
	DeactivateChannel(handle int) error
}

// EventSink receives a channel's events, e.g., a *pipeline.Pipeline. It is assembled before the Handler and bound to
// it exactly once.
type EventSink interface {
	Bind(src pipeline.Source) error
	Fire(et pipeline.EventType) error
}
