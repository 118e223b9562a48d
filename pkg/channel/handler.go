// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel implements the handler between a nonblocking socket and a channel's event pipeline.
//
// A Handler drains its socket into the inbound buffer, notifies the pipeline about new data and flushes the outbound
// buffer back to the socket. It never blocks: each operation stops as soon as the socket makes no progress, and the
// Reactor decides when to call back.
//
// Every fatal condition closes the channel before the error is returned. Closing always ends with an unregistration
// from the Reactor, even if closing the socket fails.
package channel

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockpipe/pkg/buffer"
	"github.com/dtn7/sockpipe/pkg/peer"
	"github.com/dtn7/sockpipe/pkg/pipeline"
)

// Handler for one channel, uniting a Socket, its two buffers and its lifecycle State.
//
// A Handler is not safe for concurrent use. Its Reactor serializes all calls.
type Handler struct {
	id       uuid.UUID
	identity peer.Identity

	socket   Socket
	inbound  *buffer.Buffer
	outbound *buffer.Buffer

	sink    EventSink
	reactor Reactor

	state  State
	closed bool

	// detached is set once the Reactor dropped this Handler's registration. The handle might be reused afterwards.
	detached bool
}

// NewHandler for a connected Socket. The EventSink must be fully assembled; it is bound to the new Handler.
func NewHandler(
	identity peer.Identity, socket Socket, inbound, outbound *buffer.Buffer,
	sink EventSink, reactor Reactor) (*Handler, error) {

	switch {
	case socket == nil:
		return nil, errors.New("channel requires a socket")
	case inbound == nil || outbound == nil:
		return nil, errors.New("channel requires both an inbound and an outbound buffer")
	case inbound == outbound:
		return nil, errors.New("channel's inbound and outbound buffer must differ")
	case inbound.Cap() == 0 || outbound.Cap() == 0:
		return nil, errors.New("channel's buffers must have a capacity")
	case sink == nil:
		return nil, errors.New("channel requires an event sink")
	case reactor == nil:
		return nil, errors.New("channel requires a reactor")
	}

	h := &Handler{
		id:       uuid.New(),
		identity: identity,
		socket:   socket,
		inbound:  inbound,
		outbound: outbound,
		sink:     sink,
		reactor:  reactor,
		state:    Unregistered,
	}

	if err := sink.Bind(h); err != nil {
		return nil, fmt.Errorf("binding event sink for %v failed: %w", identity, err)
	}

	return h, nil
}

func (h *Handler) String() string {
	return fmt.Sprintf("Channel(peer=%v, id=%v, state=%v)", h.identity, h.id, h.state)
}

func (h *Handler) log() *log.Entry {
	return log.WithFields(log.Fields{
		"peer":    h.identity,
		"channel": h.id,
	})
}

// ID is a random identifier, distinguishing multiple channels to the same peer.
func (h *Handler) ID() uuid.UUID {
	return h.id
}

// Identity of the remote peer.
func (h *Handler) Identity() peer.Identity {
	return h.identity
}

// Handle of the underlying Socket.
func (h *Handler) Handle() int {
	return h.socket.Handle()
}

// Inbound buffer, to be drained by the pipeline.
func (h *Handler) Inbound() *buffer.Buffer {
	return h.inbound
}

// Outbound buffer, to be filled by the pipeline.
func (h *Handler) Outbound() *buffer.Buffer {
	return h.outbound
}

// State of this Handler regarding its Reactor.
func (h *Handler) State() State {
	return h.state
}

// IsActive reports if this Handler receives writability notifications.
func (h *Handler) IsActive() bool {
	return h.state == Active
}

// IsClosed reports if this Handler was closed, either explicitly or by a failure.
func (h *Handler) IsClosed() bool {
	return h.closed
}

// Register this channel at its Reactor and fire a ChannelRegistered event.
func (h *Handler) Register() error {
	if h.closed {
		return ErrClosed
	}

	if err := h.reactor.RegisterChannel(h.socket.Handle(), h); err != nil {
		return fmt.Errorf("registering %v failed: %w", h.identity, err)
	}
	h.state = Registered
	h.detached = false

	h.log().Debug("Channel registered")
	return h.sink.Fire(pipeline.ChannelRegistered)
}

// Unregister this channel from its Reactor and fire a ChannelUnregistered event. Unregister might be called multiple
// times, e.g., explicitly and by a closing failure; each call results in another notification. Only the first call
// after a registration reaches the Reactor, as a closed handle's number might already belong to another channel.
// Errors are only logged.
func (h *Handler) Unregister() {
	if !h.detached {
		if err := h.reactor.UnregisterChannel(h.socket.Handle()); err != nil {
			h.log().WithError(err).Warn("Reactor failed to unregister channel")
		}
		h.detached = true
	}
	h.state = Unregistered

	h.log().Debug("Channel unregistered")
	if err := h.sink.Fire(pipeline.ChannelUnregistered); err != nil {
		h.log().WithError(err).Warn("Pipeline failed to handle the channel's unregistration")
	}
}

// Activate writability notifications for this channel and fire a ChannelActive event.
func (h *Handler) Activate() error {
	if h.closed {
		return ErrClosed
	}

	if err := h.reactor.ActivateChannel(h.socket.Handle()); err != nil {
		return fmt.Errorf("activating %v failed: %w", h.identity, err)
	}
	h.state = Active

	return h.sink.Fire(pipeline.ChannelActive)
}

// Deactivate writability notifications for this channel and fire a ChannelInactive event.
func (h *Handler) Deactivate() error {
	if h.closed {
		return ErrClosed
	}

	if err := h.reactor.DeactivateChannel(h.socket.Handle()); err != nil {
		return fmt.Errorf("deactivating %v failed: %w", h.identity, err)
	}
	h.state = Inactive

	return h.sink.Fire(pipeline.ChannelInactive)
}

// OnReadable drains the Socket into the inbound buffer, to be called when the Socket became readable.
//
// Each time the inbound buffer is filled up, a DataReceived event is fired before reading on. If the pipeline does not
// reclaim any space, the channel fails with ErrInsufficientBufferSpace. Bytes read after the last full buffer are
// announced by a single, trailing DataReceived event. If the peer closed the connection, the channel is closed and
// ErrEndOfStream is returned.
func (h *Handler) OnReadable() error {
	if h.closed {
		return newError(h.identity, Inbound, ErrClosed)
	}

	// A buffer left full by the pipeline gets one chance to be drained; reading into it would never make progress.
	h.inbound.Compact()
	if h.inbound.Free() == 0 {
		if err := h.fireDataReceived(); err != nil {
			return err
		}
	}

	var (
		readTotal int
		processed bool
		eof       bool
	)

	for {
		n, err := h.socket.Read(h.inbound.Available())
		if n > 0 {
			h.inbound.Commit(n)
			readTotal += n
			processed = false
		}

		if errors.Is(err, io.EOF) {
			eof = true
			break
		} else if err != nil {
			return h.fail(Inbound, fmt.Errorf("unexpected I/O error: %w", err))
		} else if n == 0 {
			break
		}

		if h.inbound.Free() == 0 {
			h.inbound.Compact()
		}
		if h.inbound.Free() == 0 {
			if err := h.fireDataReceived(); err != nil {
				return err
			}
			processed = true
		}
	}

	if readTotal > 0 && !processed {
		if err := h.sink.Fire(pipeline.DataReceived); err != nil {
			return h.fail(Inbound, err)
		}
	}

	if eof {
		h.log().WithField("bytes", readTotal).Debug("Peer closed the channel")
		return h.fail(Inbound, ErrEndOfStream)
	}

	return nil
}

// fireDataReceived for a full inbound buffer and fails if the pipeline did not consume any byte. Consumed bytes are
// reclaimed, even if the pipeline did not compact the buffer itself.
func (h *Handler) fireDataReceived() error {
	if err := h.sink.Fire(pipeline.DataReceived); err != nil {
		return h.fail(Inbound, err)
	}

	h.inbound.Compact()
	if h.inbound.Free() == 0 {
		h.log().WithField("capacity", h.inbound.Cap()).Error("Pipeline did not drain the full inbound buffer")
		return h.fail(Inbound, ErrInsufficientBufferSpace)
	}
	return nil
}

// TryFlush writes the pending outbound bytes to the Socket until either all are written or the Socket does not accept
// any more bytes. No events are fired.
func (h *Handler) TryFlush() error {
	if h.closed {
		return newError(h.identity, Outbound, ErrClosed)
	}

	for h.outbound.Len() > 0 {
		n, err := h.socket.Write(h.outbound.Bytes())
		if n > 0 {
			h.outbound.Consume(n)
		}

		if err != nil {
			return h.fail(Outbound, fmt.Errorf("unexpected I/O error: %w", err))
		} else if n == 0 {
			break
		}
	}

	return nil
}

// fail closes the channel and wraps the error.
func (h *Handler) fail(direction Direction, err error) error {
	h.Close()
	return newError(h.identity, direction, err)
}

// Close the Socket and unregister this channel. Failing to close the Socket is only logged; the unregistration
// happens regardless. Closing an already closed channel only unregisters again.
func (h *Handler) Close() {
	defer h.Unregister()

	if h.closed {
		h.log().Debug("Channel was already closed")
		return
	}
	h.closed = true

	if err := h.socket.Close(); err != nil {
		h.log().WithError(err).Error("Failed to close channel's socket")
	}
}
