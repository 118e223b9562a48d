// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package endpoint connects TCP connections, either accepted or dialed, to a Reactor.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockpipe/pkg/buffer"
	"github.com/dtn7/sockpipe/pkg/channel"
	"github.com/dtn7/sockpipe/pkg/peer"
	"github.com/dtn7/sockpipe/pkg/pipeline"
	"github.com/dtn7/sockpipe/pkg/reactor"
	"github.com/dtn7/sockpipe/pkg/socket"
)

// Default buffer capacities.
const (
	DefaultInboundBuffer  = 64 * 1024
	DefaultOutboundBuffer = 256 * 1024
)

// ListenerFactory creates the pipeline listeners for a new channel, in order.
type ListenerFactory func(identity peer.Identity) []pipeline.Listener

// Attacher turns connections into registered channels.
type Attacher struct {
	reactor   *reactor.Reactor
	listeners ListenerFactory

	inboundCap  int
	outboundCap int
}

// NewAttacher for the Reactor. Zero capacities fall back to the defaults.
func NewAttacher(r *reactor.Reactor, listeners ListenerFactory, inboundCap, outboundCap int) *Attacher {
	if inboundCap <= 0 {
		inboundCap = DefaultInboundBuffer
	}
	if outboundCap <= 0 {
		outboundCap = DefaultOutboundBuffer
	}

	return &Attacher{
		reactor:     r,
		listeners:   listeners,
		inboundCap:  inboundCap,
		outboundCap: outboundCap,
	}
}

// Attach a connection. Its descriptor is detached and the connection itself closed. The channel's registration happens
// asynchronously on the Reactor's loop goroutine.
func (a *Attacher) Attach(conn net.Conn) (*channel.Handler, error) {
	identity := peer.NewIdentity(conn.RemoteAddr())

	sysConn, ok := conn.(syscall.Conn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("connection to %v does not expose its descriptor", identity)
	}

	fd, err := socket.FromConn(sysConn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("detaching connection to %v failed: %w", identity, err)
	}

	var listeners []pipeline.Listener
	if a.listeners != nil {
		listeners = a.listeners(identity)
	}

	h, err := channel.NewHandler(
		identity, fd, buffer.New(a.inboundCap), buffer.New(a.outboundCap), pipeline.New(listeners...), a.reactor)
	if err != nil {
		_ = fd.Close()
		return nil, err
	}

	if err := a.reactor.Execute(func() { a.register(h) }); err != nil {
		h.Close()
		return nil, err
	}

	return h, nil
}

func (a *Attacher) register(h *channel.Handler) {
	logger := log.WithFields(log.Fields{
		"peer":    h.Identity(),
		"channel": h.ID(),
	})

	if err := h.Register(); err != nil {
		if errors.Is(err, reactor.ErrClosed) {
			logger.Debug("Reactor closed before channel registration")
		} else {
			logger.WithError(err).Warn("Failed to register channel")
		}
		h.Close()
		return
	}

	logger.Info("Attached channel")
}
