// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockpipe/pkg/discovery"
	"github.com/dtn7/sockpipe/pkg/endpoint"
	"github.com/dtn7/sockpipe/pkg/frame"
	"github.com/dtn7/sockpipe/pkg/peer"
	"github.com/dtn7/sockpipe/pkg/pipeline"
	"github.com/dtn7/sockpipe/pkg/reactor"
	"github.com/dtn7/sockpipe/pkg/status"
)

// discoveryRetries for dialing discovered peers.
const discoveryRetries = 3

// daemon wires all components of sockpiped.
type daemon struct {
	node uuid.UUID

	reactor   *reactor.Reactor
	attacher  *endpoint.Attacher
	listeners []*endpoint.Listener
	discovery atomic.Pointer[discovery.Manager]
	status    *status.Server

	ctx    context.Context
	cancel context.CancelFunc
	dials  sync.WaitGroup
}

// startDaemon for a validated configuration. On failure, every already started component is closed again.
func startDaemon(conf tomlConfig) (d *daemon, err error) {
	d = &daemon{node: uuid.New()}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	defer func() {
		if err != nil {
			if closeErr := d.Close(); closeErr != nil {
				log.WithError(closeErr).Warn("Closing partially started daemon errored")
			}
			d = nil
		}
	}()

	if d.reactor, err = reactor.Init(reactor.Config{MaxEvents: conf.Reactor.MaxEvents}); err != nil {
		return
	}
	d.attacher = endpoint.NewAttacher(d.reactor, d.pipelineFor, conf.Reactor.InboundBuffer, conf.Reactor.OutboundBuffer)

	var announcements []discovery.Announcement
	for _, listen := range conf.Listen {
		var l *endpoint.Listener
		if l, err = endpoint.Listen(listen.Endpoint, d.attacher); err != nil {
			return
		}
		d.listeners = append(d.listeners, l)

		announcements = append(announcements, discovery.Announcement{
			Node: d.node,
			Port: uint(l.Addr().(*net.TCPAddr).Port),
		})
	}

	for _, p := range conf.Peer {
		d.dial(p.Endpoint, p.Retries)
	}

	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		var mgr *discovery.Manager
		mgr, err = discovery.NewManager(
			d.node, d.dialDiscovered, announcements,
			time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			return
		}
		d.discovery.Store(mgr)
	}

	if conf.Status.Listen != "" {
		if d.status, err = status.Serve(conf.Status.Listen, d.reactor); err != nil {
			return
		}
	}

	log.WithField("node", d.node).Info("Started sockpiped")
	return
}

// pipelineFor a new channel: frames are echoed back to their sender.
func (d *daemon) pipelineFor(identity peer.Identity) []pipeline.Listener {
	return []pipeline.Listener{
		frame.NewDecoder(echo),
		pipeline.ListenerFunc(func(e pipeline.Event) error {
			if e.Type != pipeline.ChannelUnregistered {
				return nil
			}
			if mgr := d.discovery.Load(); mgr != nil {
				mgr.Forget(identity.Address())
			}
			return nil
		}),
	}
}

// echo a frame's payload back as a new frame.
func echo(src pipeline.Source, payload []byte) error {
	log.WithFields(log.Fields{
		"peer":  src.Identity(),
		"bytes": len(payload),
	}).Debug("Echoing frame")

	return frame.Encode(src.Outbound(), payload)
}

// dial a configured peer in the background.
func (d *daemon) dial(address string, retries uint64) {
	d.dials.Add(1)
	go func() {
		defer d.dials.Done()

		if _, err := endpoint.Dial(d.ctx, address, retries, d.attacher); err != nil {
			log.WithError(err).WithField("address", address).Warn("Failed to connect to peer")
		}
	}()
}

func (d *daemon) dialDiscovered(address string) error {
	_, err := endpoint.Dial(d.ctx, address, discoveryRetries, d.attacher)
	return err
}

// Close all components in reverse order of their start.
func (d *daemon) Close() (err error) {
	if d.status != nil {
		if closeErr := d.status.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	if mgr := d.discovery.Swap(nil); mgr != nil {
		mgr.Close()
	}

	d.cancel()
	d.dials.Wait()

	for _, l := range d.listeners {
		if closeErr := l.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	if d.reactor != nil {
		if closeErr := reactor.Shutdown(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	return
}
