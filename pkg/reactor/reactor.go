// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package reactor multiplexes the readiness of many channels onto a single goroutine.
//
// A Reactor owns a registration table of channel.Handlers, keyed by their socket handle. Its loop waits for readiness,
// lets the handlers read and flush, and toggles writability interest depending on pending outbound bytes. All handler
// calls happen on the loop goroutine; other goroutines hand work over by Execute.
package reactor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockpipe/pkg/channel"
)

// ErrClosed is returned when using an already closed Reactor.
var ErrClosed = errors.New("reactor is closed")

// DefaultMaxEvents is the default number of readiness events handled per wait.
const DefaultMaxEvents = 128

// Config of a Reactor.
type Config struct {
	// MaxEvents handled per wait; DefaultMaxEvents for zero.
	MaxEvents int
}

// registration of a single channel.
type registration struct {
	handler *channel.Handler
	state   channel.State
}

// Status describes a registered channel.
type Status struct {
	Handle  int       `json:"handle"`
	Peer    string    `json:"peer"`
	Channel uuid.UUID `json:"channel"`
	State   string    `json:"state"`
	Active  bool      `json:"active"`
}

var _ channel.Reactor = (*Reactor)(nil)

// Reactor dispatches readiness events to its registered channels. It implements channel.Reactor.
type Reactor struct {
	config  Config
	poller  poller
	metrics *metrics

	mutex    sync.Mutex
	channels map[int]*registration
	tasks    []func()
	closed   bool
	started  bool

	pollerClosed bool

	closeOnce sync.Once
	closeErr  error

	stopSyn chan struct{}
	stopAck chan struct{}
}

// New Reactor, which must be started afterwards.
func New(config Config) (*Reactor, error) {
	if config.MaxEvents <= 0 {
		config.MaxEvents = DefaultMaxEvents
	}

	p, err := newPoller(config.MaxEvents)
	if err != nil {
		return nil, err
	}

	return &Reactor{
		config:   config,
		poller:   p,
		metrics:  newMetrics(),
		channels: make(map[int]*registration),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}, nil
}

func (r *Reactor) String() string {
	return fmt.Sprintf("Reactor(%p)", r)
}

func (r *Reactor) log() *log.Entry {
	return log.WithField("reactor", r.String())
}

// Start the loop goroutine. Starting twice is a no-op.
func (r *Reactor) Start() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosed
	} else if r.started {
		return nil
	}
	r.started = true

	go r.loop()

	r.log().WithField("max-events", r.config.MaxEvents).Debug("Reactor started")
	return nil
}

// Execute a task on the loop goroutine. Tasks run in submission order after the current batch of readiness events.
// Tasks still pending on Close run during the shutdown, before the remaining channels are closed.
func (r *Reactor) Execute(task func()) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosed
	}

	r.tasks = append(r.tasks, task)
	return r.wakeLocked()
}

// wakeLocked interrupts the loop's wait; r.mutex must be held.
func (r *Reactor) wakeLocked() error {
	if r.pollerClosed {
		return nil
	}
	return r.poller.wake()
}

// Metrics of this Reactor, to be exposed via promhttp.
func (r *Reactor) Metrics() prometheus.Gatherer {
	return r.metrics.registry
}

// Channels returns a snapshot of all registered channels, ordered by their handle.
func (r *Reactor) Channels() []Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	states := make([]Status, 0, len(r.channels))
	for handle, reg := range r.channels {
		states = append(states, Status{
			Handle:  handle,
			Peer:    reg.handler.Identity().String(),
			Channel: reg.handler.ID(),
			State:   reg.state.String(),
			Active:  reg.state == channel.Active,
		})
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Handle < states[j].Handle })
	return states
}

// RegisterChannel starts watching the handle for readability. Registering the same Handler again is a no-op.
func (r *Reactor) RegisterChannel(handle int, h *channel.Handler) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrClosed
	}

	if reg, ok := r.channels[handle]; ok {
		if reg.handler == h {
			return nil
		}
		return fmt.Errorf("handle %d is already registered for %v", handle, reg.handler.Identity())
	}

	if err := r.poller.add(handle); err != nil {
		return fmt.Errorf("watching handle %d failed: %w", handle, err)
	}

	r.channels[handle] = &registration{handler: h, state: channel.Registered}
	r.metrics.channels.Inc()
	return nil
}

// UnregisterChannel stops watching the handle. Unknown handles are ignored.
func (r *Reactor) UnregisterChannel(handle int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.channels[handle]; !ok {
		return nil
	}
	delete(r.channels, handle)
	r.metrics.channels.Dec()

	if r.pollerClosed {
		return nil
	}
	return r.poller.remove(handle)
}

// ActivateChannel additionally watches the handle for writability.
func (r *Reactor) ActivateChannel(handle int) error {
	return r.setInterest(handle, channel.Active)
}

// DeactivateChannel stops watching the handle for writability.
func (r *Reactor) DeactivateChannel(handle int) error {
	return r.setInterest(handle, channel.Inactive)
}

func (r *Reactor) setInterest(handle int, state channel.State) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reg, ok := r.channels[handle]
	if !ok || reg.state == state {
		return nil
	}

	if err := r.poller.setWritable(handle, state == channel.Active); err != nil {
		return fmt.Errorf("changing interest of handle %d failed: %w", handle, err)
	}
	reg.state = state
	return nil
}

func (r *Reactor) loop() {
	defer close(r.stopAck)

	events := make([]readiness, r.config.MaxEvents)
	for {
		select {
		case <-r.stopSyn:
			r.shutdown()
			return

		default:
		}

		n, err := r.poller.wait(events)
		if err != nil {
			r.log().WithError(err).Error("Reactor failed to wait for readiness")
			r.shutdown()
			return
		}

		for i := 0; i < n; i++ {
			r.dispatch(events[i])
		}
		r.runTasks()
	}
}

func (r *Reactor) lookup(handle int) *channel.Handler {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if reg, ok := r.channels[handle]; ok {
		return reg.handler
	}
	return nil
}

func (r *Reactor) dispatch(ev readiness) {
	h := r.lookup(ev.fd)
	if h == nil {
		return
	}

	if ev.readable || ev.hangup {
		r.metrics.dispatches.WithLabelValues(dispatchRead).Inc()
		if err := h.OnReadable(); err != nil {
			r.failed(h, err)
			return
		}
	}

	r.Flush(h)
}

// Flush the Handler's outbound buffer and adjust its writability interest. Flush must be called on the loop goroutine,
// e.g., from a pipeline listener or a task passed to Execute.
func (r *Reactor) Flush(h *channel.Handler) {
	if h.IsClosed() {
		return
	}

	if h.Outbound().Len() > 0 {
		r.metrics.dispatches.WithLabelValues(dispatchFlush).Inc()
		if err := h.TryFlush(); err != nil {
			r.failed(h, err)
			return
		}
	}

	var err error
	switch pending := h.Outbound().Len() > 0; {
	case pending && !h.IsActive():
		err = h.Activate()
	case !pending && h.IsActive():
		err = h.Deactivate()
	}

	if err != nil {
		r.metrics.failures.WithLabelValues(failureInterest).Inc()
		h.Close()
		r.log().WithError(err).WithField("peer", h.Identity()).Warn("Reactor closed channel after interest change failed")
	}
}

// failed logs and counts a channel's failure. The Handler has already closed itself.
func (r *Reactor) failed(h *channel.Handler, err error) {
	logger := r.log().WithError(err).WithFields(log.Fields{
		"peer":    h.Identity(),
		"channel": h.ID(),
	})

	var kind string
	switch {
	case errors.Is(err, channel.ErrEndOfStream):
		kind = failureEndOfStream
		logger.Debug("Channel reached its end of stream")

	case errors.Is(err, channel.ErrInsufficientBufferSpace):
		kind = failureBuffer
		logger.Error("Channel's pipeline does not consume inbound data")

	case errors.Is(err, channel.ErrClosed):
		kind = failureClosed
		logger.Debug("Channel was already closed")

	default:
		kind = failureIO
		logger.Warn("Channel failed")
	}

	r.metrics.failures.WithLabelValues(kind).Inc()
}

func (r *Reactor) runTasks() {
	r.mutex.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mutex.Unlock()

	for _, task := range tasks {
		r.metrics.dispatches.WithLabelValues(dispatchTask).Inc()
		task()
	}
}

// shutdown closes every channel and the poller. Must run on the loop goroutine or when the loop was never started.
func (r *Reactor) shutdown() {
	r.mutex.Lock()
	r.closed = true
	tasks := r.tasks
	r.tasks = nil
	r.mutex.Unlock()

	// Pending tasks still run; whatever they register now fails with ErrClosed and must be released by them.
	for _, task := range tasks {
		r.metrics.dispatches.WithLabelValues(dispatchTask).Inc()
		task()
	}

	r.mutex.Lock()
	handlers := make([]*channel.Handler, 0, len(r.channels))
	for _, reg := range r.channels {
		handlers = append(handlers, reg.handler)
	}
	r.mutex.Unlock()

	var err error
	for _, h := range handlers {
		h.Close()
		if !h.IsClosed() {
			err = multierror.Append(err, fmt.Errorf("channel %v did not close", h.Identity()))
		}
	}

	r.mutex.Lock()
	if closeErr := r.poller.close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}
	r.pollerClosed = true
	r.mutex.Unlock()

	r.closeErr = err
	r.log().WithField("channels", len(handlers)).Debug("Reactor shut down")
}

// Close this Reactor, closing all registered channels. Subsequent calls return the first result.
func (r *Reactor) Close() error {
	r.closeOnce.Do(func() {
		r.mutex.Lock()
		started := r.started
		r.started = true
		r.mutex.Unlock()

		if !started {
			r.shutdown()
			close(r.stopAck)
			return
		}

		close(r.stopSyn)

		r.mutex.Lock()
		if err := r.wakeLocked(); err != nil {
			r.log().WithError(err).Warn("Reactor failed to wake up its loop")
		}
		r.mutex.Unlock()

		<-r.stopAck
	})

	return r.closeErr
}
