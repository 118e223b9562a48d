// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dtn7/sockpipe/pkg/buffer"
	"github.com/dtn7/sockpipe/pkg/peer"
	"github.com/dtn7/sockpipe/pkg/pipeline"
)

// readStep is one scripted result of mockSocket.Read.
type readStep struct {
	n   int
	err error
}

// mockSocket replays scripted reads and writes. Once all steps are used, Read and Write report no progress.
type mockSocket struct {
	handle int

	reads     []readStep
	readCalls int

	// accepts are the amounts of bytes each Write accepts; writeErr fails the Write after the last accept.
	accepts    []int
	writeErr   error
	writeCalls int
	written    []byte

	closeErr   error
	closeCalls int
}

func (m *mockSocket) Handle() int { return m.handle }

func (m *mockSocket) Read(p []byte) (int, error) {
	m.readCalls++
	if len(m.reads) == 0 {
		return 0, nil
	}

	step := m.reads[0]
	m.reads = m.reads[1:]

	if step.n > len(p) {
		panic(fmt.Sprintf("scripted read of %d bytes exceeds %d free bytes", step.n, len(p)))
	}
	for i := 0; i < step.n; i++ {
		p[i] = byte(i)
	}
	return step.n, step.err
}

func (m *mockSocket) Write(p []byte) (int, error) {
	m.writeCalls++
	if len(m.accepts) == 0 {
		return 0, m.writeErr
	}

	n := m.accepts[0]
	m.accepts = m.accepts[1:]
	if n > len(p) {
		n = len(p)
	}
	m.written = append(m.written, p[:n]...)
	return n, nil
}

func (m *mockSocket) Close() error {
	m.closeCalls++
	if m.closeCalls > 1 {
		return errors.New("socket already closed")
	}
	return m.closeErr
}

// mockReactor counts each registration call per handle.
type mockReactor struct {
	registered   map[int]*Handler
	calls        []string
	unregistered int

	registerErr error
}

func newMockReactor() *mockReactor {
	return &mockReactor{registered: make(map[int]*Handler)}
}

func (m *mockReactor) RegisterChannel(handle int, h *Handler) error {
	m.calls = append(m.calls, "register")
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered[handle] = h
	return nil
}

func (m *mockReactor) UnregisterChannel(handle int) error {
	m.calls = append(m.calls, "unregister")
	m.unregistered++
	delete(m.registered, handle)
	return nil
}

func (m *mockReactor) ActivateChannel(_ int) error {
	m.calls = append(m.calls, "activate")
	return nil
}

func (m *mockReactor) DeactivateChannel(_ int) error {
	m.calls = append(m.calls, "deactivate")
	return nil
}

// recorder is a pipeline.Listener recording all events and consuming inbound data by its consume function.
type recorder struct {
	events   []pipeline.EventType
	received []int

	// consume returns the amount of bytes to consume for the pending amount; nil consumes nothing.
	consume func(pending int) int
	err     error

	// uncompacted leaves consumed bytes in place, like a consumer which only advances the read index.
	uncompacted bool
}

func (r *recorder) Handle(e pipeline.Event) error {
	r.events = append(r.events, e.Type)

	if e.Type == pipeline.DataReceived {
		in := e.Source.Inbound()
		r.received = append(r.received, in.Len())

		if r.consume != nil {
			in.Consume(r.consume(in.Len()))
			if !r.uncompacted {
				in.Compact()
			}
		}
	}
	return r.err
}

func (r *recorder) count(et pipeline.EventType) (n int) {
	for _, e := range r.events {
		if e == et {
			n++
		}
	}
	return
}

func consumeAll(pending int) int { return pending }

// testChannel bundles a Handler with its mocked collaborators.
type testChannel struct {
	h        *Handler
	socket   *mockSocket
	reactor  *mockReactor
	recorder *recorder
}

func newTestChannel(t *testing.T, inboundCap, outboundCap int) *testChannel {
	tc := &testChannel{
		socket:   &mockSocket{handle: 23},
		reactor:  newMockReactor(),
		recorder: &recorder{},
	}

	h, err := NewHandler(
		peer.NewIdentityFromString("tcp", "127.0.0.1:4556"), tc.socket,
		buffer.New(inboundCap), buffer.New(outboundCap),
		pipeline.New(tc.recorder), tc.reactor)
	if err != nil {
		t.Fatal(err)
	}
	tc.h = h

	return tc
}
