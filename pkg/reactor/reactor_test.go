// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package reactor

import (
	"bytes"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"golang.org/x/sys/unix"

	"github.com/dtn7/sockpipe/pkg/buffer"
	"github.com/dtn7/sockpipe/pkg/channel"
	"github.com/dtn7/sockpipe/pkg/peer"
	"github.com/dtn7/sockpipe/pkg/pipeline"
	"github.com/dtn7/sockpipe/pkg/socket"
)

func startReactor(t *testing.T) *Reactor {
	r, err := New(Config{MaxEvents: 8})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = r.Close() })
	return r
}

func socketPair(t *testing.T) [2]int {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	return fds
}

// attach a socketpair's end to the Reactor and return the blocking other end.
func attach(t *testing.T, r *Reactor, inCap, outCap int, listeners ...pipeline.Listener) (*channel.Handler, int) {
	return attachPair(t, r, socketPair(t), inCap, outCap, listeners...)
}

func attachPair(
	t *testing.T, r *Reactor, fds [2]int, inCap, outCap int, listeners ...pipeline.Listener) (*channel.Handler, int) {

	tv := unix.NsecToTimeval(int64(5 * time.Second))
	if err := unix.SetsockoptTimeval(fds[1], unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = unix.Close(fds[1]) })

	fd, err := socket.NewFD(fds[0])
	if err != nil {
		t.Fatal(err)
	}

	h, err := channel.NewHandler(
		peer.NewIdentityFromString("unix", "socketpair"), fd,
		buffer.New(inCap), buffer.New(outCap), pipeline.New(listeners...), r)
	if err != nil {
		t.Fatal(err)
	}

	onLoop(t, r, func() {
		if err := h.Register(); err != nil {
			t.Errorf("registration failed: %v", err)
		}
	})
	return h, fds[1]
}

// onLoop runs f on the Reactor's loop goroutine and waits for it.
func onLoop(t *testing.T, r *Reactor, f func()) {
	done := make(chan struct{})
	if err := r.Execute(func() {
		defer close(done)
		f()
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not executed")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout while waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readFull(t *testing.T, fd int, n int) []byte {
	data := make([]byte, 0, n)
	buf := make([]byte, 64*1024)
	for len(data) < n {
		m, err := unix.Read(fd, buf[:min(len(buf), n-len(data))])
		if err != nil {
			t.Fatalf("reading failed after %d bytes: %v", len(data), err)
		} else if m == 0 {
			t.Fatalf("unexpected end of stream after %d bytes", len(data))
		}
		data = append(data, buf[:m]...)
	}
	return data
}

func counterValue(t *testing.T, r *Reactor, name, kind string) float64 {
	families, err := r.Metrics().Gather()
	if err != nil {
		t.Fatal(err)
	}

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if labelValue(m, "kind") == kind {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

var echo = pipeline.ListenerFunc(func(e pipeline.Event) error {
	if e.Type != pipeline.DataReceived {
		return nil
	}

	in := e.Source.Inbound()
	n, err := e.Source.Outbound().Write(in.Bytes())
	if err != nil {
		return err
	}
	in.Consume(n)
	return nil
})

func TestReactorEcho(t *testing.T) {
	r := startReactor(t)
	_, peerFd := attach(t, r, 1024, 1024, echo)

	msg := []byte("hello reactor")
	if _, err := unix.Write(peerFd, msg); err != nil {
		t.Fatal(err)
	}

	if reply := readFull(t, peerFd, len(msg)); !bytes.Equal(reply, msg) {
		t.Fatalf("echo mismatch, expected: %q, got: %q", msg, reply)
	}

	if v := counterValue(t, r, "sockpipe_reactor_dispatches_total", dispatchRead); v < 1 {
		t.Fatalf("expected at least one read dispatch, got: %v", v)
	}
}

func TestReactorEchoSmallBuffer(t *testing.T) {
	r := startReactor(t)
	_, peerFd := attach(t, r, 16, 64, echo)

	msg := bytes.Repeat([]byte("0123456789"), 100)
	go func() {
		_, _ = unix.Write(peerFd, msg)
	}()

	if reply := readFull(t, peerFd, len(msg)); !bytes.Equal(reply, msg) {
		t.Fatalf("echo mismatch of %d bytes", len(reply))
	}
}

func TestReactorEndOfStream(t *testing.T) {
	r := startReactor(t)

	var events []pipeline.EventType
	recorder := pipeline.ListenerFunc(func(e pipeline.Event) error {
		events = append(events, e.Type)
		e.Source.Inbound().Reset()
		return nil
	})

	h, peerFd := attach(t, r, 64, 64, recorder)
	if _, err := unix.Write(peerFd, []byte("bye")); err != nil {
		t.Fatal(err)
	}
	if err := unix.Shutdown(peerFd, unix.SHUT_WR); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "channel to unregister", func() bool { return len(r.Channels()) == 0 })

	onLoop(t, r, func() {
		if !h.IsClosed() {
			t.Errorf("channel is not closed")
		}

		expected := []pipeline.EventType{pipeline.ChannelRegistered, pipeline.DataReceived, pipeline.ChannelUnregistered}
		if len(events) != len(expected) {
			t.Errorf("events mismatch, expected: %v, got: %v", expected, events)
			return
		}
		for i := range expected {
			if events[i] != expected[i] {
				t.Errorf("event %d mismatch, expected: %v, got: %v", i, expected[i], events[i])
			}
		}
	})

	if v := counterValue(t, r, "sockpipe_reactor_failures_total", failureEndOfStream); v != 1 {
		t.Fatalf("expected one end of stream, got: %v", v)
	}
}

func TestReactorInsufficientBuffer(t *testing.T) {
	r := startReactor(t)
	hoard := pipeline.ListenerFunc(func(pipeline.Event) error { return nil })

	_, peerFd := attach(t, r, 8, 8, hoard)
	if _, err := unix.Write(peerFd, []byte("more than eight bytes")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "channel to fail", func() bool { return len(r.Channels()) == 0 })

	if v := counterValue(t, r, "sockpipe_reactor_failures_total", failureBuffer); v != 1 {
		t.Fatalf("expected one buffer failure, got: %v", v)
	}
}

func TestReactorWriteBackpressure(t *testing.T) {
	r := startReactor(t)

	const size = 8 * 1024 * 1024
	h, peerFd := attach(t, r, 64, size)

	payload := bytes.Repeat([]byte{0xAC}, size)
	onLoop(t, r, func() {
		if _, err := h.Outbound().Write(payload); err != nil {
			t.Errorf("filling outbound buffer failed: %v", err)
		}
		r.Flush(h)
	})

	channels := r.Channels()
	if len(channels) != 1 {
		t.Fatalf("expected one channel, got: %d", len(channels))
	} else if !channels[0].Active {
		t.Fatalf("channel with pending bytes is not active: %v", channels[0])
	}

	if data := readFull(t, peerFd, size); !bytes.Equal(data, payload) {
		t.Fatal("flushed payload differs")
	}

	waitFor(t, "channel to deactivate", func() bool {
		channels := r.Channels()
		return len(channels) == 1 && channels[0].State == channel.Inactive.String()
	})
}

func TestReactorCloseAfterHandleReuse(t *testing.T) {
	r := startReactor(t)

	first, _ := attach(t, r, 64, 64)
	handle := first.Handle()
	onLoop(t, r, first.Close)

	// Force the next channel onto the now free descriptor number.
	fds := socketPair(t)
	if fds[1] == handle {
		fds[0], fds[1] = fds[1], fds[0]
	}
	if fds[0] != handle {
		if err := unix.Dup3(fds[0], handle, unix.O_CLOEXEC); err != nil {
			t.Fatal(err)
		}
		_ = unix.Close(fds[0])
		fds[0] = handle
	}

	second, peerFd := attachPair(t, r, fds, 1024, 1024, echo)
	if second.Handle() != handle {
		t.Fatalf("expected: %d, got: %d", handle, second.Handle())
	}

	onLoop(t, r, func() {
		first.Close()
		first.Unregister()
	})

	channels := r.Channels()
	if len(channels) != 1 || channels[0].Channel != second.ID() {
		t.Fatalf("registration of the handle's new owner was dropped: %v", channels)
	}

	msg := []byte("still listening")
	if _, err := unix.Write(peerFd, msg); err != nil {
		t.Fatal(err)
	}
	if reply := readFull(t, peerFd, len(msg)); !bytes.Equal(reply, msg) {
		t.Fatalf("echo mismatch, expected: %q, got: %q", msg, reply)
	}
}

func TestReactorCloseRunsPendingTasks(t *testing.T) {
	r, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	var executed []int
	for i := 0; i < 3; i++ {
		i := i
		if err := r.Execute(func() {
			executed = append(executed, i)
			if err := r.Execute(func() {}); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed within a pending task, got: %v", err)
			}
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if len(executed) != 3 || executed[0] != 0 || executed[2] != 2 {
		t.Fatalf("pending tasks were not executed in order: %v", executed)
	}
}

func TestReactorChannels(t *testing.T) {
	r := startReactor(t)

	h1, _ := attach(t, r, 16, 16)
	h2, _ := attach(t, r, 16, 16)

	channels := r.Channels()
	if len(channels) != 2 {
		t.Fatalf("expected: %d, got: %d", 2, len(channels))
	}
	if channels[0].Handle > channels[1].Handle {
		t.Fatalf("channels are not ordered: %v", channels)
	}

	for _, h := range []*channel.Handler{h1, h2} {
		found := false
		for _, c := range channels {
			if c.Channel == h.ID() {
				found = true
				if c.State != channel.Registered.String() || c.Peer != "unix://socketpair" {
					t.Fatalf("unexpected status %v", c)
				}
			}
		}
		if !found {
			t.Fatalf("channel %v is missing", h.ID())
		}
	}
}

func TestReactorRegisterTwice(t *testing.T) {
	r := startReactor(t)
	h, _ := attach(t, r, 16, 16)

	onLoop(t, r, func() {
		if err := r.RegisterChannel(h.Handle(), h); err != nil {
			t.Errorf("re-registering the same handler failed: %v", err)
		}
	})

	if err := r.UnregisterChannel(12345); err != nil {
		t.Fatalf("unregistering an unknown handle failed: %v", err)
	}
	if err := r.ActivateChannel(12345); err != nil {
		t.Fatalf("activating an unknown handle failed: %v", err)
	}
}

func TestReactorExecuteOrder(t *testing.T) {
	r := startReactor(t)

	var order []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		if err := r.Execute(func() {
			order = append(order, i)
			if i == 9 {
				close(done)
			}
		}); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks were not executed")
	}

	for i, v := range order {
		if i != v {
			t.Fatalf("task order mismatch, expected: %d, got: %d", i, v)
		}
	}
}

func TestReactorClose(t *testing.T) {
	r, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	var unregistered int
	counter := pipeline.ListenerFunc(func(e pipeline.Event) error {
		if e.Type == pipeline.ChannelUnregistered {
			unregistered++
		}
		return nil
	})

	attach(t, r, 16, 16, counter)
	attach(t, r, 16, 16, counter)

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if unregistered != 2 {
		t.Fatalf("expected: %d, got: %d", 2, unregistered)
	}
	if n := len(r.Channels()); n != 0 {
		t.Fatalf("expected no channels, got: %d", n)
	}
	if err := r.Execute(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got: %v", err)
	}
	if err := r.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got: %v", err)
	}
}

func TestReactorCloseUnstarted(t *testing.T) {
	r, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got: %v", err)
	}
}

func TestDefaultReactor(t *testing.T) {
	if Default() != nil {
		t.Fatal("default reactor exists before Init")
	}
	if err := Shutdown(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got: %v", err)
	}

	r, err := Init(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if r2, _ := Init(Config{}); r2 != r {
		t.Fatal("second Init created another reactor")
	}
	if Default() != r {
		t.Fatal("Default differs from the initialized reactor")
	}

	if err := Shutdown(); err != nil {
		t.Fatal(err)
	}
	if Default() != nil {
		t.Fatal("default reactor exists after Shutdown")
	}
}
