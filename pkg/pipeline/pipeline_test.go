// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dtn7/sockpipe/pkg/buffer"
	"github.com/dtn7/sockpipe/pkg/peer"
)

type mockSource struct {
	id       peer.Identity
	inbound  *buffer.Buffer
	outbound *buffer.Buffer
}

func newMockSource() *mockSource {
	return &mockSource{
		id:       peer.NewIdentityFromString("tcp", "127.0.0.1:4556"),
		inbound:  buffer.New(16),
		outbound: buffer.New(16),
	}
}

func (m *mockSource) Identity() peer.Identity  { return m.id }
func (m *mockSource) Inbound() *buffer.Buffer  { return m.inbound }
func (m *mockSource) Outbound() *buffer.Buffer { return m.outbound }

func TestPipelineOrder(t *testing.T) {
	var calls []string
	record := func(name string) Listener {
		return ListenerFunc(func(e Event) error {
			calls = append(calls, name+":"+e.Type.String())
			return nil
		})
	}

	p := New(record("a"), record("b"))
	if err := p.AddLast(record("c")); err != nil {
		t.Fatal(err)
	}

	src := newMockSource()
	if err := p.Bind(src); err != nil {
		t.Fatal(err)
	}
	if p.Source() != src {
		t.Fatal("bound source mismatches")
	}

	if err := p.Fire(ChannelRegistered); err != nil {
		t.Fatal(err)
	}
	if err := p.Fire(DataReceived); err != nil {
		t.Fatal(err)
	}

	expected := []string{
		"a:Channel Registered", "b:Channel Registered", "c:Channel Registered",
		"a:Data Received", "b:Data Received", "c:Data Received",
	}
	if !reflect.DeepEqual(calls, expected) {
		t.Fatalf("calls mismatch, expected: %v, got: %v", expected, calls)
	}
}

func TestPipelineListenerError(t *testing.T) {
	listenerErr := errors.New("oh noes")
	var reachedLast bool

	p := New(
		ListenerFunc(func(_ Event) error { return listenerErr }),
		ListenerFunc(func(_ Event) error { reachedLast = true; return nil }))
	if err := p.Bind(newMockSource()); err != nil {
		t.Fatal(err)
	}

	if err := p.Fire(DataReceived); !errors.Is(err, listenerErr) {
		t.Fatalf("expected listener error, got: %v", err)
	}
	if reachedLast {
		t.Fatal("propagation did not stop at the failing listener")
	}
}

func TestPipelineBindOnce(t *testing.T) {
	p := New()

	if err := p.Fire(ChannelActive); !errors.Is(err, ErrUnbound) {
		t.Fatalf("firing an unbound pipeline should fail, got: %v", err)
	}
	if err := p.Bind(nil); err == nil {
		t.Fatal("binding nil should fail")
	}
	if err := p.Bind(newMockSource()); err != nil {
		t.Fatal(err)
	}
	if err := p.Bind(newMockSource()); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("second bind should fail, got: %v", err)
	}
	if err := p.AddLast(ListenerFunc(func(_ Event) error { return nil })); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("altering a bound pipeline should fail, got: %v", err)
	}
}

func TestEventTypeString(t *testing.T) {
	for et := ChannelRegistered; et <= DataReceived; et++ {
		if et.String() == "Unknown Type" {
			t.Fatalf("EventType %d has no name", et)
		}
	}
	if EventType(0).String() != "Unknown Type" {
		t.Fatal("zero EventType has a name")
	}
}
