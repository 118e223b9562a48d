// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pipeline propagates a channel's lifecycle and data events through an ordered chain of Listeners.
//
// A Pipeline is assembled first and bound to its channel afterwards. Binding happens exactly once and gives each
// Event a back-reference to the channel, its Source.
package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyBound is returned when binding a Pipeline a second time or altering a bound Pipeline.
	ErrAlreadyBound = errors.New("pipeline is already bound to a source")

	// ErrUnbound is returned when firing an Event on a Pipeline without a Source.
	ErrUnbound = errors.New("pipeline is not bound to a source")
)

// Listener handles Events fired through a Pipeline. Handle is called synchronously from within the channel's
// operation; it must not block.
type Listener interface {
	Handle(e Event) error
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(e Event) error

// Handle calls f(e).
func (f ListenerFunc) Handle(e Event) error {
	return f(e)
}

// Pipeline is an ordered chain of Listeners.
type Pipeline struct {
	listeners []Listener
	source    Source
}

// New Pipeline, invoking the Listeners in the given order.
func New(listeners ...Listener) *Pipeline {
	return &Pipeline{listeners: append([]Listener(nil), listeners...)}
}

// AddLast appends a Listener to the chain. This is only possible before binding.
func (p *Pipeline) AddLast(l Listener) error {
	if p.source != nil {
		return ErrAlreadyBound
	}
	p.listeners = append(p.listeners, l)
	return nil
}

// Bind this Pipeline to its Source. A Pipeline can only be bound once.
func (p *Pipeline) Bind(src Source) error {
	if src == nil {
		return fmt.Errorf("cannot bind pipeline to a nil source")
	}
	if p.source != nil {
		return ErrAlreadyBound
	}
	p.source = src
	return nil
}

// Source is the bound Source or nil.
func (p *Pipeline) Source() Source {
	return p.source
}

// Len is the number of Listeners.
func (p *Pipeline) Len() int {
	return len(p.listeners)
}

// Fire an Event of the given type through all Listeners in order. The first Listener error stops the propagation.
func (p *Pipeline) Fire(et EventType) error {
	if p.source == nil {
		return ErrUnbound
	}

	e := Event{Type: et, Source: p.source}
	for i, l := range p.listeners {
		if err := l.Handle(e); err != nil {
			return fmt.Errorf("listener %d failed on %v: %w", i, et, err)
		}
	}
	return nil
}
