// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"fmt"

	"github.com/dtn7/sockpipe/pkg/buffer"
	"github.com/dtn7/sockpipe/pkg/peer"
)

// EventType indicates the kind of an Event.
type EventType uint

const (
	_ EventType = iota

	// ChannelRegistered is fired after the channel was handed to its reactor.
	ChannelRegistered

	// ChannelUnregistered is fired after the channel was removed from its reactor. It might be fired more than once,
	// e.g., by an explicit unregistration followed by a closing failure.
	ChannelUnregistered

	// ChannelActive is fired when the channel becomes eligible for writability notifications.
	ChannelActive

	// ChannelInactive is fired when the channel stops being eligible for writability notifications.
	ChannelInactive

	// DataReceived is fired when new bytes are pending in the Source's inbound buffer. Listeners are expected to
	// consume what they can, reclaiming buffer space.
	DataReceived
)

func (et EventType) String() string {
	switch et {
	case ChannelRegistered:
		return "Channel Registered"
	case ChannelUnregistered:
		return "Channel Unregistered"
	case ChannelActive:
		return "Channel Active"
	case ChannelInactive:
		return "Channel Inactive"
	case DataReceived:
		return "Data Received"
	default:
		return "Unknown Type"
	}
}

// Source of Events, implemented by a channel handler. A Pipeline only holds a reference to its Source to identify it;
// the Source owns both buffers.
type Source interface {
	// Identity of the remote peer.
	Identity() peer.Identity

	// Inbound buffer, filled from the socket and drained by Listeners.
	Inbound() *buffer.Buffer

	// Outbound buffer, filled by Listeners and drained to the socket.
	Outbound() *buffer.Buffer
}

// Event is passed through a Pipeline's Listeners.
type Event struct {
	Type   EventType
	Source Source
}

func (e Event) String() string {
	if e.Source == nil {
		return fmt.Sprintf("%v-Event", e.Type)
	}
	return fmt.Sprintf("%v-Event from %v", e.Type, e.Source.Identity())
}
