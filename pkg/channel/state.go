// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

// State of a Handler regarding its Reactor.
type State uint

const (
	// Unregistered is both the initial and the terminal state.
	Unregistered State = iota

	// Registered with the Reactor, receiving readability notifications.
	Registered

	// Active channels additionally receive writability notifications.
	Active

	// Inactive channels stopped receiving writability notifications.
	Inactive
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return "unknown"
	}
}
