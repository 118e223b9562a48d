// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package peer describes the remote side of a transport channel.
package peer

import (
	"fmt"
	"net"
)

// Identity names the remote endpoint of a channel, e.g., a TCP address. An Identity is immutable and comparable;
// two Identities for the same network and address are equal.
type Identity struct {
	network string
	address string
}

// NewIdentity from a net.Addr, as returned by net.Conn's RemoteAddr.
func NewIdentity(addr net.Addr) Identity {
	if addr == nil {
		return Identity{}
	}
	return Identity{network: addr.Network(), address: addr.String()}
}

// NewIdentityFromString for a network, e.g., "tcp", and an address within this network.
func NewIdentityFromString(network, address string) Identity {
	return Identity{network: network, address: address}
}

// Network of this Identity, e.g., "tcp" or "unix".
func (id Identity) Network() string {
	return id.network
}

// Address within the Identity's network.
func (id Identity) Address() string {
	return id.address
}

// IsZero reports if this Identity was never set.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) String() string {
	switch {
	case id.IsZero():
		return "unknown://"
	case id.network == "":
		return id.address
	default:
		return fmt.Sprintf("%s://%s", id.network, id.address)
	}
}
