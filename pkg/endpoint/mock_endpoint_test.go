// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"net"
	"sync"
	"time"
)

// failingAcceptor fails every Accept with its error.
type failingAcceptor struct {
	err error

	mutex   sync.Mutex
	accepts int
	closed  bool
}

func (a *failingAcceptor) Accept() (net.Conn, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.accepts++
	return nil, a.err
}

func (a *failingAcceptor) SetDeadline(_ time.Time) error { return nil }

func (a *failingAcceptor) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4556}
}

func (a *failingAcceptor) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.closed = true
	return nil
}

func (a *failingAcceptor) state() (accepts int, closed bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.accepts, a.closed
}
