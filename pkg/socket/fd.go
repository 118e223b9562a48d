// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package socket provides nonblocking stream sockets on raw file descriptors, to be owned by a channel.Handler.
package socket

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when using an already closed FD.
var ErrClosed = errors.New("socket is closed")

// FD is a nonblocking stream socket. It implements channel.Socket.
type FD struct {
	fd     int
	closed bool
}

// NewFD for an existing descriptor, which is switched to nonblocking mode. The FD takes ownership of it.
func NewFD(fd int) (*FD, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("setting descriptor %d nonblocking failed: %w", fd, err)
	}
	return &FD{fd: fd}, nil
}

// FromConn detaches the descriptor of a connection, e.g., a *net.TCPConn. The descriptor is duplicated and the
// original connection is closed, leaving the FD as its sole owner.
func FromConn(conn syscall.Conn) (*FD, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var (
		dupFd  = -1
		dupErr error
	)
	if ctrlErr := rawConn.Control(func(fd uintptr) {
		dupFd, dupErr = unix.Dup(int(fd))
	}); ctrlErr != nil {
		return nil, ctrlErr
	} else if dupErr != nil {
		return nil, fmt.Errorf("duplicating descriptor failed: %w", dupErr)
	}

	unix.CloseOnExec(dupFd)

	if closer, ok := conn.(io.Closer); ok {
		_ = closer.Close()
	}

	fd, err := NewFD(dupFd)
	if err != nil {
		_ = unix.Close(dupFd)
		return nil, err
	}
	return fd, nil
}

// Handle is the raw descriptor number. It stays available after closing.
func (s *FD) Handle() int {
	return s.fd
}

// Read from the socket. No available data results in (0, nil), a closed connection in io.EOF.
func (s *FD) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, nil
		case err != nil:
			return 0, err
		case n == 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

// Write to the socket. A full send buffer results in (0, nil).
func (s *FD) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, nil
		case err != nil:
			return 0, err
		default:
			return n, nil
		}
	}
}

// Close the descriptor. Closing twice returns ErrClosed.
func (s *FD) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return unix.Close(s.fd)
}

func (s *FD) String() string {
	return fmt.Sprintf("fd://%d", s.fd)
}
