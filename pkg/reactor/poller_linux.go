// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

const (
	epollRead  = unix.EPOLLIN | unix.EPOLLRDHUP
	epollWrite = unix.EPOLLOUT
	epollHup   = unix.EPOLLHUP | unix.EPOLLRDHUP | unix.EPOLLERR
)

// epoll is the Linux poller, woken up by an eventfd.
type epoll struct {
	epfd    int
	eventfd int

	rawEvents []unix.EpollEvent
}

func newPoller(maxEvents int) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating epoll instance failed: %w", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("creating eventfd failed: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("watching eventfd failed: %w", err)
	}

	return &epoll{
		epfd:      epfd,
		eventfd:   efd,
		rawEvents: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (e *epoll) add(fd int) error {
	ev := unix.EpollEvent{Events: epollRead, Fd: int32(fd)}
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (e *epoll) setWritable(fd int, writable bool) error {
	ev := unix.EpollEvent{Events: epollRead, Fd: int32(fd)}
	if writable {
		ev.Events |= epollWrite
	}
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (e *epoll) remove(fd int) error {
	// A closed descriptor is already gone from the interest list.
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (e *epoll) wait(events []readiness) (int, error) {
	max := len(events)
	if max > len(e.rawEvents) {
		max = len(e.rawEvents)
	}

	for {
		n, err := unix.EpollWait(e.epfd, e.rawEvents[:max], -1)
		if err == unix.EINTR {
			continue
		} else if err != nil {
			return 0, err
		}

		ready := 0
		for _, raw := range e.rawEvents[:n] {
			if int(raw.Fd) == e.eventfd {
				e.drainWake()
				continue
			}

			events[ready] = readiness{
				fd:       int(raw.Fd),
				readable: raw.Events&unix.EPOLLIN != 0,
				writable: raw.Events&unix.EPOLLOUT != 0,
				hangup:   raw.Events&epollHup != 0,
			}
			ready++
		}
		return ready, nil
	}
}

func (e *epoll) wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)

	_, err := unix.Write(e.eventfd, buf[:])
	if err == unix.EAGAIN {
		// The counter is saturated, a wake-up is pending anyway.
		return nil
	}
	return err
}

func (e *epoll) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(e.eventfd, buf[:])
}

func (e *epoll) close() (err error) {
	for _, fd := range []int{e.eventfd, e.epfd} {
		if closeErr := unix.Close(fd); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}
	return
}
