// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package reactor

import "errors"

// ErrUnsupported is returned on platforms without a poller backend.
var ErrUnsupported = errors.New("reactor is not supported on this platform")

// readiness of a single descriptor, as reported by a poller.
type readiness struct {
	fd       int
	readable bool
	writable bool
	hangup   bool
}

// poller is the operating system's readiness notification facility.
//
// A descriptor is always watched for readability; watching for writability is toggled. The wake method interrupts a
// blocking wait from another goroutine.
type poller interface {
	add(fd int) error
	setWritable(fd int, writable bool) error
	remove(fd int) error

	// wait blocks until at least one descriptor is ready or wake was called. Wake-ups are not reported as readiness.
	wait(events []readiness) (int, error)
	wake() error

	close() error
}
