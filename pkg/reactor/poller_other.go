// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux

package reactor

func newPoller(int) (poller, error) {
	return nil, ErrUnsupported
}
