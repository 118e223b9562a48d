// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockpipe/pkg/channel"
)

// DialTimeout for a single connection attempt.
const DialTimeout = 5 * time.Second

// Dial a TCP address and attach the connection. Failed attempts are retried with an exponential backoff, at most
// retries times.
func Dial(ctx context.Context, address string, retries uint64, attacher *Attacher) (*channel.Handler, error) {
	var (
		h      *channel.Handler
		dialer = net.Dialer{Timeout: DialTimeout}
	)

	operation := func() error {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}

		h, err = attacher.Attach(conn)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		log.WithError(err).WithFields(log.Fields{
			"address": address,
			"retry":   next,
		}).Debug("Dialing failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		log.WithError(err).WithField("address", address).Warn("Dialing failed")
		return nil, err
	}

	return h, nil
}
