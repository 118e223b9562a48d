// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// acceptor is the part of a *net.TCPListener used by a Listener.
type acceptor interface {
	Accept() (net.Conn, error)
	SetDeadline(t time.Time) error
	Addr() net.Addr
	Close() error
}

// Listener accepts TCP connections and attaches them.
type Listener struct {
	ln       acceptor
	attacher *Attacher

	stopSyn chan struct{}
	stopAck chan struct{}
}

// Listen on a TCP address and start accepting.
func Listen(address string, attacher *Attacher) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}

	l := newListener(ln, attacher)
	log.WithField("listener", l).Info("Listening for connections")
	return l, nil
}

func newListener(ln acceptor, attacher *Attacher) *Listener {
	l := &Listener{
		ln:       ln,
		attacher: attacher,
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}
	go l.handle()

	return l
}

// newAcceptBackOff paces retries after failed accepts, e.g., when running out of descriptors.
func newAcceptBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (l *Listener) String() string {
	return fmt.Sprintf("tcp://%v", l.ln.Addr())
}

// Addr of the listening socket.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) handle() {
	defer close(l.stopAck)
	defer func() { _ = l.ln.Close() }()

	acceptBackOff := newAcceptBackOff()

	for {
		select {
		case <-l.stopSyn:
			return

		default:
			if err := l.ln.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
				log.WithError(err).WithField("listener", l).Warn("Listener failed to set deadline")

				_ = l.ln.Close()
				<-l.stopSyn
				return
			}

			conn, err := l.ln.Accept()
			if isTimeout(err) {
				continue
			} else if err != nil {
				delay := acceptBackOff.NextBackOff()
				log.WithError(err).WithFields(log.Fields{
					"listener": l,
					"retry":    delay,
				}).Warn("Listener failed to accept connection")

				select {
				case <-l.stopSyn:
					return
				case <-time.After(delay):
					continue
				}
			}
			acceptBackOff.Reset()

			if h, err := l.attacher.Attach(conn); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"listener": l,
					"peer":     conn.RemoteAddr(),
				}).Warn("Listener failed to attach connection")
			} else {
				log.WithFields(log.Fields{
					"listener": l,
					"peer":     h.Identity(),
				}).Debug("Listener accepted connection")
			}
		}
	}
}

// Close this Listener. Already attached channels stay open.
func (l *Listener) Close() error {
	close(l.stopSyn)
	<-l.stopAck
	return nil
}
