// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package reactor

import (
	"errors"
	"sync"
)

var (
	defaultMutex   sync.Mutex
	defaultReactor *Reactor
)

// ErrNotInitialized is returned by Shutdown if Init was not called before.
var ErrNotInitialized = errors.New("default reactor is not initialized")

// Init creates and starts the process-wide default Reactor. Calling Init again without Shutdown returns the existing one.
func Init(config Config) (*Reactor, error) {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()

	if defaultReactor != nil {
		return defaultReactor, nil
	}

	r, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := r.Start(); err != nil {
		_ = r.Close()
		return nil, err
	}

	defaultReactor = r
	return r, nil
}

// Default returns the process-wide Reactor or nil, if Init was not called.
func Default() *Reactor {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()

	return defaultReactor
}

// Shutdown closes the process-wide Reactor. Afterwards, Init might be called again.
func Shutdown() error {
	defaultMutex.Lock()
	r := defaultReactor
	defaultReactor = nil
	defaultMutex.Unlock()

	if r == nil {
		return ErrNotInitialized
	}
	return r.Close()
}
