// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// sockpiped is a framed echo daemon, serving each TCP channel through a single Reactor.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := loadConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}
	configureLogging(conf.Logging)

	d, err := startDaemon(conf)
	if err != nil {
		log.WithError(err).Fatal("Failed to start daemon")
	}

	watcher, err := watchConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Warn("Failed to watch configuration file, changes require a restart")
	}

	waitSigint()
	log.Info("Shutting down..")

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Closing configuration watcher errored")
		}
	}

	if err := d.Close(); err != nil {
		log.WithError(err).Warn("Shutting down errored")
	}
}
