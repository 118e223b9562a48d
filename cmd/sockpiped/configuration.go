// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging   logConf
	Reactor   reactorConf
	Listen    []listenConf
	Peer      []peerConf
	Discovery discoveryConf
	Status    statusConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// reactorConf describes the Reactor-configuration block, including each channel's buffer capacities.
type reactorConf struct {
	MaxEvents      int `toml:"max-events"`
	InboundBuffer  int `toml:"inbound-buffer"`
	OutboundBuffer int `toml:"outbound-buffer"`
}

// listenConf describes a Listen-configuration block.
type listenConf struct {
	Endpoint string
}

// peerConf describes a Peer-configuration block.
type peerConf struct {
	Endpoint string
	Retries  uint64
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// statusConf describes the Status-configuration block.
type statusConf struct {
	Listen string
}

// loadConfig from a TOML file and validate it.
func loadConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	err = conf.validate()
	return
}

// validate the configuration, reporting all problems at once.
func (conf tomlConfig) validate() (err error) {
	if logErr := conf.Logging.validate(); logErr != nil {
		err = multierror.Append(err, logErr)
	}

	if conf.Reactor.MaxEvents < 0 {
		err = multierror.Append(err, fmt.Errorf("reactor.max-events is negative"))
	}
	if conf.Reactor.InboundBuffer < 0 {
		err = multierror.Append(err, fmt.Errorf("reactor.inbound-buffer is negative"))
	}
	if conf.Reactor.OutboundBuffer < 0 {
		err = multierror.Append(err, fmt.Errorf("reactor.outbound-buffer is negative"))
	}

	for i, listen := range conf.Listen {
		if _, _, splitErr := net.SplitHostPort(listen.Endpoint); splitErr != nil {
			err = multierror.Append(err, fmt.Errorf("listen %d: %w", i, splitErr))
		}
	}

	for i, peer := range conf.Peer {
		if host, _, splitErr := net.SplitHostPort(peer.Endpoint); splitErr != nil {
			err = multierror.Append(err, fmt.Errorf("peer %d: %w", i, splitErr))
		} else if host == "" {
			err = multierror.Append(err, fmt.Errorf("peer %d: endpoint misses a host", i))
		}
	}

	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if len(conf.Listen) == 0 {
			err = multierror.Append(err, fmt.Errorf("discovery requires at least one listen block"))
		}
		if conf.Discovery.Interval == 0 {
			err = multierror.Append(err, fmt.Errorf("discovery.interval must be positive"))
		}
	}

	if conf.Status.Listen != "" {
		if _, _, splitErr := net.SplitHostPort(conf.Status.Listen); splitErr != nil {
			err = multierror.Append(err, fmt.Errorf("status.listen: %w", splitErr))
		}
	}

	return
}

func (conf logConf) validate() (err error) {
	if conf.Level != "" {
		if _, lvlErr := log.ParseLevel(conf.Level); lvlErr != nil {
			err = multierror.Append(err, fmt.Errorf("logging.level: %w", lvlErr))
		}
	}

	switch conf.Format {
	case "", "text", "json":
	default:
		err = multierror.Append(err, fmt.Errorf("logging.format: unknown format %q", conf.Format))
	}

	return
}

// configureLogging applies a validated Logging-configuration block.
func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// configWatcher re-applies the Logging-configuration block whenever the configuration file changes.
type configWatcher struct {
	filename string
	watcher  *fsnotify.Watcher

	stopSyn chan struct{}
	stopAck chan struct{}
}

// watchConfig starts watching the configuration file's directory, which also catches editors replacing the file.
func watchConfig(filename string) (*configWatcher, error) {
	filename, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(filename)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	cw := &configWatcher{
		filename: filename,
		watcher:  watcher,
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}
	go cw.handle()

	return cw, nil
}

func (cw *configWatcher) handle() {
	defer close(cw.stopAck)

	for {
		select {
		case <-cw.stopSyn:
			return

		case e, ok := <-cw.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				<-cw.stopSyn
				return
			}

			if filepath.Clean(e.Name) != cw.filename || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cw.reload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				<-cw.stopSyn
				return
			}

			log.WithError(err).Warn("fsnotify errored")
		}
	}
}

func (cw *configWatcher) reload() {
	var conf tomlConfig
	if _, err := toml.DecodeFile(cw.filename, &conf); err != nil {
		log.WithError(err).WithField("file", cw.filename).Warn("Failed to reload configuration")
		return
	}

	if err := conf.Logging.validate(); err != nil {
		log.WithError(err).WithField("file", cw.filename).Warn("Reloaded logging configuration is invalid")
		return
	}

	configureLogging(conf.Logging)
	log.WithField("file", cw.filename).Info("Reloaded logging configuration")
}

// Close the watcher.
func (cw *configWatcher) Close() error {
	close(cw.stopSyn)
	<-cw.stopAck

	return cw.watcher.Close()
}
