// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package status serves a Reactor's channels and metrics over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockpipe/pkg/reactor"
)

// Source of the served information, implemented by *reactor.Reactor.
type Source interface {
	Channels() []reactor.Status
	Metrics() prometheus.Gatherer
}

// ChannelsResponse for GET /channels.
type ChannelsResponse struct {
	Channels []reactor.Status `json:"channels"`
}

// Handler routes the status API.
type Handler struct {
	router *mux.Router
	source Source
}

// NewHandler for a Source.
func NewHandler(source Source) *Handler {
	h := &Handler{
		router: mux.NewRouter(),
		source: source,
	}

	h.router.HandleFunc("/channels", h.handleChannels).Methods(http.MethodGet)
	h.router.Handle("/metrics", promhttp.HandlerFor(source.Metrics(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// handleChannels processes /channels GET requests.
func (h *Handler) handleChannels(w http.ResponseWriter, _ *http.Request) {
	resp := ChannelsResponse{Channels: h.source.Channels()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Warn("Failed to write channels response")
	}
}

// Server for the status API.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve the status API on an address in the background.
func Serve(address string, source Source) (*Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewHandler(source),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("address", ln.Addr()).Warn("Status server failed")
		}
	}()

	log.WithField("address", ln.Addr()).Info("Serving status API")
	return s, nil
}

// Addr of the listening socket.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close the Server gracefully.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
