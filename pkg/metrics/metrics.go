// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

// Package metrics exposes Prometheus instrumentation for signing sessions,
// anchor capture, hardware-token probes and the local HTTP surface.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "digital_signer"

	LabelMode    = "mode"
	LabelFlow    = "flow"
	LabelOutcome = "outcome"
	LabelStatus  = "status"
	LabelMethod  = "method"
	LabelCode    = "status_code"

	OutcomeSuccess = "success"
)

var (
	// SignAttempts counts sign calls by mode, flow and classified outcome
	// (success or the error kind).
	SignAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "signing",
			Name:      "attempts_total",
			Help:      "Sign calls by mode, flow and outcome",
		},
		[]string{LabelMode, LabelFlow, LabelOutcome},
	)

	SignDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "signing",
			Name:      "duration_seconds",
			Help:      "Duration of backend sign calls in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelMode},
	)

	AnchorsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "capture",
			Name:      "anchors_total",
			Help:      "Signature anchors appended to sessions",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_sessions",
			Help:      "Signing sessions not yet dismissed",
		},
	)

	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "usb",
			Name:      "probes_total",
			Help:      "Hardware token probes by result status",
		},
		[]string{LabelStatus},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelCode},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

func RecordSign(mode, flow, outcome string, duration time.Duration) {
	if !enabled.Load() {
		return
	}
	SignAttempts.WithLabelValues(mode, flow, outcome).Inc()
	SignDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func RecordAnchor() {
	if !enabled.Load() {
		return
	}
	AnchorsCaptured.Inc()
}

func RecordProbe(status string) {
	if !enabled.Load() {
		return
	}
	ProbeResults.WithLabelValues(status).Inc()
}

func SessionOpened() {
	if enabled.Load() {
		ActiveSessions.Inc()
	}
}

func SessionClosed() {
	if enabled.Load() {
		ActiveSessions.Dec()
	}
}

func Enable()  { enabled.Store(true) }
func Disable() { enabled.Store(false) }

func IsEnabled() bool { return enabled.Load() }

// HTTPMiddleware records request counts and latency.
//
//	router := chi.NewRouter()
//	router.Use(metrics.HTTPMiddleware)
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Hijack lets the preview websocket upgrade through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack no soportado")
	}
	w.written = true
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
