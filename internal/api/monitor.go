// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/pkg/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

// Collection of Prometheus metrics to monitor the api.
type Monitor struct {
	// A histogram to measure how long the API requests take to run.
	requestTimer *prometheus.HistogramVec
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	requestTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_api_request_duration_seconds",
		Help:    "Duration of API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	registry.MustRegister(requestTimer)
	return Monitor{requestTimer: requestTimer}
}

// Helper to respond to a request, observing the time it took to handle it.
type MonitoredCallback struct {
	monitor *Monitor
	w       http.ResponseWriter
	r       *http.Request
	route   string
	t       time.Time
}

func (m *Monitor) Callback(w http.ResponseWriter, r *http.Request, route string) MonitoredCallback {
	return MonitoredCallback{monitor: m, w: w, r: r, route: route, t: time.Now()}
}

func (c MonitoredCallback) observe(code int) {
	if c.monitor == nil || c.monitor.requestTimer == nil {
		return
	}
	c.monitor.requestTimer.
		WithLabelValues(c.r.Method, c.route, strconv.Itoa(code)).
		Observe(time.Since(c.t).Seconds())
}

// Respond with the json encoding of body.
func (c MonitoredCallback) Respond(code int, body any) {
	c.observe(code)
	c.w.Header().Set("Content-Type", "application/json")
	c.w.WriteHeader(code)
	if body == nil {
		return
	}
	if err := json.NewEncoder(c.w).Encode(body); err != nil {
		slog.Error("failed to encode response", "route", c.route, "error", err)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RespondError reports err with the status derived from its kind.
func (c MonitoredCallback) RespondError(err error) {
	code := errdefs.Code(err)
	if code >= http.StatusInternalServerError {
		slog.Error("failed to handle request", "method", c.r.Method, "route", c.route, "error", err)
	} else {
		slog.Info("rejected request", "method", c.r.Method, "route", c.route, "status", code, "error", err)
	}
	c.Respond(code, errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}
