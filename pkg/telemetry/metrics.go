// Package telemetry exposes rngwatch's live counters as Prometheus
// metrics: promauto registration against a dedicated registry and
// promhttp exposition at /metrics, with a short heartbeat history
// served at /history.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jihwankim/rngwatch/pkg/coordinator"
	"github.com/jihwankim/rngwatch/pkg/detector"
)

// historyCapacity bounds the in-memory heartbeat history exposed at
// /history; a plotting front-end is out of scope, but the bias-over-
// time series it would consume still needs somewhere to live.
const historyCapacity = 512

// Metrics holds the Prometheus collectors rngwatch exports while a
// watch run is in progress, plus a short in-memory heartbeat history
// for /history.
type Metrics struct {
	registry *prometheus.Registry
	history  *History

	bitsTotal      *prometheus.CounterVec
	onesTotal      *prometheus.CounterVec
	anomaliesTotal *prometheus.CounterVec
	aggregateBPS   prometheus.Gauge
	onesRatio      prometheus.Gauge
	windowRatio    prometheus.Gauge
}

// NewMetrics constructs a fresh, independently registered Metrics
// instance so multiple watch runs in the same process (e.g. in tests)
// never collide on global registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		history:  NewHistory(historyCapacity),
		bitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rngwatch_bits_total",
			Help: "Total bits processed, labeled by worker.",
		}, []string{"proc"}),
		onesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rngwatch_ones_total",
			Help: "Total ones observed, labeled by worker.",
		}, []string{"proc"}),
		anomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rngwatch_anomalies_total",
			Help: "Total anomalies detected, labeled by test name.",
		}, []string{"test"}),
		aggregateBPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rngwatch_aggregate_bits_per_second",
			Help: "Aggregate bit processing rate across all workers.",
		}),
		onesRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rngwatch_ones_ratio_global",
			Help: "Cumulative fraction of ones across all bits processed so far.",
		}),
		windowRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rngwatch_ones_ratio_window",
			Help: "Fraction of ones across all workers' current APT windows.",
		}),
	}
}

// ObserveAnomaly updates anomaly counters. It does not track per-proc
// bits/ones; those are added through ObserveWorkerSnapshot.
func (m *Metrics) ObserveAnomaly(ev *detector.Event) {
	m.anomaliesTotal.WithLabelValues(ev.Test).Inc()
}

// ObserveHeartbeat snapshots a coordinator.Aggregate onto the gauges
// (each ratio gauge only when the aggregate has that ratio) and records
// it in the heartbeat history. Per-worker counters are not touched.
func (m *Metrics) ObserveHeartbeat(a coordinator.Aggregate) {
	m.aggregateBPS.Set(a.AggregateBPS)
	if a.HasGlobalRatio {
		m.onesRatio.Set(a.OnesRatioGlobal)
	}
	if a.HasWindowRatio {
		m.windowRatio.Set(a.OnesRatioWindow)
	}
	m.history.Record(time.Now(), a)
}

// History returns the heartbeat ring buffer backing /history.
func (m *Metrics) History() *History { return m.history }

// ObserveWorkerSnapshot publishes one worker's incremental
// bits/ones since the last snapshot. Counter.Add requires a
// non-negative delta, so the caller (cmd/rngwatch's metrics bridge)
// is responsible for tracking each worker's last-seen cumulative
// totals and passing only the non-negative difference.
func (m *Metrics) ObserveWorkerSnapshot(proc string, bitsDelta, onesDelta int64) {
	if bitsDelta > 0 {
		m.bitsTotal.WithLabelValues(proc).Add(float64(bitsDelta))
	}
	if onesDelta > 0 {
		m.onesTotal.WithLabelValues(proc).Add(float64(onesDelta))
	}
}

// Serve starts an HTTP server exposing the registry at /metrics on
// addr, returning once ctx is cancelled or the server fails to start.
// An empty addr is a configuration error, not silently ignored, since
// the caller decides whether telemetry is enabled at all.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("telemetry: Serve requires a non-empty listen address")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/history", m.serveHistory)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serveHistory writes the most recent heartbeat samples as a JSON
// array, oldest first, for a bias-over-time front-end to poll.
func (m *Metrics) serveHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.history.Recent(m.history.Len())); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
