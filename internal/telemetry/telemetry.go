// Package telemetry exposes control-loop counters in Prometheus format.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can take an optional collector without guarding every call.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentrank/internal/store"
)

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	reflections *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rankScore   *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrank_runs_total",
			Help: "Provider executions recorded as runs.",
		}, []string{"success"}),
		reflections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrank_reflections_total",
			Help: "Reflections written.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrank_behavior_transitions_total",
			Help: "Behavior enable/disable transitions made by the optimizer.",
		}, []string{"to"}),
		rankScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentrank_rank_score",
			Help: "Composite rank score from the latest leaderboard.",
		}, []string{"agent"}),
	}
	m.registry.MustRegister(m.runs, m.reflections, m.transitions, m.rankScore)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRun counts one run.
func (m *Metrics) ObserveRun(success bool) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// ObserveReflection counts one reflection of the given kind.
func (m *Metrics) ObserveReflection(kind string) {
	if m == nil {
		return
	}
	m.reflections.WithLabelValues(kind).Inc()
}

// ObserveTransition counts one behavior transition.
func (m *Metrics) ObserveTransition(enabled bool) {
	if m == nil {
		return
	}
	to := "disabled"
	if enabled {
		to = "enabled"
	}
	m.transitions.WithLabelValues(to).Inc()
}

// SetLeaderboard replaces the rank score gauges with rows.
func (m *Metrics) SetLeaderboard(rows []store.LeaderboardRow) {
	if m == nil {
		return
	}
	m.rankScore.Reset()
	for _, r := range rows {
		m.rankScore.WithLabelValues(r.AgentID).Set(r.RankScore)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
