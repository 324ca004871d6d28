// Package metrics exposes Prometheus instrumentation for the game link.
//
// All methods are safe to call on a nil *Metrics, so components can be
// built and tested without a registry.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "gamelink"

// Metrics holds the collectors shared by all transports.
type Metrics struct {
	sent      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	failouts  *prometheus.CounterVec
	received  *prometheus.CounterVec
	badProto  *prometheus.CounterVec
	state     *prometheus.GaugeVec
	pending   *prometheus.GaugeVec
	roundTrip *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_total",
			Help:      "Frames delivered, by transport and outcome.",
		}, []string{"transport", "outcome"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Failed delivery attempts.",
		}, []string{"transport"}),
		failouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failouts_total",
			Help:      "Items abandoned after repeated failures.",
		}, []string{"transport"}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_total",
			Help:      "Inbound frames, by transport and command.",
		}, []string{"transport", "cmd"}),
		badProto: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bad_proto_total",
			Help:      "Frames that could not be decoded.",
		}, []string{"transport"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0=none .. 5=closing).",
		}, []string{"transport"}),
		pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_pending",
			Help:      "Items waiting in the retry ledger.",
		}, []string{"transport"}),
		roundTrip: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Time from connect to reply for successful exchanges.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"transport"}),
	}
}

// Sent counts a delivered frame.
func (m *Metrics) Sent(transport, outcome string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(transport, outcome).Inc()
}

// Failed counts a failed attempt.
func (m *Metrics) Failed(transport string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(transport).Inc()
}

// Failout counts an abandoned item.
func (m *Metrics) Failout(transport string) {
	if m == nil {
		return
	}
	m.failouts.WithLabelValues(transport).Inc()
}

// Received counts an inbound frame.
func (m *Metrics) Received(transport, cmd string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(transport, cmd).Inc()
}

// BadProto counts an undecodable frame.
func (m *Metrics) BadProto(transport string) {
	if m == nil {
		return
	}
	m.badProto.WithLabelValues(transport).Inc()
}

// SetState records a transport's session state.
func (m *Metrics) SetState(transport string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(transport).Set(float64(state))
}

// SetPending records a transport's ledger size.
func (m *Metrics) SetPending(transport string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(transport).Set(float64(n))
}

// ObserveRoundTrip records the duration of a successful exchange.
func (m *Metrics) ObserveRoundTrip(transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.roundTrip.WithLabelValues(transport).Observe(d.Seconds())
}

// Serve exposes gatherer on addr under /metrics until ctx is cancelled.
// It returns the bound address once listening.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "metrics.Serve",
				"addr":     ln.Addr().String(),
				"error":    err.Error(),
			}).Error("Metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "metrics.Serve",
		"addr":     ln.Addr().String(),
	}).Info("Serving metrics")
	return ln.Addr(), nil
}
