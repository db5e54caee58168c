// Package metrics exports authentication outcomes to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adeilh/go-handshake/auth"
)

// Recorder implements auth.Observer.
type Recorder struct {
	Requests   *prometheus.CounterVec
	Handshakes *prometheus.CounterVec
	Errors     *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

var _ auth.Observer = (*Recorder)(nil)

// New registers the collectors with reg; nil uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handshake_auth_requests_total",
			Help: "Authenticated requests by resulting status and reason",
		}, []string{"status", "reason"}),
		Handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handshake_auth_redirects_total",
			Help: "Handshake redirects issued, by reason",
		}, []string{"reason"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handshake_auth_errors_total",
			Help: "Fatal authentication errors by kind",
		}, []string{"kind"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handshake_auth_duration_seconds",
			Help:    "Duration of request authentication",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"status"}),
	}
}

func (r *Recorder) ObserveRequestState(_ context.Context, state auth.RequestState, elapsed time.Duration) {
	status := string(state.Status)
	if state.IsError() {
		status = "error"
		r.Errors.WithLabelValues(string(state.Err.Kind)).Inc()
	}
	r.Requests.WithLabelValues(status, string(state.Reason)).Inc()
	if state.Status == auth.StatusHandshake && !state.IsError() {
		r.Handshakes.WithLabelValues(string(state.Reason)).Inc()
	}
	r.Duration.WithLabelValues(status).Observe(elapsed.Seconds())
}
