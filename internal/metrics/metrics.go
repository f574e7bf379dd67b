// Package metrics holds the prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkout"

type Metrics struct {
	checkoutRequests *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	paymentAttempts  *prometheus.CounterVec
	recoveryActions  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkoutRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Checkout calls by outcome.",
		}, []string{"outcome"}),
		checkoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "duration_seconds",
			Help:    "Checkout latency by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		paymentAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_attempts_total",
			Help: "Payment capture attempts by outcome.",
		}, []string{"outcome"}),
		recoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "recovery_actions_total",
			Help: "Actions taken by the recovery sweep.",
		}, []string{"action"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP latency by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.checkoutRequests, m.checkoutDuration, m.paymentAttempts,
		m.recoveryActions, m.httpRequests, m.httpDuration)
	return m
}

func (m *Metrics) Checkout(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkoutRequests.WithLabelValues(outcome).Inc()
	m.checkoutDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) PaymentAttempt(outcome string) {
	if m == nil {
		return
	}
	m.paymentAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Recovery(action string) {
	if m == nil {
		return
	}
	m.recoveryActions.WithLabelValues(action).Inc()
}

func (m *Metrics) HTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
