// Package prom exports observability.ChatObserver events to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duskline/securechat/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ChatObserver exports session lifecycle metrics to Prometheus.
type ChatObserver struct {
	connGauge        prometheus.Gauge
	sessionsGauge    prometheus.Gauge
	handshakeTotal   *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
	authTotal        *prometheus.CounterVec
	deliveryTotal    *prometheus.CounterVec
	closeTotal       *prometheus.CounterVec
}

// NewChatObserver registers chat server metrics on reg.
func NewChatObserver(reg *prometheus.Registry) *ChatObserver {
	o := &ChatObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securechat_connections",
			Help: "Current accepted TCP connection count.",
		}),
		sessionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securechat_sessions_online",
			Help: "Current number of authenticated sessions.",
		}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securechat_handshakes_total",
			Help: "Handshake attempts by result.",
		}, []string{"result"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "securechat_handshake_latency_seconds",
			Help:    "Time to complete the RSA/AES handshake.",
			Buckets: prometheus.DefBuckets,
		}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securechat_auth_total",
			Help: "Login and sign-up attempts by result.",
		}, []string{"result"}),
		deliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securechat_deliveries_total",
			Help: "Routed chat messages by delivery path.",
		}, []string{"result"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securechat_session_closes_total",
			Help: "Session closes by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.sessionsGauge,
		o.handshakeTotal,
		o.handshakeLatency,
		o.authTotal,
		o.deliveryTotal,
		o.closeTotal,
	)
	return o
}

func (o *ChatObserver) ConnCount(n int64) { o.connGauge.Set(float64(n)) }

func (o *ChatObserver) SessionsOnline(n int) { o.sessionsGauge.Set(float64(n)) }

func (o *ChatObserver) Handshake(result observability.HandshakeResult, d time.Duration) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
	o.handshakeLatency.Observe(d.Seconds())
}

func (o *ChatObserver) Auth(result observability.AuthResult) {
	o.authTotal.WithLabelValues(string(result)).Inc()
}

func (o *ChatObserver) Delivery(result observability.DeliveryResult) {
	o.deliveryTotal.WithLabelValues(string(result)).Inc()
}

func (o *ChatObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}
