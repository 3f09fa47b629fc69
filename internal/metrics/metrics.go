package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	InboundMessages     *prometheus.CounterVec
	AttachmentDownloads *prometheus.CounterVec
	CallbackDispatches  *prometheus.CounterVec
	TokenRequests       *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dingtalk_inbound_messages_total",
				Help:      "Total inbound DingTalk webhook messages by type and status.",
			}, []string{"type", "status"}),
			AttachmentDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dingtalk_attachment_downloads_total",
				Help:      "Total attachment download attempts by outcome.",
			}, []string{"status"}),
			CallbackDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dingtalk_callback_dispatches_total",
				Help:      "Total session-webhook reply dispatches by outcome.",
			}, []string{"status"}),
			TokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dingtalk_token_requests_total",
				Help:      "Total access-token endpoint calls by outcome.",
			}, []string{"status"}),
		}

		prometheus.MustRegister(
			metricsInstance.InboundMessages,
			metricsInstance.AttachmentDownloads,
			metricsInstance.CallbackDispatches,
			metricsInstance.TokenRequests,
		)
	})
	return metricsInstance
}
