package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxzi/wacampaign/internal/apperrors"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for wacampaign
type Metrics struct {
	// Campaign dispatch
	CampaignsDispatchedTotal *prometheus.CounterVec
	CampaignPhonesTotal      prometheus.Counter
	IntentsAbandonedTotal    prometheus.Counter

	// Campaign store gauges
	CampaignsStored *prometheus.GaugeVec
	CampaignPhones  prometheus.Gauge
	OutboxIntents   *prometheus.GaugeVec

	// Gateway
	GatewayCallsTotal          *prometheus.CounterVec
	GatewayCallDurationSeconds *prometheus.HistogramVec

	// Instance lifecycle
	InstanceTransitionsTotal *prometheus.CounterVec
	InstancesByStatus        *prometheus.GaugeVec
	QRHandlesLive            prometheus.Gauge
	PairingOpen              prometheus.Gauge
	PollSkippedTotal         *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wacampaign_campaigns_dispatched_total",
				Help: "Total number of campaign dispatch attempts by outcome",
			},
			[]string{"send_type", "result"},
		),
		CampaignPhonesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wacampaign_campaign_phones_total",
				Help: "Total number of phones handed to the gateway",
			},
		),
		IntentsAbandonedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wacampaign_intents_abandoned_total",
				Help: "Total number of dispatch intents abandoned by the reconciler",
			},
		),

		CampaignsStored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wacampaign_campaigns",
				Help: "Number of stored campaigns by status",
			},
			[]string{"status"},
		),
		CampaignPhones: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wacampaign_campaign_phones",
				Help: "Sum of phone counts over stored campaigns",
			},
		),
		OutboxIntents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wacampaign_outbox_intents",
				Help: "Number of dispatch intents kept in the outbox by state",
			},
			[]string{"state"},
		),

		GatewayCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wacampaign_gateway_calls_total",
				Help: "Total number of webhook calls by call and result",
			},
			[]string{"call", "result"},
		),
		GatewayCallDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wacampaign_gateway_call_duration_seconds",
				Help:    "Webhook call duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"call"},
		),

		InstanceTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wacampaign_instance_transitions_total",
				Help: "Total number of instance lifecycle events by resulting phase",
			},
			[]string{"event", "phase"},
		),
		InstancesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wacampaign_instances",
				Help: "Number of stored instances by status",
			},
			[]string{"status"},
		),
		QRHandlesLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wacampaign_qr_handles_live",
				Help: "Number of QR images held in memory",
			},
		),
		PairingOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wacampaign_pairing_open",
				Help: "1 while a pairing dialog is open",
			},
		),
		PollSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wacampaign_poll_skipped_total",
				Help: "Ticks skipped because the previous iteration was still running",
			},
			[]string{"loop"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wacampaign_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wacampaign_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wacampaign_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wacampaign_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wacampaign_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.CampaignsDispatchedTotal,
		m.CampaignPhonesTotal,
		m.IntentsAbandonedTotal,
		m.CampaignsStored,
		m.CampaignPhones,
		m.OutboxIntents,
		m.GatewayCallsTotal,
		m.GatewayCallDurationSeconds,
		m.InstanceTransitionsTotal,
		m.InstancesByStatus,
		m.QRHandlesLive,
		m.PairingOpen,
		m.PollSkippedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncCampaignDispatched records a dispatch outcome. phones is only counted on success.
func IncCampaignDispatched(sendType string, err error, phones int) {
	m := Global()
	if m == nil {
		return
	}
	result := resultLabel(err)
	m.CampaignsDispatchedTotal.WithLabelValues(sendType, result).Inc()
	if err == nil {
		m.CampaignPhonesTotal.Add(float64(phones))
	}
}

// IncIntentsAbandoned increments the abandoned intent counter
func IncIntentsAbandoned(n int) {
	m := Global()
	if m != nil {
		m.IntentsAbandonedTotal.Add(float64(n))
	}
}

// ObserveGatewayCall records one webhook call
func ObserveGatewayCall(call string, err error, d time.Duration) {
	m := Global()
	if m == nil {
		return
	}
	m.GatewayCallsTotal.WithLabelValues(call, resultLabel(err)).Inc()
	m.GatewayCallDurationSeconds.WithLabelValues(call).Observe(d.Seconds())
}

// IncInstanceTransition counts a lifecycle event and the phase it produced
func IncInstanceTransition(event, phase string) {
	m := Global()
	if m != nil {
		m.InstanceTransitionsTotal.WithLabelValues(event, phase).Inc()
	}
}

// SetQRHandlesLive sets the live QR handle gauge
func SetQRHandlesLive(n int) {
	m := Global()
	if m != nil {
		m.QRHandlesLive.Set(float64(n))
	}
}

// SetPairingOpen sets the pairing dialog gauge
func SetPairingOpen(open bool) {
	m := Global()
	if m == nil {
		return
	}
	if open {
		m.PairingOpen.Set(1)
	} else {
		m.PairingOpen.Set(0)
	}
}

// IncPollSkipped counts a skipped tick for loop
func IncPollSkipped(loop string) {
	m := Global()
	if m != nil {
		m.PollSkippedTotal.WithLabelValues(loop).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var (
		ve *apperrors.ValidationError
		ge *apperrors.GatewayError
		pe *apperrors.ParseError
		se *apperrors.StoreError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ge):
		return "gateway"
	case errors.As(err, &pe):
		return "parse"
	case errors.As(err, &se):
		return "store"
	default:
		return "error"
	}
}
