package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	SessionsCreatedTotal     prometheus.Counter
	SessionsRevokedTotal     prometheus.Counter
	SessionsSweptTotal       prometheus.Counter
	TokenValidationsTotal    *prometheus.CounterVec
	ServiceTokensMintedTotal prometheus.Counter
	ExchangeFailuresTotal    prometheus.Counter
	ActiveSessionsGauge      prometheus.Gauge
)

// Init initializes and registers the issuer's Prometheus metrics. Call once
// at startup before serving traffic.
func Init(reg prometheus.Registerer) {
	SessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegate_sessions_created_total",
		Help: "Total number of sessions created by token exchange.",
	})
	SessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegate_sessions_revoked_total",
		Help: "Total number of session revocations applied.",
	})
	SessionsSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegate_sessions_swept_total",
		Help: "Total number of expired sessions removed by the sweep.",
	})
	TokenValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hivegate_token_validations_total",
		Help: "Token validation outcomes, labelled by result.",
	}, []string{"result"})
	ServiceTokensMintedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegate_service_tokens_minted_total",
		Help: "Total number of service-to-service tokens minted.",
	})
	ExchangeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegate_exchange_failures_total",
		Help: "Total number of identity-provider exchanges that failed.",
	})
	ActiveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivegate_active_sessions",
		Help: "Current number of sessions in the registry.",
	})

	if reg == nil {
		log.Error().Msg("prometheus registry is nil, metrics not registered")
		return
	}

	collectors := []prometheus.Collector{
		SessionsCreatedTotal,
		SessionsRevokedTotal,
		SessionsSweptTotal,
		TokenValidationsTotal,
		ServiceTokensMintedTotal,
		ExchangeFailuresTotal,
		ActiveSessionsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
}

// ObserveValidation records a validation outcome. Safe to call before Init
// only in tests that never scrape.
func ObserveValidation(result string) {
	if TokenValidationsTotal != nil {
		TokenValidationsTotal.WithLabelValues(result).Inc()
	}
}
