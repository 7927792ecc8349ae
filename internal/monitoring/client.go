package monitoring

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"eino_counsel/internal/safety"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// RequestMetrics describes one finished turn
type RequestMetrics struct {
	UserID    string
	SessionID string
	Tier      string
	Model     string
	Outcome   string
	Latency   time.Duration
}

// Monitor is the fire-and-forget monitoring sink. Events go to the structured
// log and to Prometheus collectors.
type Monitor struct {
	log             zerolog.Logger
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	crisisAlerts    prometheus.Counter
	componentErrors *prometheus.CounterVec
	failureSignals  *prometheus.CounterVec
}

// NewMonitor creates a monitor and registers its collectors with reg. A nil
// reg leaves the collectors unregistered.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		log: logger.Component("monitoring"),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counsel",
			Name:      "requests_total",
			Help:      "Turns processed, by tier, model and outcome.",
		}, []string{"tier", "model", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "counsel",
			Name:      "request_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counsel",
			Name:      "classifications_total",
			Help:      "Risk classifications, by tier.",
		}, []string{"tier"}),
		crisisAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counsel",
			Name:      "crisis_alerts_total",
			Help:      "Crisis alerts raised.",
		}),
		componentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counsel",
			Name:      "component_errors_total",
			Help:      "Errors, by component.",
		}, []string{"component"}),
		failureSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counsel",
			Name:      "response_failure_signals_total",
			Help:      "Quality signals detected in delivered responses.",
		}, []string{"signal"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.requests,
			m.latency,
			m.classifications,
			m.crisisAlerts,
			m.componentErrors,
			m.failureSignals,
		)
	}
	return m
}

// LogRequest records a finished turn
func (m *Monitor) LogRequest(r RequestMetrics) {
	m.requests.WithLabelValues(r.Tier, r.Model, r.Outcome).Inc()
	m.latency.WithLabelValues(r.Outcome).Observe(r.Latency.Seconds())

	m.log.Info().
		Str("user_id", r.UserID).
		Str("session_id", r.SessionID).
		Str("tier", r.Tier).
		Str("model", r.Model).
		Str("outcome", r.Outcome).
		Float64("latency_ms", float64(r.Latency.Microseconds())/1000).
		Msg("request metrics")
}

// LogClassification records a classifier decision. Only a hash prefix of the
// message is logged.
func (m *Monitor) LogClassification(userID, message string, result pkg.ClassificationResult) {
	m.classifications.WithLabelValues(result.Tier.String()).Inc()

	m.log.Info().
		Str("user_id", userID).
		Str("input_hash", InputHash(message)).
		Str("tier", result.Tier.String()).
		Float64("confidence", result.Confidence).
		Str("topic", result.Topic).
		Strs("indicators", result.Indicators).
		Msg("classification")
}

// AlertCrisis raises a crisis alert for userID
func (m *Monitor) AlertCrisis(userID, reason string) {
	m.crisisAlerts.Inc()

	m.log.Error().
		Str("alert", "crisis").
		Str("user_id", userID).
		Str("reason", reason).
		Msg("CRISIS ALERT")
}

// LogError records a failure attributed to component
func (m *Monitor) LogError(component string, err error) {
	m.componentErrors.WithLabelValues(component).Inc()

	m.log.Error().
		Err(err).
		Str("failed_component", component).
		Msg("component error")
}

// LogFailureSignals records quality signals found in a delivered response
func (m *Monitor) LogFailureSignals(userID string, signals []safety.FailureSignal) {
	if len(signals) == 0 {
		return
	}
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = string(s)
		m.failureSignals.WithLabelValues(names[i]).Inc()
	}

	m.log.Warn().
		Str("user_id", userID).
		Strs("signals", names).
		Msg("response failure signals")
}

// InputHash returns a short SHA-256 prefix identifying message
func InputHash(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:8])
}
