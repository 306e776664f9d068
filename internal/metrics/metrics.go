package metrics

import (
	"tokenkeeper/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "tokenkeeper"
	subsystem = "refresh"

	roleLabel   = "role"
	reasonLabel = "reason"
)

const (
	counterTokensIssued        = "tokens_issued_total"
	counterTokensRotated       = "tokens_rotated_total"
	counterTokensRejected      = "tokens_rejected_total"
	counterQuotaEvictions      = "quota_evictions_total"
	counterFamiliesCompromised = "families_compromised_total"
	counterTokensSwept         = "tokens_swept_total"
	gaugeTokens                = "tokens"
)

const (
	counterDescriptionTokensIssued        = "Number of refresh tokens issued for a new login, by role"
	counterDescriptionTokensRotated       = "Number of successful refresh token rotations, by role"
	counterDescriptionTokensRejected      = "Number of refresh tokens rejected by validation, by internal reason"
	counterDescriptionQuotaEvictions      = "Number of tokens revoked because the per-user limit was reached"
	counterDescriptionFamiliesCompromised = "Number of token families marked as compromised"
	counterDescriptionTokensSwept         = "Number of expired refresh tokens deleted by the retention sweeper"
	gaugeDescriptionTokens                = "Refresh token counts from the last stats query, by state"
)

// API is what the token engine records into.
type API interface {
	TokenIssued(role domain.Role)
	TokenRotated(role domain.Role)
	TokenRejected(reason string)
	QuotaEviction()
	FamilyCompromised()
	TokensSwept(count int64)
	TokenStats(total, active, expired, revoked int64)
}

type MetricsManager struct {
	tokensIssued        *prometheus.CounterVec
	tokensRotated       *prometheus.CounterVec
	tokensRejected      *prometheus.CounterVec
	quotaEvictions      prometheus.Counter
	familiesCompromised prometheus.Counter
	tokensSwept         prometheus.Counter
	tokens              *prometheus.GaugeVec
}

var _ API = (*MetricsManager)(nil)

func NewMetricsManager(registry prometheus.Registerer) *MetricsManager {
	m := &MetricsManager{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      counterTokensIssued,
			Help:      counterDescriptionTokensIssued,
		}, []string{roleLabel}),
		tokensRotated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      counterTokensRotated,
			Help:      counterDescriptionTokensRotated,
		}, []string{roleLabel}),
		tokensRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      counterTokensRejected,
			Help:      counterDescriptionTokensRejected,
		}, []string{reasonLabel}),
		quotaEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      counterQuotaEvictions,
			Help:      counterDescriptionQuotaEvictions,
		}),
		familiesCompromised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      counterFamiliesCompromised,
			Help:      counterDescriptionFamiliesCompromised,
		}),
		tokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      counterTokensSwept,
			Help:      counterDescriptionTokensSwept,
		}),
		tokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      gaugeTokens,
			Help:      gaugeDescriptionTokens,
		}, []string{"state"}),
	}

	registry.MustRegister(
		m.tokensIssued,
		m.tokensRotated,
		m.tokensRejected,
		m.quotaEvictions,
		m.familiesCompromised,
		m.tokensSwept,
		m.tokens,
	)
	return m
}

func (m *MetricsManager) TokenIssued(role domain.Role) {
	m.tokensIssued.WithLabelValues(string(role)).Inc()
}

func (m *MetricsManager) TokenRotated(role domain.Role) {
	m.tokensRotated.WithLabelValues(string(role)).Inc()
}

func (m *MetricsManager) TokenRejected(reason string) {
	m.tokensRejected.WithLabelValues(reason).Inc()
}

func (m *MetricsManager) QuotaEviction() {
	m.quotaEvictions.Inc()
}

func (m *MetricsManager) FamilyCompromised() {
	m.familiesCompromised.Inc()
}

func (m *MetricsManager) TokensSwept(count int64) {
	if count > 0 {
		m.tokensSwept.Add(float64(count))
	}
}

func (m *MetricsManager) TokenStats(total, active, expired, revoked int64) {
	m.tokens.WithLabelValues("total").Set(float64(total))
	m.tokens.WithLabelValues("active").Set(float64(active))
	m.tokens.WithLabelValues("expired").Set(float64(expired))
	m.tokens.WithLabelValues("revoked").Set(float64(revoked))
}

// Noop discards everything. It is the default when no registry is wired.
type Noop struct{}

var _ API = Noop{}

func (Noop) TokenIssued(domain.Role)               {}
func (Noop) TokenRotated(domain.Role)              {}
func (Noop) TokenRejected(string)                  {}
func (Noop) QuotaEviction()                        {}
func (Noop) FamilyCompromised()                    {}
func (Noop) TokensSwept(int64)                     {}
func (Noop) TokenStats(int64, int64, int64, int64) {}
