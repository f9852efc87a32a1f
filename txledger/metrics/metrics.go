// Package metrics holds the prometheus collectors of the ledger. A nil
// *Metrics is valid and records nothing, so components can be built without
// a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "txledger"

// Send results recorded by ObserveSend.
const (
	SendResultSent     = "sent"
	SendResultSendFail = "sendfail"
	SendResultResync   = "resync"
	SendResultRejected = "rejected"
	SendResultFubar    = "fubar"
	SendResultLocked   = "locked"
)

type Metrics struct {
	sendResults   *prometheus.CounterVec
	noncesIssued  prometheus.Counter
	refills       *prometheus.CounterVec
	resends       *prometheus.CounterVec
	syncHeight    *prometheus.GaugeVec
	filterMatches *prometheus.CounterVec
	auditGroups   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sendResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sender",
			Name:      "send_results_total",
			Help:      "Transaction submissions by classified result",
		}, []string{"result"}),
		noncesIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nonce",
			Name:      "issued_total",
			Help:      "Nonces issued by the allocator",
		}),
		refills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sender",
			Name:      "refills_total",
			Help:      "Gas refill transactions by kind (funding or zero value)",
		}, []string{"kind"}),
		resends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sender",
			Name:      "resends_total",
			Help:      "Resends with higher gas by trigger",
		}, []string{"trigger"}),
		syncHeight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "syncer",
			Name:      "block_height",
			Help:      "Last block fully processed by a syncer",
		}, []string{"role"}),
		filterMatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncer",
			Name:      "filter_matches_total",
			Help:      "Transactions claimed or processed by each filter",
		}, []string{"filter"}),
		auditGroups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "groups_total",
			Help:      "Nonce groups handled by the auditor by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveSend(result string) {
	if m == nil {
		return
	}
	m.sendResults.WithLabelValues(result).Inc()
}

func (m *Metrics) NonceIssued() {
	if m == nil {
		return
	}
	m.noncesIssued.Inc()
}

func (m *Metrics) Refill(zeroValue bool) {
	if m == nil {
		return
	}
	kind := "funding"
	if zeroValue {
		kind = "zero_value"
	}
	m.refills.WithLabelValues(kind).Inc()
}

func (m *Metrics) Resend(trigger string) {
	if m == nil {
		return
	}
	m.resends.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SyncHeight(role string, height uint64) {
	if m == nil {
		return
	}
	m.syncHeight.WithLabelValues(role).Set(float64(height))
}

func (m *Metrics) FilterMatch(filter string) {
	if m == nil {
		return
	}
	m.filterMatches.WithLabelValues(filter).Inc()
}

func (m *Metrics) AuditGroup(outcome string) {
	if m == nil {
		return
	}
	m.auditGroups.WithLabelValues(outcome).Inc()
}
