// Package metrics exposes vault ledger state and reconciliation outcomes as
// Prometheus metrics.
package metrics

import (
	"math/big"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vaultledger/internal/events"
	"vaultledger/internal/model"
)

const namespace = "vaultledger"

// VaultSnapshot is a point-in-time reading of one vault's accounting.
type VaultSnapshot struct {
	TotalAssets  *uint256.Int
	TotalIdle    *uint256.Int
	TotalDebt    *uint256.Int
	TotalSupply  *uint256.Int
	StrategyDebt map[string]*uint256.Int
}

// Recorder holds the ledger metrics. Amounts are in raw asset units.
type Recorder struct {
	registry *prometheus.Registry

	VaultTotalAssets *prometheus.GaugeVec
	VaultTotalIdle   *prometheus.GaugeVec
	VaultTotalDebt   *prometheus.GaugeVec
	VaultTotalSupply *prometheus.GaugeVec
	StrategyDebt     *prometheus.GaugeVec

	EventsTotal       *prometheus.CounterVec
	ReportsTotal      *prometheus.CounterVec
	ReportGain        *prometheus.CounterVec
	ReportLoss        *prometheus.CounterVec
	ProtocolFees      *prometheus.CounterVec
	ScenarioStepTotal *prometheus.CounterVec
}

// NewRecorder registers the ledger metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		VaultTotalAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "total_assets",
			Help:      "Idle plus total strategy debt",
		}, []string{"vault"}),
		VaultTotalIdle: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "total_idle",
			Help:      "Asset held directly by the vault",
		}, []string{"vault"}),
		VaultTotalDebt: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "total_debt",
			Help:      "Asset attributed to strategies",
		}, []string{"vault"}),
		VaultTotalSupply: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "total_supply",
			Help:      "Outstanding vault shares",
		}, []string{"vault"}),
		StrategyDebt: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "current_debt",
			Help:      "Debt the vault records for a strategy",
		}, []string{"vault", "strategy"}),

		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Ledger events observed",
		}, []string{"event"}),
		ReportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "reports_total",
			Help:      "Processed strategy reports by outcome",
		}, []string{"vault", "strategy", "outcome"}),
		ReportGain: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "gain_total",
			Help:      "Reported gain net of fees",
		}, []string{"vault", "strategy"}),
		ReportLoss: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "loss_total",
			Help:      "Reported loss",
		}, []string{"vault", "strategy"}),
		ProtocolFees: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "protocol_fees_total",
			Help:      "Protocol fees charged on reported gains",
		}, []string{"vault", "strategy"}),
		ScenarioStepTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "steps_total",
			Help:      "Scenario steps executed by action and result",
		}, []string{"action", "result"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the recorder's metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts a decoded event and folds reports into the strategy
// counters.
func (r *Recorder) ObserveEvent(event *model.TypedEvent) {
	if event == nil {
		return
	}
	r.EventsTotal.WithLabelValues(event.EventName).Inc()

	switch event.EventName {
	case events.StrategyReported:
		vault, strategy := event.Address, event.Decoded["strategy"]
		gain := parseFloat(event.Decoded["gain"])
		loss := parseFloat(event.Decoded["loss"])
		outcome := "flat"
		switch {
		case gain > 0:
			outcome = "gain"
		case loss > 0:
			outcome = "loss"
		}
		r.ReportsTotal.WithLabelValues(vault, strategy, outcome).Inc()
		r.ReportGain.WithLabelValues(vault, strategy).Add(gain)
		r.ReportLoss.WithLabelValues(vault, strategy).Add(loss)
		r.ProtocolFees.WithLabelValues(vault, strategy).Add(parseFloat(event.Decoded["protocolFees"]))
		r.StrategyDebt.WithLabelValues(vault, strategy).Set(parseFloat(event.Decoded["currentDebt"]))
	case events.DebtUpdated:
		r.StrategyDebt.WithLabelValues(event.Address, event.Decoded["strategy"]).Set(parseFloat(event.Decoded["newDebt"]))
	case events.StrategyRemoved:
		r.StrategyDebt.DeleteLabelValues(event.Address, event.Decoded["strategy"])
	}
}

// ObserveVault sets the vault gauges from a snapshot.
func (r *Recorder) ObserveVault(vault string, snap VaultSnapshot) {
	r.VaultTotalAssets.WithLabelValues(vault).Set(toFloat(snap.TotalAssets))
	r.VaultTotalIdle.WithLabelValues(vault).Set(toFloat(snap.TotalIdle))
	r.VaultTotalDebt.WithLabelValues(vault).Set(toFloat(snap.TotalDebt))
	r.VaultTotalSupply.WithLabelValues(vault).Set(toFloat(snap.TotalSupply))
	for strategy, debt := range snap.StrategyDebt {
		r.StrategyDebt.WithLabelValues(vault, strategy).Set(toFloat(debt))
	}
}

// ObserveStep counts one scenario step.
func (r *Recorder) ObserveStep(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ScenarioStepTotal.WithLabelValues(action, result).Inc()
}

func toFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value.ToBig()).Float64()
	return f
}

func parseFloat(value string) float64 {
	parsed, ok := new(big.Float).SetString(value)
	if !ok {
		return 0
	}
	f, _ := parsed.Float64()
	return f
}
