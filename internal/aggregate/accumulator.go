package aggregate

import (
	"encoding/json"
	"fmt"
	"math/big"

	"vaultledger/internal/events"
	"vaultledger/internal/model"
)

// Accumulator holds aggregate values for one strategy of one vault over a
// window. Debt is integrated over time so the window average can be derived.
type Accumulator struct {
	ChainID      uint64
	Vault        string
	Strategy     string
	WindowStart  uint64
	WindowEnd    uint64
	Reports      uint64
	Gain         *big.Int
	Loss         *big.Int
	ProtocolFees *big.Int
	Debt         *big.Int
	DebtSeconds  *big.Int
	LastTS       uint64

	debtKnown bool
}

// NewAccumulator opens a window. A nil openingDebt is inferred from the
// first event added.
func NewAccumulator(chainID uint64, vault, strategy string, windowStart, windowEnd uint64, openingDebt *big.Int) *Accumulator {
	acc := &Accumulator{
		ChainID:      chainID,
		Vault:        vault,
		Strategy:     strategy,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Gain:         big.NewInt(0),
		Loss:         big.NewInt(0),
		ProtocolFees: big.NewInt(0),
		Debt:         big.NewInt(0),
		DebtSeconds:  big.NewInt(0),
		LastTS:       windowStart,
	}
	if openingDebt != nil {
		acc.Debt.Set(openingDebt)
		acc.debtKnown = true
	}
	return acc
}

func (a *Accumulator) AddEvent(record model.TypedEventRecord) error {
	switch record.EventName {
	case events.StrategyReported:
		var report model.StrategyReportedData
		if err := json.Unmarshal(record.Decoded, &report); err != nil {
			return fmt.Errorf("decode report: %w", err)
		}
		return a.applyReport(record.Timestamp, report)
	case events.DebtUpdated:
		var update model.DebtUpdatedData
		if err := json.Unmarshal(record.Decoded, &update); err != nil {
			return fmt.Errorf("decode debt update: %w", err)
		}
		return a.applyDebtUpdate(record.Timestamp, update)
	default:
		return nil
	}
}

func (a *Accumulator) applyReport(ts uint64, report model.StrategyReportedData) error {
	gain, err := parseBigInt(report.Gain)
	if err != nil {
		return err
	}
	loss, err := parseBigInt(report.Loss)
	if err != nil {
		return err
	}
	debt, err := parseBigInt(report.CurrentDebt)
	if err != nil {
		return err
	}
	fees, err := parseBigInt(report.ProtocolFees)
	if err != nil {
		return err
	}

	if !a.debtKnown {
		opening := new(big.Int).Sub(debt, gain)
		opening.Add(opening, loss)
		a.setOpeningDebt(opening)
	}
	a.Advance(ts)

	a.Gain.Add(a.Gain, gain)
	a.Loss.Add(a.Loss, loss)
	a.ProtocolFees.Add(a.ProtocolFees, fees)
	a.Debt.Set(debt)
	a.Reports++
	return nil
}

func (a *Accumulator) applyDebtUpdate(ts uint64, update model.DebtUpdatedData) error {
	current, err := parseBigInt(update.CurrentDebt)
	if err != nil {
		return err
	}
	next, err := parseBigInt(update.NewDebt)
	if err != nil {
		return err
	}
	if !a.debtKnown {
		a.setOpeningDebt(current)
	}
	a.Advance(ts)
	a.Debt.Set(next)
	return nil
}

func (a *Accumulator) setOpeningDebt(debt *big.Int) {
	if debt.Sign() < 0 {
		debt = big.NewInt(0)
	}
	a.Debt.Set(debt)
	a.debtKnown = true
}

// Advance integrates the current debt up to ts, capped at the window end.
func (a *Accumulator) Advance(ts uint64) {
	if ts > a.WindowEnd {
		ts = a.WindowEnd
	}
	if ts <= a.LastTS {
		return
	}
	elapsed := new(big.Int).SetUint64(ts - a.LastTS)
	a.DebtSeconds.Add(a.DebtSeconds, elapsed.Mul(elapsed, a.Debt))
	a.LastTS = ts
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
