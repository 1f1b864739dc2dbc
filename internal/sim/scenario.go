// Package sim runs scripted scenarios against an in-process factory, vault
// and strategies and exports every emitted log.
package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"vaultledger/internal/fixedpoint"
)

// Strategy kinds.
const (
	KindIdle    = "idle"
	KindLending = "lending"
)

// Scenario describes a deployment and the steps to run against it.
type Scenario struct {
	Name       string         `mapstructure:"name"`
	ChainID    uint64         `mapstructure:"chain_id"`
	Start      string         `mapstructure:"start"`
	Asset      AssetSpec      `mapstructure:"asset"`
	Factory    FactorySpec    `mapstructure:"factory"`
	Vault      VaultSpec      `mapstructure:"vault"`
	Strategies []StrategySpec `mapstructure:"strategies"`
	Steps      []Step         `mapstructure:"steps"`
}

type AssetSpec struct {
	Name     string `mapstructure:"name"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

type FactorySpec struct {
	Owner          string `mapstructure:"owner"`
	ProtocolFeeBps uint16 `mapstructure:"protocol_fee_bps"`
	FeeRecipient   string `mapstructure:"fee_recipient"`
}

type VaultSpec struct {
	Name              string        `mapstructure:"name"`
	Symbol            string        `mapstructure:"symbol"`
	Manager           string        `mapstructure:"manager"`
	Deployer          string        `mapstructure:"deployer"`
	MinReportInterval time.Duration `mapstructure:"min_report_interval"`
}

type StrategySpec struct {
	Name              string `mapstructure:"name"`
	Kind              string `mapstructure:"kind"`
	DebtCeiling       string `mapstructure:"debt_ceiling"`
	PerformanceFeeBps uint16 `mapstructure:"performance_fee_bps"`
	FeeRecipient      string `mapstructure:"fee_recipient"`
	RateBps           uint16 `mapstructure:"rate_bps"`
}

// Step is one scripted action. Account fields take a name or a hex address;
// Strategy takes a strategy name.
type Step struct {
	Action      string        `mapstructure:"action"`
	From        string        `mapstructure:"from"`
	To          string        `mapstructure:"to"`
	Owner       string        `mapstructure:"owner"`
	Strategy    string        `mapstructure:"strategy"`
	Amount      string        `mapstructure:"amount"`
	Duration    time.Duration `mapstructure:"duration"`
	Bps         uint16        `mapstructure:"bps"`
	ExpectError string        `mapstructure:"expect_error"`
}

// Account resolves a name to an address. Hex addresses pass through; any
// other name maps to the last 20 bytes of its keccak256.
func Account(name string) common.Address {
	name = strings.TrimSpace(name)
	if common.IsHexAddress(name) {
		return common.HexToAddress(name)
	}
	return common.BytesToAddress(crypto.Keccak256([]byte(name))[12:])
}

// Validate fills defaults and checks the deployment section.
func (s *Scenario) Validate() error {
	if s.ChainID == 0 {
		s.ChainID = 31337
	}
	if s.Asset.Symbol == "" {
		s.Asset = AssetSpec{Name: "USD Coin", Symbol: "USDC", Decimals: 6}
	}
	if s.Factory.Owner == "" {
		s.Factory.Owner = "owner"
	}
	if s.Vault.Manager == "" {
		s.Vault.Manager = "manager"
	}
	if s.Vault.Deployer == "" {
		s.Vault.Deployer = s.Vault.Manager
	}
	if s.Vault.Name == "" {
		s.Vault.Name = "Vault " + s.Asset.Symbol
	}
	if s.Vault.Symbol == "" {
		s.Vault.Symbol = "v" + s.Asset.Symbol
	}
	if _, err := s.startTime(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(s.Strategies))
	for i := range s.Strategies {
		spec := &s.Strategies[i]
		if spec.Name == "" {
			return fmt.Errorf("strategy %d: name is required", i)
		}
		if _, ok := seen[spec.Name]; ok {
			return fmt.Errorf("strategy %q declared twice", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if spec.Kind == "" {
			spec.Kind = KindIdle
		}
		if spec.Kind != KindIdle && spec.Kind != KindLending {
			return fmt.Errorf("strategy %q: unknown kind %q", spec.Name, spec.Kind)
		}
		if spec.DebtCeiling == "" {
			spec.DebtCeiling = fixedpoint.MaxUint256().Dec()
		}
		if _, err := fixedpoint.Parse(spec.DebtCeiling); err != nil {
			return fmt.Errorf("strategy %q: %w", spec.Name, err)
		}
	}
	for i, step := range s.Steps {
		if _, ok := actions[step.Action]; !ok {
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		if step.Strategy != "" {
			if _, ok := seen[step.Strategy]; !ok {
				return fmt.Errorf("step %d: unknown strategy %q", i, step.Strategy)
			}
		}
	}
	return nil
}

func (s *Scenario) startTime() (time.Time, error) {
	if s.Start == "" {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	start, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("scenario start: %w", err)
	}
	return start.UTC(), nil
}

func (st Step) amount() (*uint256.Int, error) {
	if st.Amount == "" {
		return nil, fmt.Errorf("%s: amount is required", st.Action)
	}
	if strings.EqualFold(st.Amount, "max") {
		return fixedpoint.MaxUint256(), nil
	}
	return fixedpoint.Parse(st.Amount)
}

// or returns value, or fallback when value is empty.
func or(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
