package model

import "time"

// StrategySummary aggregates one strategy's reconciliations in one vault over
// a fixed window. Amounts are decimal strings scaled by the asset decimals.
type StrategySummary struct {
	ChainID        uint64    `json:"chain_id"`
	Vault          string    `json:"vault"`
	Strategy       string    `json:"strategy"`
	WindowSizeSecs int64     `json:"window_size_seconds"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	Reports        uint64    `json:"reports"`
	Gain           string    `json:"gain"`
	Loss           string    `json:"loss"`
	ProtocolFees   string    `json:"protocol_fees"`
	EndDebt        string    `json:"end_debt"`
	AvgDebt        *string   `json:"avg_debt,omitempty"`
	APR            *string   `json:"apr,omitempty"`
}
