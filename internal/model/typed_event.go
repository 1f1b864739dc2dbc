package model

// TypedEvent is a decoded ledger event. Decoded holds every event argument
// keyed by its ABI name; integers are base-10 strings and addresses are
// checksummed hex.
type TypedEvent struct {
	RunID       string            `json:"run_id,omitempty"`
	ChainID     uint64            `json:"chain_id"`
	BlockNumber uint64            `json:"block_number"`
	TxHash      string            `json:"tx_hash"`
	LogIndex    uint64            `json:"log_index"`
	Address     string            `json:"address"`
	EventName   string            `json:"event_name"`
	Timestamp   uint64            `json:"timestamp"`
	Decoded     map[string]string `json:"decoded"`
	Raw         *RawLogRef        `json:"raw,omitempty"`
}

// RawLogRef keeps a minimal raw reference for traceability.
type RawLogRef struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
}
