package model

import "fmt"

// LogRecord is one raw ledger log as stored by the simulate and index
// commands. RunID is set only for simulated logs.
type LogRecord struct {
	RunID       string   `json:"run_id,omitempty"`
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Timestamp   uint64   `json:"timestamp"`
	IngestedAt  string   `json:"ingested_at"`
}

// Topic0 returns the event id topic, or "" for an anonymous log.
func (lr LogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return lr.Topics[0]
}

// Key identifies the log within its chain. It matches the vault_events
// primary key.
func (lr LogRecord) Key() string {
	return fmt.Sprintf("%d:%s:%d", lr.ChainID, lr.TxHash, lr.LogIndex)
}
