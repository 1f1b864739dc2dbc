package model

// DecodeError records a raw log line that could not be decoded.
type DecodeError struct {
	RunID       string `json:"run_id,omitempty"`
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}

// NewDecodeError ties err to the log it was raised for.
func NewDecodeError(record LogRecord, err error) DecodeError {
	return DecodeError{
		RunID:       record.RunID,
		ChainID:     record.ChainID,
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		Address:     record.Address,
		Topic0:      record.Topic0(),
		Error:       err.Error(),
	}
}
