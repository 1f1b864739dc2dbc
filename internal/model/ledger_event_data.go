package model

// StrategyReportedData is the decoded payload of a vault StrategyReported log.
// Gain is net of the protocol fee; CurrentDebt is the debt after reconciliation.
type StrategyReportedData struct {
	Strategy     string `json:"strategy"`
	Gain         string `json:"gain"`
	Loss         string `json:"loss"`
	CurrentDebt  string `json:"currentDebt"`
	ProtocolFees string `json:"protocolFees"`
}

// DebtUpdatedData is the decoded payload of a vault DebtUpdated log.
type DebtUpdatedData struct {
	Strategy    string `json:"strategy"`
	CurrentDebt string `json:"currentDebt"`
	NewDebt     string `json:"newDebt"`
}
