package models

// Anomaly is one detection result, unique per (transfer_id, anomaly_type).
// Re-evaluation overwrites risk_score/flags/details; resolved belongs to the
// analyst workflow and is never written by the scorer.
type Anomaly struct {
	ID          int64
	TransferID  int64
	ChainID     uint64
	AnomalyType string
	RiskScore   float64 // [0,1]
	Flags       []string
	Details     map[string]any
	Address     []byte
	Resolved    bool
}
