package models

import "time"

// Checkpoint is the durable per-chain ingestion cursor. One row per chain,
// owned exclusively by that chain's ingestion task.
type Checkpoint struct {
	ChainID          uint64
	LastIndexedBlock uint64
	LastBlockHash    []byte
	UpdatedAt        time.Time
}

// BlockHash is one entry in the per-chain hash ledger used for reorg
// comparison. Superseded rows are overwritten during rollback.
type BlockHash struct {
	ChainID     uint64
	BlockNumber uint64
	BlockHash   []byte
	ParentHash  []byte
}
