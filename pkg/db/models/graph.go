package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletFirstSeen records the first observation of an address on a chain.
// Written at most once per (address, chain_id); first write wins.
type WalletFirstSeen struct {
	Address        []byte
	ChainID        uint64
	FirstSeenAt    time.Time
	FirstBlock     uint64
	FirstTxHash    []byte
	FirstDirection string // "in" or "out"
}

// WalletGraphEdge aggregates all transfers from one address to another on one
// chain. Counters accumulate monotonically outside of reorg rollback.
type WalletGraphEdge struct {
	SourceAddress []byte
	DestAddress   []byte
	ChainID       uint64
	TransferCount int64
	TotalAmount   decimal.Decimal
	FirstSeen     time.Time
	LastSeen      time.Time
}
