package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is one recorded stablecoin transfer event. The idempotency key is
// (chain_id, tx_hash, log_index); ID is the durable identity assigned on first
// insert and returned unchanged for duplicates.
type Transfer struct {
	ID             int64
	ChainID        uint64
	BlockNumber    uint64
	BlockHash      []byte
	TxHash         []byte
	LogIndex       int32
	TokenAddress   []byte
	FromAddress    []byte
	ToAddress      []byte
	Amount         decimal.Decimal
	TokenSymbol    string
	TokenDecimals  int16
	BlockTimestamp time.Time
}

// HumanAmount converts the raw on-chain amount to token units.
func (t *Transfer) HumanAmount() float64 {
	f, _ := t.Amount.Div(decimal.New(1, int32(t.TokenDecimals))).Float64()
	return f
}

// KnownToken is one watched stablecoin contract.
type KnownToken struct {
	ChainID      uint64
	TokenAddress []byte
	Symbol       string
	Decimals     int16
}
