// Package ingest drives the block-by-block pipeline for one chain: advance
// classification, reorg detection and rollback, transfer recording, and the
// concurrent fan-out into aggregates, scoring, and attribution.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TransferEvent is one raw stablecoin transfer observed in a block, before
// token filtering and durable recording.
type TransferEvent struct {
	TxHash       []byte
	LogIndex     int32
	TokenAddress []byte
	FromAddress  []byte
	ToAddress    []byte
	Amount       decimal.Decimal
}

// Block is one block delivered by a source, with the transfer events of the
// watched token contracts.
type Block struct {
	Number     uint64
	Hash       []byte
	ParentHash []byte
	Timestamp  time.Time
	Transfers  []TransferEvent
}

// Header identifies a block without its payload.
type Header struct {
	Number     uint64
	Hash       []byte
	ParentHash []byte
}

// BlockSource delivers blocks for one chain. Next blocks until a block is
// available or the context ends. HeaderAt serves the source's current view of
// a height; the reorg walk verifies it against the fork's parent-hash chain
// before trusting it, since it may still be a header from abandoned history.
type BlockSource interface {
	Next(ctx context.Context) (*Block, error)
	HeaderAt(ctx context.Context, number uint64) (*Header, error)
}

// ChannelSource is a BlockSource fed through a channel. It retains the latest
// header it saw per height so HeaderAt can answer during a reorg walk.
type ChannelSource struct {
	blocks chan *Block

	mu      sync.RWMutex
	headers map[uint64]*Header
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{
		blocks:  make(chan *Block, buffer),
		headers: map[uint64]*Header{},
	}
}

// Push queues a block for delivery. The pushed header becomes the source's
// canonical view of that height.
func (s *ChannelSource) Push(ctx context.Context, b *Block) error {
	s.mu.Lock()
	s.headers[b.Number] = &Header{Number: b.Number, Hash: b.Hash, ParentHash: b.ParentHash}
	s.mu.Unlock()

	select {
	case s.blocks <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals that no further blocks will arrive.
func (s *ChannelSource) Close() {
	close(s.blocks)
}

func (s *ChannelSource) Next(ctx context.Context) (*Block, error) {
	select {
	case b, ok := <-s.blocks:
		if !ok {
			return nil, ErrSourceClosed
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ChannelSource) HeaderAt(_ context.Context, number uint64) (*Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.headers[number]
	if !ok {
		return nil, fmt.Errorf("no header at height %d", number)
	}
	return h, nil
}

// ErrSourceClosed is returned by Next once a source is exhausted. The runner
// treats it as a clean shutdown.
var ErrSourceClosed = fmt.Errorf("block source closed")
