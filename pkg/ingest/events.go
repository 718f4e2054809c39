package ingest

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/anomaly"
	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/utils"
)

// Stream names for downstream consumers.
const (
	StreamTransfers = "stableguard:transfers"
	StreamAnomalies = "stableguard:anomalies"
	StreamReorgs    = "stableguard:reorgs"
)

// Publisher pushes pipeline events onto redis streams. A nil client disables
// publishing entirely; every method is a no-op then, so the pipeline never
// depends on redis being up.
type Publisher struct {
	logger *zap.Logger
	client *redis.Client
	maxLen int64
}

// NewPublisher connects to REDIS_ADDR. Empty REDIS_ADDR disables publishing.
func NewPublisher(ctx context.Context, logger *zap.Logger) (*Publisher, error) {
	addr := utils.Env("REDIS_ADDR", "")
	if addr == "" {
		logger.Info("Event publishing disabled, REDIS_ADDR not set")
		return &Publisher{logger: logger}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: utils.Env("REDIS_PASSWORD", ""),
		DB:       utils.EnvInt("REDIS_DB", 0),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	logger.Info("Event publisher connected", zap.String("addr", addr))
	return &Publisher{
		logger: logger,
		client: client,
		maxLen: int64(utils.EnvInt("EVENT_STREAM_MAXLEN", 100_000)),
	}, nil
}

func (p *Publisher) publish(ctx context.Context, stream string, values map[string]any) {
	if p.client == nil {
		return
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		// Publishing is best effort; the durable record already exists.
		p.logger.Warn("Event publish failed",
			zap.String("stream", stream),
			zap.Error(err))
	}
}

// PublishTransfer announces a freshly recorded transfer.
func (p *Publisher) PublishTransfer(ctx context.Context, t *models.Transfer) {
	p.publish(ctx, StreamTransfers, map[string]any{
		"transfer_id":  t.ID,
		"chain_id":     t.ChainID,
		"block_number": t.BlockNumber,
		"tx_hash":      utils.HexAddress(t.TxHash),
		"token":        t.TokenSymbol,
		"from":         utils.HexAddress(t.FromAddress),
		"to":           utils.HexAddress(t.ToAddress),
		"amount":       t.Amount.String(),
	})
}

// PublishAnomaly announces a finding.
func (p *Publisher) PublishAnomaly(ctx context.Context, t *models.Transfer, f *anomaly.Finding) {
	p.publish(ctx, StreamAnomalies, map[string]any{
		"transfer_id":  t.ID,
		"chain_id":     t.ChainID,
		"anomaly_type": f.Type,
		"risk_score":   f.RiskScore,
		"address":      utils.HexAddress(f.Address),
	})
}

// PublishReorg announces a completed rollback.
func (p *Publisher) PublishReorg(ctx context.Context, chainID, fromTip, toHeight uint64) {
	p.publish(ctx, StreamReorgs, map[string]any{
		"chain_id":  chainID,
		"from_tip":  fromTip,
		"to_height": toHeight,
		"depth":     fromTip - toHeight,
	})
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
