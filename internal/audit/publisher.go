package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
)

// Publisher pushes committed ledger logs onto the audit queue.
type Publisher struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewPublisher(rdb *redis.Client, log *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log}
}

// Publish is a ledger.Subscriber. The logs of one call are pushed in a
// single RPUSH so consumers see them contiguously and in order.
func (p *Publisher) Publish(ctx context.Context, logs []ledger.Log) {
	if len(logs) == 0 {
		return
	}
	items := make([]any, 0, len(logs))
	for _, l := range logs {
		payload, err := json.Marshal(l.Event)
		if err != nil {
			p.log.Error("audit: marshal event", zap.String("event", l.Event.EventName()), zap.Error(err))
			continue
		}
		raw, err := json.Marshal(Record{
			ID:       uuid.NewString(),
			Contract: l.Contract,
			Event:    l.Event.EventName(),
			Payload:  payload,
			Time:     l.Time.UTC(),
		})
		if err != nil {
			p.log.Error("audit: marshal record", zap.Error(err))
			continue
		}
		items = append(items, string(raw))
	}
	if len(items) == 0 {
		return
	}
	if err := p.rdb.RPush(ctx, QueueKey, items...).Err(); err != nil {
		p.log.Error("audit: RPUSH", zap.Int("records", len(items)), zap.Error(err))
	}
}
