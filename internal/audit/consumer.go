package audit

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/payment"
)

const blpopTimeout = 5 * time.Second

// Run is the audit consumer loop: BLPOP → HandleRecord.
func Run(ctx context.Context, rdb *redis.Client, log *zap.Logger) {
	log.Info("audit consumer started", zap.String("queue", QueueKey))

	for {
		if ctx.Err() != nil {
			log.Info("audit consumer stopped")
			return
		}

		results, err := rdb.BLPop(ctx, blpopTimeout, QueueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("audit: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// results[0] = key, results[1] = value
		HandleRecord(ctx, rdb, results[1], log)
	}
}

// Outcome is what HandleRecord did with one queued record.
type Outcome int

const (
	OutcomeLogged Outcome = iota
	OutcomeIndexed
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLogged:
		return "LOGGED"
	case OutcomeIndexed:
		return "INDEXED"
	case OutcomeDeadLettered:
		return "DEAD_LETTERED"
	default:
		return "UNKNOWN"
	}
}

// HandleRecord indexes settlement receipts and logs every other event.
// Records that cannot be decoded go to the DLQ untouched.
func HandleRecord(ctx context.Context, rdb *redis.Client, raw string, log *zap.Logger) Outcome {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		deadLetter(ctx, rdb, raw, "undecodable record", err, log)
		return OutcomeDeadLettered
	}

	if rec.Event != (payment.SettlementCompleted{}).EventName() {
		log.Info("ledger event",
			zap.String("id", rec.ID),
			zap.String("event", rec.Event),
			zap.String("contract", rec.Contract.Hex()),
		)
		return OutcomeLogged
	}

	var ev payment.SettlementCompleted
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		deadLetter(ctx, rdb, raw, "undecodable settlement", err, log)
		return OutcomeDeadLettered
	}
	parts, _ := json.Marshal(ev.Parts)
	fields := map[string]any{
		"record_id":          rec.ID,
		"settlement":         rec.Contract.Hex(),
		"recipient":          ev.Recipient.Hex(),
		"payer":              ev.Payer.Hex(),
		"requested_currency": ev.RequestedCurrency.Hex(),
		"pay_currency":       ev.PayCurrency.Hex(),
		"requested_amount":   bigString(ev.RequestedAmount),
		"total_paid":         bigString(ev.TotalPaid),
		"platform_fee":       bigString(ev.PlatformFee),
		"swap_fee":           bigString(ev.SwapFee),
		"refund":             bigString(ev.Refund),
		"parts":              string(parts),
		"settled_at":         rec.Time.Unix(),
	}
	if err := rdb.HSet(ctx, ReceiptKey(ev.Nonce), fields).Err(); err != nil {
		log.Error("audit: index receipt", zap.String("nonce", ev.Nonce.Hex()), zap.Error(err))
		deadLetter(ctx, rdb, raw, "index failed", err, log)
		return OutcomeDeadLettered
	}
	log.Info("settlement indexed",
		zap.String("nonce", ev.Nonce.Hex()),
		zap.String("payer", ev.Payer.Hex()),
		zap.String("recipient", ev.Recipient.Hex()),
	)
	return OutcomeIndexed
}

func deadLetter(ctx context.Context, rdb *redis.Client, raw, reason string, err error, log *zap.Logger) {
	rdb.RPush(ctx, DLQKey, raw)
	log.Error("audit record dead-lettered", zap.String("reason", reason), zap.Error(err))
}

func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
