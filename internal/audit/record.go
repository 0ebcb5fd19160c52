// Package audit ships committed ledger events through a Redis queue and
// indexes settlement receipts for lookup.
package audit

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	QueueKey         = "audit:events"
	DLQKey           = "audit:dlq"
	ReceiptKeyPrefix = "payment:receipt:"
)

// Record is one committed event as it travels through the queue.
type Record struct {
	ID       string          `json:"id"`
	Contract common.Address  `json:"contract"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	Time     time.Time       `json:"time"`
}

// ReceiptKey returns the hash key a settlement receipt is indexed under.
func ReceiptKey(nonce common.Hash) string {
	return ReceiptKeyPrefix + nonce.Hex()
}
