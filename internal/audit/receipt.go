package audit

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var ErrReceiptNotFound = errors.New("audit: receipt not found")

// Receipt returns the indexed receipt fields of a settled request.
func Receipt(ctx context.Context, rdb *redis.Client, nonce common.Hash) (map[string]string, error) {
	fields, err := rdb.HGetAll(ctx, ReceiptKey(nonce)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrReceiptNotFound
	}
	return fields, nil
}
