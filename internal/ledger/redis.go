package ledger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "state:"

// RedisBackend keeps each table as the hash state:<table>, one JSON value
// per field.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func stateKey(table string) string {
	return stateKeyPrefix + table
}

// Commit applies all writes inside one MULTI/EXEC block.
func (b *RedisBackend) Commit(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, w := range writes {
			if w.Deleted {
				p.HDel(ctx, stateKey(w.Table), w.Key)
				continue
			}
			p.HSet(ctx, stateKey(w.Table), w.Key, w.Value)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

func (b *RedisBackend) Load(ctx context.Context, table string) (map[string][]byte, error) {
	vals, err := b.rdb.HGetAll(ctx, stateKey(table)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(vals))
	for k, v := range vals {
		out[k] = []byte(v)
	}
	return out, nil
}

// ScanTables returns the names of all tables that have persisted content.
func (b *RedisBackend) ScanTables(ctx context.Context) ([]string, error) {
	var names []string
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, stateKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan tables: %w", err)
		}
		for _, key := range keys {
			names = append(names, key[len(stateKeyPrefix):])
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return names, nil
}
