package redis

import (
	"context"
	"errors"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/realty-mesh/repository"
)

// advanceScript stores ARGV[1] unless the key already holds a larger value.
var advanceScript = redislib.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

type ledgerRepository struct {
	client *redislib.Client
	prefix string
	ttl    time.Duration
}

// NewLedgerRepository creates a Redis-backed event ledger shared by all replicas.
func NewLedgerRepository(client *redislib.Client, prefix string, ttl time.Duration) repository.EventLedger {
	if prefix == "" {
		prefix = "ledger:"
	}
	return &ledgerRepository{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *ledgerRepository) Advance(ctx context.Context, id string, ts int64) (bool, error) {
	applied, err := advanceScript.Run(ctx, r.client, []string{r.key(id)}, ts, int64(r.ttl.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return applied == 1, nil
}

func (r *ledgerRepository) Last(ctx context.Context, id string) (int64, error) {
	ts, err := r.client.Get(ctx, r.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return ts, nil
}

func (r *ledgerRepository) Close() error {
	return r.client.Close()
}

func (r *ledgerRepository) key(id string) string {
	return r.prefix + id
}
