package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

// Cache guarda no Redis o snapshot corrente de mercados por partida, usado
// pelos clientes em ressincronização completa após reconexão
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
}

func New(c *redis.Client, ttl time.Duration) *Cache {
	return &Cache{Client: c, TTL: ttl}
}

func key(matchID string) string { return "markets:current:" + matchID }

func (c *Cache) SetSnapshot(ctx context.Context, v events.MarketsUpdate) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key(v.MatchID), b, c.TTL).Err()
}

// GetSnapshot retorna (false, nil) em cache miss
func (c *Cache) GetSnapshot(ctx context.Context, matchID string) (events.MarketsUpdate, bool, error) {
	var out events.MarketsUpdate
	b, err := c.Client.Get(ctx, key(matchID)).Bytes()
	if err == redis.Nil {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	return out, true, json.Unmarshal(b, &out)
}
