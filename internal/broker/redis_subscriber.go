package broker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

// StartRedisSubscriber escuta o canal de broadcast e repassa cada envelope ao
// hub local. Uma única goroutine consome o canal, preservando a ordem de
// publicação por tópico até a entrega.
func StartRedisSubscriber(ctx context.Context, log *zap.Logger, r *redis.Client, channel string, hub *Hub) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				var ev events.Broadcast
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn("broadcast unmarshal", zap.Error(err))
					continue
				}
				hub.Publish(ev)
			}
		}
	}()
}
