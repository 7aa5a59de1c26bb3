package broker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

// RedisPublisher publica envelopes no canal de broadcast; todas as réplicas
// do core-service (inclusive a publicadora) recebem via assinatura Redis.
// Fire-and-forget: falha de publicação é logada, nunca propagada ao chamador.
// Uma única goroutine drena a fila interna, preservando a ordem de publicação
// (bet:settled antes do wallet:update correspondente).
type RedisPublisher struct {
	log     *zap.Logger
	r       *redis.Client
	channel string
	q       chan []byte
}

func NewRedisPublisher(log *zap.Logger, r *redis.Client, channel string) *RedisPublisher {
	p := &RedisPublisher{log: log, r: r, channel: channel, q: make(chan []byte, 1024)}
	go p.run()
	return p
}

func (p *RedisPublisher) Broadcast(_ context.Context, ev events.Broadcast) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("broadcast marshal", zap.Error(err))
		return
	}
	select {
	case p.q <- b:
	default:
		// nunca bloqueia o chamador; entrega é at-most-once
		p.log.Warn("broadcast queue full, event dropped", zap.String("topic", ev.Topic))
	}
}

func (p *RedisPublisher) run() {
	for b := range p.q {
		if err := p.r.Publish(context.Background(), p.channel, b).Err(); err != nil {
			p.log.Warn("broadcast publish", zap.Error(err))
		}
	}
}

// HubPublisher entrega direto a um Hub local, sem Redis; usado em testes e no
// modo standalone do simulador
type HubPublisher struct{ Hub *Hub }

func (p *HubPublisher) Broadcast(_ context.Context, ev events.Broadcast) {
	p.Hub.Publish(ev)
}
