package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/ledger"
	"github.com/radieske/bet-core-engine/internal/market"
	mcache "github.com/radieske/bet-core-engine/internal/market/cache"
	"github.com/radieske/bet-core-engine/internal/shared/metrics"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
	"github.com/radieske/bet-core-engine/pkg/contracts/topics"
)

// Consumer aplica o feed externo ao Market Store e rebroadcasta as mudanças
// para os assinantes. O feed é o único mutador de odds/volume dos runners.
type Consumer struct {
	Log    *zap.Logger
	Odds   *kafka.Reader
	Scores *kafka.Reader
	Store  *market.Store
	Cache  *mcache.Cache
	Bcast  ledger.Broadcaster
}

// RunOdds consome o tópico de odds (odds, status de mercado, status de partida)
func (c *Consumer) RunOdds(ctx context.Context) error {
	return c.run(ctx, c.Odds, c.handleOdds)
}

// RunScores consome o tópico de placar/lances
func (c *Consumer) RunScores(ctx context.Context) error {
	return c.run(ctx, c.Scores, c.handleScore)
}

func (c *Consumer) run(ctx context.Context, r *kafka.Reader, handle func(context.Context, events.FeedEnvelope) error) error {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Log.Warn("kafka read failed", zap.Error(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}

		var env events.FeedEnvelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			c.Log.Warn("invalid feed message", zap.Error(err))
			continue
		}
		metrics.FeedEventsConsumed.WithLabelValues(env.Kind).Inc()

		if err := handle(ctx, env); err != nil {
			c.Log.Warn("feed apply failed", zap.String("kind", env.Kind), zap.Error(err))
		}
	}
}

func (c *Consumer) handleOdds(ctx context.Context, env events.FeedEnvelope) error {
	switch env.Kind {
	case events.KindFixture:
		var ev events.FixtureUpdate
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		if err := c.applyFixture(ctx, ev); err != nil {
			return err
		}
		c.broadcastMarkets(ctx, ev.MatchID)

	case events.KindOdds:
		var ev events.RunnerOddsUpdate
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		if err := c.Store.ApplyOddsUpdate(ctx, ev); err != nil {
			return err
		}
		c.broadcastMarkets(ctx, ev.MatchID)

	case events.KindMarketStatus:
		var ev events.MarketStatusUpdate
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		if err := c.Store.SetMarketStatus(ctx, ev.MarketID, model.MarketStatus(ev.Status)); err != nil {
			return err
		}
		c.broadcastMarkets(ctx, ev.MatchID)

	case events.KindMatchStatus:
		var ev events.MatchStatusUpdate
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		return c.Store.SetMatchStatus(ctx, ev.MatchID, model.MatchStatus(ev.Status))

	default:
		c.Log.Warn("unknown odds feed kind", zap.String("kind", env.Kind))
	}
	return nil
}

func (c *Consumer) handleScore(ctx context.Context, env events.FeedEnvelope) error {
	switch env.Kind {
	case events.KindScore:
		var ev events.ScoreUpdate
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		if err := c.Store.UpdateScore(ctx, ev.MatchID, ev.HomeScore, ev.AwayScore); err != nil {
			return err
		}
		c.broadcast(ctx, topics.Match(ev.MatchID), events.TypeMatchScore, ev)

	case events.KindBall:
		// lance a lance não é persistido, só repassado
		var ev events.BallUpdate
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		c.broadcast(ctx, topics.Match(ev.MatchID), events.TypeMatchBall, ev)

	default:
		c.Log.Warn("unknown score feed kind", zap.String("kind", env.Kind))
	}
	return nil
}

// applyFixture materializa a árvore partida→mercado→runner vinda do produtor
func (c *Consumer) applyFixture(ctx context.Context, ev events.FixtureUpdate) error {
	err := c.Store.UpsertMatch(ctx, model.Match{
		ID:       ev.MatchID,
		Sport:    ev.Sport,
		HomeTeam: ev.HomeTeam,
		AwayTeam: ev.AwayTeam,
		Status:   model.MatchUpcoming,
		StartsAt: ev.StartsAt,
	})
	if err != nil {
		return err
	}
	for _, m := range ev.Markets {
		status := model.MarketStatus(m.Status)
		if status == "" {
			status = model.MarketPending
		}
		if err := c.Store.UpsertMarket(ctx, model.Market{
			ID:        m.ID,
			MatchID:   ev.MatchID,
			Name:      m.Name,
			Kind:      m.Kind,
			Status:    status,
			CloseTime: m.CloseTime,
		}); err != nil {
			return err
		}
		for _, r := range m.Runners {
			if err := c.Store.UpsertRunner(ctx, model.Runner{
				ID:       r.ID,
				MarketID: m.ID,
				Name:     r.Name,
				BackOdds: r.BackOdds,
				LayOdds:  r.LayOdds,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// broadcastMarkets atualiza o snapshot em cache e emite markets:update
func (c *Consumer) broadcastMarkets(ctx context.Context, matchID string) {
	view, err := c.Store.MarketView(ctx, matchID)
	if err != nil {
		c.Log.Warn("market view", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	if c.Cache != nil {
		if err := c.Cache.SetSnapshot(ctx, view); err != nil {
			c.Log.Warn("snapshot cache set", zap.Error(err))
		}
	}
	c.broadcast(ctx, topics.Match(matchID), events.TypeMarketsUpdate, view)
}

func (c *Consumer) broadcast(ctx context.Context, topic, typ string, payload any) {
	ev, err := events.NewBroadcast(topic, typ, payload)
	if err != nil {
		c.Log.Warn("broadcast marshal", zap.Error(err))
		return
	}
	c.Bcast.Broadcast(ctx, ev)
}
