package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/shared/config"
	"github.com/radieske/bet-core-engine/internal/shared/kafka"
	"github.com/radieske/bet-core-engine/internal/shared/logger"
	"github.com/radieske/bet-core-engine/internal/shared/metrics"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

// Simula o fornecedor externo de feed: publica o catálogo de partidas na
// subida, depois odds/placar/lances ao vivo e, ao final de cada partida, o
// resultado autoritativo que dispara a liquidação.

var feedEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_simulator_events_published_total",
	Help: "Eventos publicados no Kafka, por tipo",
}, []string{"kind"})

type simRunner struct {
	ID   string
	Name string
	Odds float64 // back base; lay deriva com spread
}

type simMarket struct {
	ID      string
	Kind    string
	Name    string
	Runners []simRunner
}

type simMatch struct {
	ID       string
	Home     string
	Away     string
	Markets  []simMarket
	homeGoal int
	awayGoal int
	version  int
	ball     int
}

// Catálogo fixo de partidas simuladas
func newCatalog() []*simMatch {
	mk := func(matchID, home, away string) *simMatch {
		return &simMatch{
			ID:   matchID,
			Home: home,
			Away: away,
			Markets: []simMarket{
				{
					ID:   matchID + "_1X2",
					Kind: "1x2",
					Name: "Resultado Final",
					Runners: []simRunner{
						{ID: matchID + "_HOME", Name: home, Odds: 2.10},
						{ID: matchID + "_DRAW", Name: "Empate", Odds: 3.30},
						{ID: matchID + "_AWAY", Name: away, Odds: 3.60},
					},
				},
				{
					ID:   matchID + "_OU25",
					Kind: "OVER_UNDER",
					Name: "Total de Gols 2.5",
					Runners: []simRunner{
						{ID: matchID + "_OVER", Name: "Mais de 2.5", Odds: 1.90},
						{ID: matchID + "_UNDER", Name: "Menos de 2.5", Odds: 1.90},
					},
				},
			},
		}
	}
	return []*simMatch{
		mk("MATCH_001", "Flamengo", "Palmeiras"),
		mk("MATCH_002", "Grêmio", "Internacional"),
		mk("MATCH_003", "Corinthians", "Santos"),
	}
}

func main() {
	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "feed-simulator")
	}
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	oddsWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicOddsUpdates)
	defer oddsWriter.Close()
	scoreWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicScoreUpdates)
	defer scoreWriter.Close()
	resultWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketResults)
	defer resultWriter.Close()

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error { return nil })

	ctx := context.Background()
	catalog := newCatalog()
	sim := &simulator{
		log:    log,
		odds:   oddsWriter,
		scores: scoreWriter,
		result: resultWriter,
		svc:    cfg.ServiceName,
	}

	// Catálogo + abertura dos mercados
	for _, m := range catalog {
		sim.publishFixture(ctx, m)
		for _, mkt := range m.Markets {
			sim.publishMarketStatus(ctx, m, mkt.ID, "OPEN")
		}
	}
	log.Info("catalog published", zap.Int("matches", len(catalog)))

	// Uma goroutine por partida: ciclo de vida completo até o resultado
	done := make(chan string, len(catalog))
	for _, m := range catalog {
		go sim.runMatch(ctx, m, done)
	}
	for range catalog {
		log.Info("match finished", zap.String("match_id", <-done))
	}
	log.Info("all matches settled, simulator idle")
	select {} // mantém /metrics no ar pro docker-compose
}

type simulator struct {
	log    *zap.Logger
	odds   *kafkago.Writer
	scores *kafkago.Writer
	result *kafkago.Writer
	svc    string
}

// runMatch toca uma partida do início ao fim: LIVE, ticks de odds/placar,
// suspensão no apito final e resultado autoritativo por mercado
func (s *simulator) runMatch(ctx context.Context, m *simMatch, done chan<- string) {
	// pequeno atraso pra dar tempo de apostar no mercado aberto
	time.Sleep(time.Duration(5+rand.Intn(10)) * time.Second)
	s.publishMatchStatus(ctx, m, "LIVE")

	ticks := 30 + rand.Intn(30)
	for i := 0; i < ticks; i++ {
		time.Sleep(2 * time.Second)
		s.publishOddsJitter(ctx, m)

		if rand.Intn(100) < 20 {
			s.publishBall(ctx, m, randomBallEvent())
		}
		if rand.Intn(100) < 8 {
			if rand.Intn(2) == 0 {
				m.homeGoal++
			} else {
				m.awayGoal++
			}
			s.publishBall(ctx, m, "GOAL")
			s.publishScore(ctx, m, i*3)
		}
	}

	// Apito final: suspende tudo antes do resultado sair
	for _, mkt := range m.Markets {
		s.publishMarketStatus(ctx, m, mkt.ID, "SUSPENDED")
	}
	s.publishMatchStatus(ctx, m, "FINISHED")

	for _, mkt := range m.Markets {
		res := events.MarketResult{
			MatchID:         m.ID,
			MarketID:        mkt.ID,
			WinningRunnerID: winner(m, mkt),
			Ts:              time.Now().UTC(),
		}
		b, _ := json.Marshal(res)
		if err := kafka.WriteJSON(ctx, s.result, mkt.ID, b); err != nil {
			s.log.Error("publish result", zap.String("market_id", mkt.ID), zap.Error(err))
		} else {
			feedEventsPublished.WithLabelValues("market_result").Inc()
		}
	}
	done <- m.ID
}

// winner resolve o runner vencedor de cada mercado a partir do placar final
func winner(m *simMatch, mkt simMarket) string {
	switch mkt.Kind {
	case "1x2":
		switch {
		case m.homeGoal > m.awayGoal:
			return m.ID + "_HOME"
		case m.awayGoal > m.homeGoal:
			return m.ID + "_AWAY"
		default:
			return m.ID + "_DRAW"
		}
	case "OVER_UNDER":
		if m.homeGoal+m.awayGoal > 2 {
			return m.ID + "_OVER"
		}
		return m.ID + "_UNDER"
	default:
		return mkt.Runners[rand.Intn(len(mkt.Runners))].ID
	}
}

func (s *simulator) publishFixture(ctx context.Context, m *simMatch) {
	fx := events.FixtureUpdate{
		MatchID:  m.ID,
		Sport:    "football",
		HomeTeam: m.Home,
		AwayTeam: m.Away,
		StartsAt: time.Now().UTC().Add(10 * time.Second),
	}
	for _, mkt := range m.Markets {
		fm := events.FixtureMarket{
			ID:        mkt.ID,
			Name:      mkt.Name,
			Kind:      mkt.Kind,
			Status:    "PENDING",
			CloseTime: fx.StartsAt.Add(2 * time.Hour),
		}
		for _, r := range mkt.Runners {
			fm.Runners = append(fm.Runners, events.FixtureRunner{
				ID:       r.ID,
				Name:     r.Name,
				BackOdds: r.Odds,
				LayOdds:  layOf(r.Odds),
			})
		}
		fx.Markets = append(fx.Markets, fm)
	}
	s.publishFeed(ctx, s.odds, events.KindFixture, m.ID, fx)
}

func (s *simulator) publishOddsJitter(ctx context.Context, m *simMatch) {
	m.version++
	for _, mkt := range m.Markets {
		for _, r := range mkt.Runners {
			back := jitter(r.Odds)
			s.publishFeed(ctx, s.odds, events.KindOdds, m.ID, events.RunnerOddsUpdate{
				MatchID:   m.ID,
				MarketID:  mkt.ID,
				RunnerID:  r.ID,
				BackOdds:  back,
				LayOdds:   layOf(back),
				Volume:    int64(rand.Intn(500_000)),
				Version:   m.version,
				UpdatedAt: time.Now().UTC(),
				Source:    s.svc,
			})
		}
	}
}

func (s *simulator) publishMarketStatus(ctx context.Context, m *simMatch, marketID, status string) {
	s.publishFeed(ctx, s.odds, events.KindMarketStatus, m.ID, events.MarketStatusUpdate{
		MatchID:  m.ID,
		MarketID: marketID,
		Status:   status,
	})
}

func (s *simulator) publishMatchStatus(ctx context.Context, m *simMatch, status string) {
	s.publishFeed(ctx, s.odds, events.KindMatchStatus, m.ID, events.MatchStatusUpdate{
		MatchID: m.ID,
		Status:  status,
	})
}

func (s *simulator) publishScore(ctx context.Context, m *simMatch, minute int) {
	s.publishFeed(ctx, s.scores, events.KindScore, m.ID, events.ScoreUpdate{
		MatchID:   m.ID,
		HomeScore: m.homeGoal,
		AwayScore: m.awayGoal,
		Minute:    minute,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *simulator) publishBall(ctx context.Context, m *simMatch, event string) {
	m.ball++
	s.publishFeed(ctx, s.scores, events.KindBall, m.ID, events.BallUpdate{
		MatchID:   m.ID,
		Sequence:  m.ball,
		Event:     event,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *simulator) publishFeed(ctx context.Context, w *kafkago.Writer, kind, key string, payload any) {
	env, err := events.NewFeedEnvelope(kind, payload)
	if err != nil {
		s.log.Error("feed envelope", zap.String("kind", kind), zap.Error(err))
		return
	}
	b, _ := json.Marshal(env)
	if err := kafka.WriteJSON(ctx, w, key, b); err != nil {
		s.log.Error("feed publish", zap.String("kind", kind), zap.Error(err))
		return
	}
	feedEventsPublished.WithLabelValues(kind).Inc()
}

// layOf deriva a odd de lay com um spread fixo acima da de back
func layOf(back float64) float64 { return round2(back * 1.04) }

// jitter varia a odd base em até ±10%
func jitter(base float64) float64 {
	f := 0.90 + rand.Float64()*0.20
	v := base * f
	if v < 1.05 {
		v = 1.05
	}
	return round2(v)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func randomBallEvent() string {
	evs := []string{"CORNER", "SHOT_ON_TARGET", "FOUL", "OFFSIDE", "THROW_IN"}
	return evs[rand.Intn(len(evs))]
}
