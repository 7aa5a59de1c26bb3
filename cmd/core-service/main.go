package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/api"
	"github.com/radieske/bet-core-engine/internal/broker"
	"github.com/radieske/bet-core-engine/internal/feed"
	"github.com/radieske/bet-core-engine/internal/ledger"
	lpg "github.com/radieske/bet-core-engine/internal/ledger/postgres"
	"github.com/radieske/bet-core-engine/internal/market"
	mcache "github.com/radieske/bet-core-engine/internal/market/cache"
	"github.com/radieske/bet-core-engine/internal/shared/cache"
	"github.com/radieske/bet-core-engine/internal/shared/config"
	"github.com/radieske/bet-core-engine/internal/shared/db"
	"github.com/radieske/bet-core-engine/internal/shared/kafka"
	"github.com/radieske/bet-core-engine/internal/shared/logger"
	"github.com/radieske/bet-core-engine/internal/shared/metrics"
	"github.com/radieske/bet-core-engine/migrations"
)

const snapshotTTL = 30 * time.Second

func main() {
	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "core-service")
	}
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	// Postgres + migrações embutidas
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()
	if err := db.Migrate(pg, migrations.FS); err != nil {
		log.Fatal("pg migrate", zap.Error(err))
	}

	// Redis: cache de snapshots + canal de broadcast entre réplicas
	rdb, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}

	// Broker: hub local de WS, publicador e assinante do canal compartilhado
	hub := broker.NewHub(log)
	pub := broker.NewRedisPublisher(log, rdb, cfg.BroadcastChannel)
	broker.StartRedisSubscriber(ctx, log, rdb, cfg.BroadcastChannel, hub)

	// Stores e serviços
	marketStore := market.New(pg, log)
	snapCache := mcache.New(rdb, snapshotTTL)
	ledgerSvc := ledger.New(log, lpg.New(pg), pub)

	if cfg.Env == "local" {
		seedDemoUsers(ctx, log, pg)
	}

	// Consumidor do feed externo (odds + placar)
	oddsReader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicOddsUpdates, "core-service")
	defer oddsReader.Close()
	scoresReader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicScoreUpdates, "core-service")
	defer scoresReader.Close()

	consumer := &feed.Consumer{
		Log:    log,
		Odds:   oddsReader,
		Scores: scoresReader,
		Store:  marketStore,
		Cache:  snapCache,
		Bcast:  pub,
	}
	go func() {
		if err := consumer.RunOdds(ctx); err != nil {
			log.Error("odds consumer stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := consumer.RunScores(ctx); err != nil {
			log.Error("scores consumer stopped", zap.Error(err))
		}
	}()

	// metrics/health em porta separada
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})

	// HTTP público: API REST + WebSocket
	ws := broker.NewWSHandler(log, hub, func(r *http.Request) bool { return true })
	srv := api.NewServer(log, ledgerSvc, marketStore, snapCache, ws)

	addr := ":" + cfg.HTTPPort
	log.Info("core-service listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.Router()); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}

// seedDemoUsers cria carteiras de demonstração para o ambiente local
func seedDemoUsers(ctx context.Context, log *zap.Logger, pg *sql.DB) {
	users := []struct {
		id, name string
		balance  int64
	}{
		{"USER_001", "Alice", 100_000},
		{"USER_002", "Bruno", 100_000},
		{"USER_003", "Carla", 250_000},
	}
	for _, u := range users {
		_, err := pg.ExecContext(ctx, `
			INSERT INTO users (id, name, currency, balance_cents, exposure_cents)
			VALUES ($1, $2, 'BRL', $3, 0)
			ON CONFLICT (id) DO NOTHING`, u.id, u.name, u.balance)
		if err != nil {
			log.Warn("seed user", zap.String("user_id", u.id), zap.Error(err))
		}
	}
	log.Info("demo users seeded", zap.Int("count", len(users)))
}
