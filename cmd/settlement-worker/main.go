package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/broker"
	"github.com/radieske/bet-core-engine/internal/ledger"
	lpg "github.com/radieske/bet-core-engine/internal/ledger/postgres"
	"github.com/radieske/bet-core-engine/internal/market"
	"github.com/radieske/bet-core-engine/internal/settlement"
	"github.com/radieske/bet-core-engine/internal/shared/cache"
	"github.com/radieske/bet-core-engine/internal/shared/config"
	"github.com/radieske/bet-core-engine/internal/shared/db"
	"github.com/radieske/bet-core-engine/internal/shared/kafka"
	"github.com/radieske/bet-core-engine/internal/shared/logger"
	"github.com/radieske/bet-core-engine/internal/shared/metrics"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

func main() {
	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "settlement-worker")
	}
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis só para publicar bet:settled / wallet:update no canal compartilhado
	rdb, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}

	// Kafka: consome resultados autoritativos, DLQ para os irrecuperáveis
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicMarketResults, "settlement-worker")
	defer reader.Close()
	dlqWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketResultsDLQ)
	defer dlqWriter.Close()

	pub := broker.NewRedisPublisher(log, rdb, cfg.BroadcastChannel)
	marketStore := market.New(pg, log)
	ledgerSvc := ledger.New(log, lpg.New(pg), pub)
	engine := settlement.NewEngine(log, ledgerSvc, marketStore, pub)

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		return nil
	})

	log.Info("settlement-worker started",
		zap.String("consume", cfg.TopicMarketResults),
		zap.String("dlq", cfg.TopicMarketResultsDLQ),
	)

	// Loop principal: um resultado por vez; a ordem dentro do tópico é
	// preservada e reexecuções são inofensivas (liquidação idempotente)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var res events.MarketResult
		if jerr := json.Unmarshal(msg.Value, &res); jerr != nil {
			log.Error("unmarshal market result", zap.Error(jerr))
			continue
		}
		if res.MarketID == "" {
			log.Error("market result without market_id, discarding")
			continue
		}

		if err := settleWithRetry(ctx, engine, res, cfg.SettleMaxRetries); err != nil {
			// Mercado travado fora de SETTLED: vai pra DLQ com o motivo, pra
			// reprocessamento manual (condição reportável do motor)
			log.Error("settlement stuck, sending to DLQ",
				zap.String("market_id", res.MarketID),
				zap.Error(err))
			if derr := kafka.WriteJSON(ctx, dlqWriter, res.MarketID, msg.Value); derr != nil {
				log.Error("dlq write", zap.String("market_id", res.MarketID), zap.Error(derr))
			}
		}
	}
}

// settleWithRetry tenta liquidar com backoff; o motor retoma do ponto onde
// parou porque apostas já liquidadas são puladas
func settleWithRetry(ctx context.Context, engine *settlement.Engine, res events.MarketResult, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = engine.SettleMarket(ctx, res); err == nil {
			return nil
		}
		time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
	}
	return err
}
