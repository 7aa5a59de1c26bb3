package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Contadores de domínio compartilhados entre os serviços.
// Cada binário registra só o que incrementa; promauto usa o registry default.
var (
	BetsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betcore_bets_placed_total",
		Help: "Apostas aceitas pelo ledger",
	})
	BetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betcore_bets_rejected_total",
		Help: "Apostas recusadas, por motivo",
	}, []string{"reason"})

	SettlementRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betcore_settlement_runs_total",
		Help: "Execuções de liquidação de mercado concluídas",
	})
	SettlementRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betcore_settlement_retries_total",
		Help: "Retentativas de liquidação por falha transitória",
	})
	BetsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betcore_bets_settled_total",
		Help: "Apostas levadas a estado terminal, por status",
	}, []string{"status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betcore_ws_connections",
		Help: "Clientes WebSocket conectados",
	})
	WSEventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betcore_ws_events_sent_total",
		Help: "Eventos entregues a assinantes WebSocket",
	})
	WSDroppedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betcore_ws_dropped_sessions_total",
		Help: "Sessões derrubadas por backpressure no envio",
	})

	FeedEventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betcore_feed_events_consumed_total",
		Help: "Eventos de feed consumidos do Kafka, por tipo",
	}, []string{"type"})
)
