package topics

// Tópicos Kafka do pipeline de feed e resultados
const (
	OddsUpdates   = "odds_updates"
	ScoreUpdates  = "score_updates"
	MarketResults = "market_results"

	// DLQs
	MarketResultsDLQ = "market_results_dlq"
)

// Canal Redis Pub/Sub usado para fan-out entre réplicas do core-service
const BroadcastChannel = "betcore_broadcast"

// Tópicos de assinatura expostos aos clientes WebSocket
func Match(matchID string) string { return "match:" + matchID }
func User(userID string) string   { return "user:" + userID }
