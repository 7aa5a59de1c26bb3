package events

import (
	"encoding/json"
	"time"
)

// Envelope das mensagens de feed: um tópico Kafka carrega mais de um tipo
type FeedEnvelope struct {
	Kind    string          `json:"kind"` // odds | market_status | match_status | score | ball
	Payload json.RawMessage `json:"payload"`
}

const (
	KindFixture      = "fixture"
	KindOdds         = "odds"
	KindMarketStatus = "market_status"
	KindMatchStatus  = "match_status"
	KindScore        = "score"
	KindBall         = "ball"
)

func NewFeedEnvelope(kind string, payload any) (FeedEnvelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return FeedEnvelope{}, err
	}
	return FeedEnvelope{Kind: kind, Payload: b}, nil
}

// Eventos produzidos pelo feed externo de odds (tópico "odds_updates").
// Cada atualização substitui por completo os campos vivos de um runner.
type RunnerOddsUpdate struct {
	MatchID   string    `json:"match_id"`
	MarketID  string    `json:"market_id"`
	RunnerID  string    `json:"runner_id"`
	BackOdds  float64   `json:"back_odds"`
	LayOdds   float64   `json:"lay_odds"`
	Volume    int64     `json:"volume"`
	Version   int       `json:"version"` // incrementado a cada atualização
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}

// Mudança de status de mercado vinda do feed (suspensão, fechamento)
type MarketStatusUpdate struct {
	MatchID  string `json:"match_id"`
	MarketID string `json:"market_id"`
	Status   string `json:"status"`
}

// Evento de placar (tópico "score_updates")
type ScoreUpdate struct {
	MatchID   string    `json:"match_id"`
	HomeScore int       `json:"home_score"`
	AwayScore int       `json:"away_score"`
	Minute    int       `json:"minute"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lance a lance, repassado sem interpretação para os assinantes da partida
type BallUpdate struct {
	MatchID   string    `json:"match_id"`
	Sequence  int       `json:"sequence"`
	Event     string    `json:"event"` // ex: "GOAL", "CORNER", "KICKOFF"
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mudança de ciclo de vida da partida (UPCOMING → LIVE → FINISHED)
type MatchStatusUpdate struct {
	MatchID string `json:"match_id"`
	Status  string `json:"status"`
}

// Fixture publicado pelo produtor na abertura do catálogo: partida com seus
// mercados e runners iniciais
type FixtureUpdate struct {
	MatchID  string          `json:"match_id"`
	Sport    string          `json:"sport"`
	HomeTeam string          `json:"home_team"`
	AwayTeam string          `json:"away_team"`
	StartsAt time.Time       `json:"starts_at"`
	Markets  []FixtureMarket `json:"markets"`
}

type FixtureMarket struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	CloseTime time.Time       `json:"close_time"`
	Runners   []FixtureRunner `json:"runners"`
}

type FixtureRunner struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	BackOdds float64 `json:"back_odds"`
	LayOdds  float64 `json:"lay_odds"`
}
