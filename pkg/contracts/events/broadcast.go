package events

import (
	"encoding/json"
	"time"
)

// Envelope publicado no canal Redis de broadcast e entregue aos clientes WS.
// Topic segue os formatos match:<id> e user:<id> (pkg/contracts/topics).
type Broadcast struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"` // markets:update | match:score | match:ball | bet:settled | wallet:update
	Payload json.RawMessage `json:"payload"`
}

// Tipos de evento do envelope
const (
	TypeMarketsUpdate = "markets:update"
	TypeMatchScore    = "match:score"
	TypeMatchBall     = "match:ball"
	TypeBetSettled    = "bet:settled"
	TypeWalletUpdate  = "wallet:update"
)

// NewBroadcast serializa o payload e monta o envelope
func NewBroadcast(topic, typ string, payload any) (Broadcast, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Broadcast{}, err
	}
	return Broadcast{Topic: topic, Type: typ, Payload: b}, nil
}

// Visão de mercados enviada em markets:update
type MarketsUpdate struct {
	MatchID string       `json:"matchId"`
	Markets []MarketView `json:"markets"`
}

type MarketView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Status    string        `json:"status"`
	CloseTime time.Time     `json:"closeTime"`
	Outcomes  []OutcomeView `json:"outcomes"`
}

type OutcomeView struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Odds float64 `json:"odds"`
}

// Emitido no tópico do usuário quando uma aposta atinge estado terminal
type BetSettled struct {
	BetID          string `json:"betId"`
	MatchID        string `json:"matchId"`
	MarketID       string `json:"marketId"`
	UserID         string `json:"userId"`
	Outcome        string `json:"outcome"` // runner apostado
	WinningOutcome string `json:"winningOutcome,omitempty"`
	Status         string `json:"status"` // WON | LOST | VOID
	StakeCents     int64  `json:"stake_cents"`
	PayoutCents    int64  `json:"payout_cents"`
}

// Emitido no tópico do usuário após qualquer movimentação de carteira
type WalletUpdate struct {
	UserID        string `json:"userId"`
	BalanceCents  int64  `json:"balance_cents"`
	ExposureCents int64  `json:"exposure_cents"`
	ChangeCents   int64  `json:"change_cents"`
	Reason        string `json:"reason"`
}
