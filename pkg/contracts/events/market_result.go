package events

import "time"

// Resultado autoritativo de um mercado (tópico "market_results").
// Exatamente um dos campos WinningRunnerID/VoidReason é preenchido.
type MarketResult struct {
	MatchID         string    `json:"match_id"`
	MarketID        string    `json:"market_id"`
	WinningRunnerID string    `json:"winning_runner_id,omitempty"`
	VoidReason      string    `json:"void_reason,omitempty"`
	Ts              time.Time `json:"ts"`
}

func (r MarketResult) Voided() bool { return r.VoidReason != "" }
