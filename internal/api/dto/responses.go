package dto

import "time"

type BetResponse struct {
	BetID                string     `json:"betId"`
	MatchID              string     `json:"matchId"`
	MarketID             string     `json:"marketId"`
	RunnerID             string     `json:"runnerId"`
	Type                 string     `json:"type"`
	Odds                 float64    `json:"odds"`
	StakeCents           int64      `json:"stake_cents"`
	ReservedCents        int64      `json:"reserved_cents"`
	PotentialProfitCents int64      `json:"potential_profit_cents"`
	Status               string     `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	SettledAt            *time.Time `json:"settled_at,omitempty"`
}

type WalletResponse struct {
	UserID        string `json:"userId"`
	BalanceCents  int64  `json:"balance_cents"`
	ExposureCents int64  `json:"exposure_cents"`
	Currency      string `json:"currency"`
}

type TransactionResponse struct {
	ID          int64     `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	BetID       *string   `json:"betId,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
