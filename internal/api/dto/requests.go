package dto

type PlaceBetRequest struct {
	MatchID    string  `json:"matchId"`
	MarketID   string  `json:"marketId"`
	RunnerID   string  `json:"runnerId"`
	Type       string  `json:"type"` // BACK | LAY
	Odds       float64 `json:"odds"`
	StakeCents int64   `json:"stake_cents"`
}

type DepositRequest struct {
	AmountCents int64  `json:"amount_cents"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// Usada pelos mini-jogos de cassino (colaborador externo) para débito de
// stake e crédito de prêmio sem passar pela máquina de estados de aposta
type AdjustRequest struct {
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}
