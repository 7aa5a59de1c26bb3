package model

import (
	"math"
	"time"
)

// Status de partida: UPCOMING → LIVE → FINISHED, sem regressão
type MatchStatus string

const (
	MatchUpcoming MatchStatus = "UPCOMING"
	MatchLive     MatchStatus = "LIVE"
	MatchFinished MatchStatus = "FINISHED"
)

var matchOrder = map[MatchStatus]int{MatchUpcoming: 0, MatchLive: 1, MatchFinished: 2}

// CanTransition permite só avanço monotônico no ciclo de vida da partida
func (s MatchStatus) CanTransition(to MatchStatus) bool {
	a, okA := matchOrder[s]
	b, okB := matchOrder[to]
	return okA && okB && b > a
}

// Máquina de cinco estados do mercado, de propriedade do Market Store:
// PENDING → OPEN ↔ SUSPENDED → CLOSED → SETTLED
// CLOSED→SETTLED é solicitado apenas pelo motor de liquidação.
type MarketStatus string

const (
	MarketPending   MarketStatus = "PENDING"
	MarketOpen      MarketStatus = "OPEN"
	MarketSuspended MarketStatus = "SUSPENDED"
	MarketClosed    MarketStatus = "CLOSED"
	MarketSettled   MarketStatus = "SETTLED"
)

var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketPending:   {MarketOpen},
	MarketOpen:      {MarketSuspended, MarketClosed},
	MarketSuspended: {MarketOpen, MarketClosed},
	MarketClosed:    {MarketSettled},
}

func (s MarketStatus) CanTransition(to MarketStatus) bool {
	for _, t := range marketTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s MarketStatus) Terminal() bool { return s == MarketSettled }

// Lado da aposta
type BetSide string

const (
	Back BetSide = "BACK"
	Lay  BetSide = "LAY"
)

func (s BetSide) Valid() bool { return s == Back || s == Lay }

// Estados da aposta: OPEN inicial, WON/LOST/VOID terminais e irreversíveis
type BetStatus string

const (
	BetOpen BetStatus = "OPEN"
	BetWon  BetStatus = "WON"
	BetLost BetStatus = "LOST"
	BetVoid BetStatus = "VOID"
)

func (s BetStatus) Terminal() bool { return s == BetWon || s == BetLost || s == BetVoid }

// Tipos de lançamento na wallet_transactions
type TxType string

const (
	TxDeposit    TxType = "DEPOSIT"
	TxBetPlace   TxType = "BET_PLACE"
	TxBetPayout  TxType = "BET_PAYOUT"
	TxBetVoid    TxType = "BET_VOID"
	TxAdjustment TxType = "ADJUSTMENT"
)

type User struct {
	ID            string
	Name          string
	Currency      string
	BalanceCents  int64
	ExposureCents int64
	CreatedAt     time.Time
}

type Match struct {
	ID        string      `json:"id"`
	Sport     string      `json:"sport"`
	HomeTeam  string      `json:"homeTeam"`
	AwayTeam  string      `json:"awayTeam"`
	Status    MatchStatus `json:"status"`
	HomeScore int         `json:"homeScore"`
	AwayScore int         `json:"awayScore"`
	StartsAt  time.Time   `json:"startsAt"`
}

type Market struct {
	ID        string
	MatchID   string
	Name      string
	Kind      string // ex: "1x2", "OVER_UNDER"
	Status    MarketStatus
	CloseTime time.Time
}

// Runner: um desfecho selecionável dentro de um mercado.
// Campos vivos (odds/volume) são trocados em bloco pelo feed, nunca no meio
// de uma transação de aposta.
type Runner struct {
	ID       string
	MarketID string
	Name     string
	BackOdds float64
	LayOdds  float64
	Volume   int64
	Version  int
}

type Bet struct {
	ID                   string
	UserID               string
	MatchID              string
	MarketID             string
	RunnerID             string
	Side                 BetSide
	Odds                 float64 // congelada na colocação
	StakeCents           int64
	ReservedCents        int64 // exposição tomada do saldo
	PotentialProfitCents int64
	Status               BetStatus
	CreatedAt            time.Time
	SettledAt            *time.Time
}

// PayoutCents é o crédito devido ao vencer: reserva de volta + lucro
func (b *Bet) PayoutCents() int64 { return b.ReservedCents + b.PotentialProfitCents }

type WalletTransaction struct {
	ID          int64
	UserID      string
	AmountCents int64 // com sinal; a soma ordenada reproduz o saldo
	Type        TxType
	Reason      string
	BetID       *string
	CreatedAt   time.Time
}

// ProfitCents calcula o lucro potencial congelado na colocação.
// BACK: stake × (odds − 1); LAY: o próprio stake.
func ProfitCents(side BetSide, stakeCents int64, odds float64) int64 {
	if side == Lay {
		return stakeCents
	}
	return int64(math.Round(float64(stakeCents) * (odds - 1)))
}

// ReserveCents calcula quanto é retido do saldo na colocação.
// BACK retém o stake; LAY retém a responsabilidade stake × (odds − 1).
func ReserveCents(side BetSide, stakeCents int64, odds float64) int64 {
	if side == Lay {
		return int64(math.Round(float64(stakeCents) * (odds - 1)))
	}
	return stakeCents
}

// WinsWith decide o desfecho da aposta dado o runner vencedor:
// BACK vence se o runner apostado venceu; LAY vence se perdeu.
func (b *Bet) WinsWith(winningRunnerID string) bool {
	return (b.RunnerID == winningRunnerID) != (b.Side == Lay)
}
