package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchStatusCanTransition(t *testing.T) {
	assert.True(t, MatchUpcoming.CanTransition(MatchLive))
	assert.True(t, MatchUpcoming.CanTransition(MatchFinished))
	assert.True(t, MatchLive.CanTransition(MatchFinished))

	// sem regressão
	assert.False(t, MatchLive.CanTransition(MatchUpcoming))
	assert.False(t, MatchFinished.CanTransition(MatchLive))
	assert.False(t, MatchFinished.CanTransition(MatchUpcoming))
	assert.False(t, MatchLive.CanTransition(MatchLive))
}

func TestMarketStatusCanTransition(t *testing.T) {
	allowed := []struct{ from, to MarketStatus }{
		{MarketPending, MarketOpen},
		{MarketOpen, MarketSuspended},
		{MarketSuspended, MarketOpen}, // suspensão é reversível
		{MarketOpen, MarketClosed},
		{MarketSuspended, MarketClosed},
		{MarketClosed, MarketSettled},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to MarketStatus }{
		{MarketPending, MarketSuspended},
		{MarketPending, MarketSettled},
		{MarketOpen, MarketSettled}, // precisa fechar antes de liquidar
		{MarketClosed, MarketOpen},
		{MarketSettled, MarketOpen},
		{MarketSettled, MarketClosed},
		{MarketOpen, MarketOpen},
	}
	for _, tr := range denied {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
	}

	assert.True(t, MarketSettled.Terminal())
	assert.False(t, MarketClosed.Terminal())
}

func TestProfitAndReserveCents(t *testing.T) {
	// BACK: lucro = stake × (odds − 1), reserva = stake
	assert.Equal(t, int64(15000), ProfitCents(Back, 10000, 2.5))
	assert.Equal(t, int64(10000), ReserveCents(Back, 10000, 2.5))

	// LAY: lucro = stake, reserva = responsabilidade stake × (odds − 1)
	assert.Equal(t, int64(10000), ProfitCents(Lay, 10000, 2.5))
	assert.Equal(t, int64(15000), ReserveCents(Lay, 10000, 2.5))

	// arredondamento para o centavo mais próximo (meio pra cima)
	assert.Equal(t, int64(101), ProfitCents(Back, 110, 1.92)) // 110 × 0.92 = 101.2
	assert.Equal(t, int64(38), ProfitCents(Back, 100, 1.375)) // 100 × 0.375 = 37.5
}

func TestBetWinsWith(t *testing.T) {
	back := &Bet{RunnerID: "R1", Side: Back}
	lay := &Bet{RunnerID: "R1", Side: Lay}

	// BACK vence se o runner apostado venceu
	assert.True(t, back.WinsWith("R1"))
	assert.False(t, back.WinsWith("R2"))

	// LAY é o espelho
	assert.False(t, lay.WinsWith("R1"))
	assert.True(t, lay.WinsWith("R2"))
}

func TestBetPayoutCents(t *testing.T) {
	b := &Bet{ReservedCents: 10000, PotentialProfitCents: 15000}
	assert.Equal(t, int64(25000), b.PayoutCents())
}

func TestBetStatusTerminal(t *testing.T) {
	assert.False(t, BetOpen.Terminal())
	assert.True(t, BetWon.Terminal())
	assert.True(t, BetLost.Terminal())
	assert.True(t, BetVoid.Terminal())
}
