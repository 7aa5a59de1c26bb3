package settlement_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/ledger"
	"github.com/radieske/bet-core-engine/internal/ledger/memory"
	"github.com/radieske/bet-core-engine/internal/settlement"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

const (
	matchID  = "MATCH_001"
	marketID = "MATCH_001_1X2"
	runnerA  = "MATCH_001_HOME"
	runnerB  = "MATCH_001_AWAY"

	startBalance = int64(100_000)
)

// fakeMarkets simula o market store com a mesma máquina de estados
type fakeMarkets struct {
	mu          sync.Mutex
	status      map[string]model.MarketStatus
	transitions []model.MarketStatus
}

func newFakeMarkets(id string, st model.MarketStatus) *fakeMarkets {
	return &fakeMarkets{status: map[string]model.MarketStatus{id: st}}
}

func (f *fakeMarkets) GetMarketStatus(_ context.Context, id string) (model.MarketStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[id]
	if !ok {
		return "", fmt.Errorf("market %s not found", id)
	}
	return st, nil
}

func (f *fakeMarkets) SetMarketStatus(_ context.Context, id string, to model.MarketStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.status[id].CanTransition(to) {
		return fmt.Errorf("invalid transition %s -> %s", f.status[id], to)
	}
	f.status[id] = to
	f.transitions = append(f.transitions, to)
	return nil
}

func (f *fakeMarkets) MarketView(_ context.Context, mID string) (events.MarketsUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view := events.MarketsUpdate{MatchID: mID}
	for id, st := range f.status {
		view.Markets = append(view.Markets, events.MarketView{ID: id, Status: string(st)})
	}
	return view, nil
}

type captureBroadcaster struct {
	mu  sync.Mutex
	evs []events.Broadcast
}

func (c *captureBroadcaster) Broadcast(_ context.Context, ev events.Broadcast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
}

func (c *captureBroadcaster) types(topic string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.evs {
		if ev.Topic == topic {
			out = append(out, ev.Type)
		}
	}
	return out
}

type fixture struct {
	svc     *ledger.Service
	store   *memory.Store
	markets *fakeMarkets
	bcast   *captureBroadcaster
	engine  *settlement.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.PutMarket(marketID, matchID, model.MarketOpen)
	store.PutRunner(runnerA, marketID)
	store.PutRunner(runnerB, marketID)

	bcast := &captureBroadcaster{}
	svc := ledger.New(zap.NewNop(), store, bcast)
	markets := newFakeMarkets(marketID, model.MarketOpen)
	engine := settlement.NewEngine(zap.NewNop(), svc, markets, bcast)

	return &fixture{svc: svc, store: store, markets: markets, bcast: bcast, engine: engine}
}

func (f *fixture) placeBet(t *testing.T, userID string, runnerID string, side model.BetSide, stake int64, odds float64) *model.Bet {
	t.Helper()
	f.store.PutUser(model.User{ID: userID, Currency: "BRL", BalanceCents: startBalance})
	bet, err := f.svc.PlaceBet(context.Background(), ledger.PlaceBetParams{
		UserID:     userID,
		MatchID:    matchID,
		MarketID:   marketID,
		RunnerID:   runnerID,
		Side:       side,
		Odds:       odds,
		StakeCents: stake,
	})
	require.NoError(t, err)
	return bet
}

func result(winner string) events.MarketResult {
	return events.MarketResult{
		MatchID:         matchID,
		MarketID:        marketID,
		WinningRunnerID: winner,
		Ts:              time.Now().UTC(),
	}
}

func TestSettleMarketResolvesEveryOpenBet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	backWinner := f.placeBet(t, "U1", runnerA, model.Back, 10_000, 2.5)
	backLoser := f.placeBet(t, "U2", runnerB, model.Back, 10_000, 3.0)
	layWinner := f.placeBet(t, "U3", runnerA, model.Lay, 10_000, 2.5)

	require.NoError(t, f.engine.SettleMarket(ctx, result(runnerA)))

	// BACK no vencedor: reserva + lucro de volta
	b1, _ := f.svc.GetBet(ctx, backWinner.ID)
	assert.Equal(t, model.BetWon, b1.Status)
	u1, _ := f.svc.GetWallet(ctx, "U1")
	assert.Equal(t, startBalance+15_000, u1.BalanceCents)

	// BACK no perdedor: stake perdido
	b2, _ := f.svc.GetBet(ctx, backLoser.ID)
	assert.Equal(t, model.BetLost, b2.Status)
	u2, _ := f.svc.GetWallet(ctx, "U2")
	assert.Equal(t, startBalance-10_000, u2.BalanceCents)

	// LAY no vencedor perde a responsabilidade
	b3, _ := f.svc.GetBet(ctx, layWinner.ID)
	assert.Equal(t, model.BetLost, b3.Status)
	u3, _ := f.svc.GetWallet(ctx, "U3")
	assert.Equal(t, startBalance-15_000, u3.BalanceCents)

	// exposição zerada pra todo mundo
	for _, id := range []string{"U1", "U2", "U3"} {
		u, _ := f.svc.GetWallet(ctx, id)
		assert.Equal(t, int64(0), u.ExposureCents, "exposure of %s", id)
	}

	// mercado fechou antes de liquidar e só então foi marcado SETTLED
	assert.Equal(t, []model.MarketStatus{model.MarketClosed, model.MarketSettled}, f.markets.transitions)
}

func TestSettleMarketVoidRefundsReserves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	back := f.placeBet(t, "U1", runnerA, model.Back, 10_000, 2.5)
	lay := f.placeBet(t, "U2", runnerB, model.Lay, 10_000, 3.0)

	res := result("")
	res.VoidReason = "match_abandoned"
	require.NoError(t, f.engine.SettleMarket(ctx, res))

	b1, _ := f.svc.GetBet(ctx, back.ID)
	assert.Equal(t, model.BetVoid, b1.Status)
	b2, _ := f.svc.GetBet(ctx, lay.ID)
	assert.Equal(t, model.BetVoid, b2.Status)

	// todo mundo volta ao saldo de antes da aposta
	u1, _ := f.svc.GetWallet(ctx, "U1")
	assert.Equal(t, startBalance, u1.BalanceCents)
	u2, _ := f.svc.GetWallet(ctx, "U2")
	assert.Equal(t, startBalance, u2.BalanceCents)
}

func TestSettleMarketIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.placeBet(t, "U1", runnerA, model.Back, 10_000, 2.5)

	require.NoError(t, f.engine.SettleMarket(ctx, result(runnerA)))
	u1, _ := f.svc.GetWallet(ctx, "U1")
	first := u1.BalanceCents

	// reentrega do mesmo resultado: nenhum crédito a mais
	require.NoError(t, f.engine.SettleMarket(ctx, result(runnerA)))
	u1, _ = f.svc.GetWallet(ctx, "U1")
	assert.Equal(t, first, u1.BalanceCents)

	txs, _ := f.svc.ListTransactions(ctx, "U1")
	assert.Len(t, txs, 2) // colocação + pagamento, uma vez só
}

// flakyLedger falha as primeiras liquidações com erro transitório
type flakyLedger struct {
	*ledger.Service
	mu       sync.Mutex
	failures int
}

func (f *flakyLedger) SettleBet(ctx context.Context, betID string, status model.BetStatus, reason string) (*model.Bet, *model.User, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, nil, fmt.Errorf("%w: connection reset", ledger.ErrStorage)
	}
	return f.Service.SettleBet(ctx, betID, status, reason)
}

func TestSettleMarketRetryResumesWithoutDoubleCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.placeBet(t, "U1", runnerA, model.Back, 10_000, 2.5)
	f.placeBet(t, "U2", runnerA, model.Back, 5_000, 2.0)

	flaky := &flakyLedger{Service: f.svc, failures: 1}
	engine := settlement.NewEngine(zap.NewNop(), flaky, f.markets, f.bcast)

	// primeira execução falha no meio: mercado fica fora de SETTLED
	err := engine.SettleMarket(ctx, result(runnerA))
	require.Error(t, err)
	st, _ := f.markets.GetMarketStatus(ctx, marketID)
	assert.NotEqual(t, model.MarketSettled, st)

	// reexecução retoma de onde parou; apostas já liquidadas são puladas
	require.NoError(t, engine.SettleMarket(ctx, result(runnerA)))
	st, _ = f.markets.GetMarketStatus(ctx, marketID)
	assert.Equal(t, model.MarketSettled, st)

	u1, _ := f.svc.GetWallet(ctx, "U1")
	assert.Equal(t, startBalance+15_000, u1.BalanceCents)
	u2, _ := f.svc.GetWallet(ctx, "U2")
	assert.Equal(t, startBalance+5_000, u2.BalanceCents)

	txs, _ := f.svc.ListTransactions(ctx, "U1")
	assert.Len(t, txs, 2)
}

// toda transição de status feita pela liquidação chega a quem assiste a
// partida; sem isso o assinante continuaria vendo o mercado OPEN
func TestSettleMarketBroadcastsMarketsUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.placeBet(t, "U1", runnerA, model.Back, 10_000, 2.5)
	require.NoError(t, f.engine.SettleMarket(ctx, result(runnerA)))

	var views []events.MarketsUpdate
	f.bcast.mu.Lock()
	for _, ev := range f.bcast.evs {
		if ev.Topic == "match:"+matchID && ev.Type == events.TypeMarketsUpdate {
			var v events.MarketsUpdate
			require.NoError(t, json.Unmarshal(ev.Payload, &v))
			views = append(views, v)
		}
	}
	f.bcast.mu.Unlock()

	// uma emissão no fechamento, outra na marcação SETTLED
	require.Len(t, views, 2)
	require.Len(t, views[0].Markets, 1)
	assert.Equal(t, marketID, views[0].Markets[0].ID)
	assert.Equal(t, string(model.MarketClosed), views[0].Markets[0].Status)
	assert.Equal(t, string(model.MarketSettled), views[1].Markets[0].Status)
}

// bet:settled sai antes do wallet:update correspondente, no tópico do dono
func TestSettleMarketBroadcastOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.placeBet(t, "U1", runnerA, model.Back, 10_000, 2.5)
	require.NoError(t, f.engine.SettleMarket(ctx, result(runnerA)))

	types := f.bcast.types("user:U1")
	// wallet:update da colocação, depois o par da liquidação
	require.Len(t, types, 3)
	assert.Equal(t, events.TypeWalletUpdate, types[0])
	assert.Equal(t, events.TypeBetSettled, types[1])
	assert.Equal(t, events.TypeWalletUpdate, types[2])

	// nada vazou pro tópico de outro usuário
	assert.Empty(t, f.bcast.types("user:U2"))
}
