package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/ledger"
	"github.com/radieske/bet-core-engine/internal/shared/keylock"
	"github.com/radieske/bet-core-engine/internal/shared/metrics"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
	"github.com/radieske/bet-core-engine/pkg/contracts/topics"
)

// Ledger é o recorte do serviço de ledger que a liquidação usa; todo
// movimento de dinheiro continua passando por ele
type Ledger interface {
	ListOpenBetsByMarket(ctx context.Context, marketID string) ([]*model.Bet, error)
	SettleBet(ctx context.Context, betID string, status model.BetStatus, reason string) (*model.Bet, *model.User, error)
	BroadcastWallet(user *model.User, changeCents int64, reason string)
}

// Markets é o recorte do market store usado pela liquidação
type Markets interface {
	GetMarketStatus(ctx context.Context, marketID string) (model.MarketStatus, error)
	SetMarketStatus(ctx context.Context, marketID string, to model.MarketStatus) error
	MarketView(ctx context.Context, matchID string) (events.MarketsUpdate, error)
}

// Engine resolve o desfecho de um mercado: leva toda aposta OPEN a estado
// terminal com o efeito de ledger correspondente e só então pede a transição
// CLOSED→SETTLED. Exatamente-uma execução efetiva por mercado: a seção
// crítica por mercado barra corridas locais e o contrato AlreadySettled do
// ledger torna reexecuções (retry após falha parcial) inofensivas.
type Engine struct {
	log     *zap.Logger
	ledger  Ledger
	markets Markets
	bcast   ledger.Broadcaster
	locks   *keylock.KeyLock
}

func NewEngine(log *zap.Logger, l Ledger, m Markets, bcast ledger.Broadcaster) *Engine {
	return &Engine{
		log:     log,
		ledger:  l,
		markets: m,
		bcast:   bcast,
		locks:   keylock.New(),
	}
}

// SettleMarket processa um resultado autoritativo. Erro retornado significa
// mercado ainda não-SETTLED; o chamador decide entre retentar e DLQ.
func (e *Engine) SettleMarket(ctx context.Context, res events.MarketResult) error {
	defer e.locks.Lock(res.MarketID)()

	st, err := e.markets.GetMarketStatus(ctx, res.MarketID)
	if err != nil {
		return fmt.Errorf("market status: %w", err)
	}
	if st == model.MarketSettled {
		e.log.Info("market already settled, skipping",
			zap.String("market_id", res.MarketID))
		return nil
	}

	// Fecha o mercado antes de liquidar: nenhuma aposta nova é admitida
	if st == model.MarketOpen || st == model.MarketSuspended {
		if err := e.markets.SetMarketStatus(ctx, res.MarketID, model.MarketClosed); err != nil {
			return fmt.Errorf("close market: %w", err)
		}
		e.broadcastMarkets(ctx, res.MatchID)
	}

	bets, err := e.ledger.ListOpenBetsByMarket(ctx, res.MarketID)
	if err != nil {
		return fmt.Errorf("list open bets: %w", err)
	}

	for _, bet := range bets {
		status, reason := outcome(bet, res)

		settled, user, err := e.ledger.SettleBet(ctx, bet.ID, status, reason)
		if errors.Is(err, ledger.ErrAlreadySettled) {
			// condição reportável, não-fatal: outra execução chegou antes
			e.log.Info("bet already settled, skipping", zap.String("bet_id", bet.ID))
			continue
		}
		if err != nil {
			if ledger.Retryable(err) {
				metrics.SettlementRetries.Inc()
			}
			// mercado fica fora de SETTLED até toda aposta ser terminal
			return fmt.Errorf("settle bet %s: %w", bet.ID, err)
		}

		e.publishSettled(ctx, settled, user, res)
	}

	if err := e.markets.SetMarketStatus(ctx, res.MarketID, model.MarketSettled); err != nil {
		return fmt.Errorf("mark settled: %w", err)
	}
	e.broadcastMarkets(ctx, res.MatchID)

	metrics.SettlementRuns.Inc()
	e.log.Info("market settled",
		zap.String("market_id", res.MarketID),
		zap.Int("bets", len(bets)),
		zap.Bool("voided", res.Voided()))
	return nil
}

// broadcastMarkets espelha cada transição de status no tópico da partida;
// sem isso o assinante continuaria vendo o mercado OPEN após a liquidação
func (e *Engine) broadcastMarkets(ctx context.Context, matchID string) {
	if matchID == "" {
		return
	}
	view, err := e.markets.MarketView(ctx, matchID)
	if err != nil {
		e.log.Warn("market view", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	ev, err := events.NewBroadcast(topics.Match(matchID), events.TypeMarketsUpdate, view)
	if err != nil {
		e.log.Warn("markets update marshal", zap.Error(err))
		return
	}
	e.bcast.Broadcast(ctx, ev)
}

// outcome decide o estado terminal da aposta para o resultado recebido.
// BACK vence se o runner apostado venceu; LAY vence se perdeu.
func outcome(bet *model.Bet, res events.MarketResult) (model.BetStatus, string) {
	if res.Voided() {
		return model.BetVoid, "void:" + res.VoidReason
	}
	if bet.WinsWith(res.WinningRunnerID) {
		return model.BetWon, "settle:won:" + res.MarketID
	}
	return model.BetLost, "settle:lost:" + res.MarketID
}

// publishSettled emite bet:settled e, na sequência, wallet:update no tópico
// do usuário dono, nesta ordem, nunca para outros usuários
func (e *Engine) publishSettled(ctx context.Context, bet *model.Bet, user *model.User, res events.MarketResult) {
	payout := int64(0)
	switch bet.Status {
	case model.BetWon:
		payout = bet.PayoutCents()
	case model.BetVoid:
		payout = bet.ReservedCents
	}

	ev, err := events.NewBroadcast(topics.User(bet.UserID), events.TypeBetSettled, events.BetSettled{
		BetID:          bet.ID,
		MatchID:        bet.MatchID,
		MarketID:       bet.MarketID,
		UserID:         bet.UserID,
		Outcome:        bet.RunnerID,
		WinningOutcome: res.WinningRunnerID,
		Status:         string(bet.Status),
		StakeCents:     bet.StakeCents,
		PayoutCents:    payout,
	})
	if err != nil {
		e.log.Warn("bet settled marshal", zap.Error(err))
	} else {
		e.bcast.Broadcast(ctx, ev)
	}

	e.ledger.BroadcastWallet(user, payout, "bet:settled")
}
