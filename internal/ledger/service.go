package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/shared/keylock"
	"github.com/radieske/bet-core-engine/internal/shared/metrics"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
	"github.com/radieske/bet-core-engine/pkg/contracts/topics"
)

// Broadcaster publica eventos para os assinantes; implementado pelo broker.
// Publicação é fire-and-forget: nunca atrasa nem falha a resposta do ledger.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev events.Broadcast)
}

// Service é o único componente autorizado a movimentar dinheiro.
// Colocação, liquidação e ajustes passam por aqui; a seção crítica por
// usuário garante que duas apostas simultâneas não passem juntas por uma
// checagem de saldo que só uma delas satisfaz.
type Service struct {
	log        *zap.Logger
	store      Store
	users      *keylock.KeyLock
	bcast      Broadcaster
	maxRetries int
}

func New(log *zap.Logger, store Store, bcast Broadcaster) *Service {
	return &Service{
		log:        log,
		store:      store,
		users:      keylock.New(),
		bcast:      bcast,
		maxRetries: 3,
	}
}

type PlaceBetParams struct {
	UserID     string
	MatchID    string
	MarketID   string
	RunnerID   string
	Side       model.BetSide
	Odds       float64
	StakeCents int64
}

// PlaceBet valida, congela odds/stake, reserva exposição e cria a aposta.
// Checagem de saldo, débito, linha de aposta e auditoria são uma unidade
// atômica no store; nenhum estado parcial é observável.
func (s *Service) PlaceBet(ctx context.Context, p PlaceBetParams) (*model.Bet, error) {
	if p.StakeCents <= 0 {
		metrics.BetsRejected.WithLabelValues("invalid_stake").Inc()
		return nil, ErrInvalidStake
	}
	if p.Odds <= 1.0 {
		metrics.BetsRejected.WithLabelValues("invalid_odds").Inc()
		return nil, ErrInvalidOdds
	}
	if !p.Side.Valid() {
		metrics.BetsRejected.WithLabelValues("invalid_side").Inc()
		return nil, ErrInvalidSide
	}

	bet := &model.Bet{
		ID:                   uuid.NewString(),
		UserID:               p.UserID,
		MatchID:              p.MatchID,
		MarketID:             p.MarketID,
		RunnerID:             p.RunnerID,
		Side:                 p.Side,
		Odds:                 p.Odds,
		StakeCents:           p.StakeCents,
		ReservedCents:        model.ReserveCents(p.Side, p.StakeCents, p.Odds),
		PotentialProfitCents: model.ProfitCents(p.Side, p.StakeCents, p.Odds),
		Status:               model.BetOpen,
		CreatedAt:            time.Now().UTC(),
	}

	defer s.users.Lock(p.UserID)()

	var user *model.User
	err := s.withRetry(ctx, func() error {
		var err error
		user, err = s.store.PlaceBet(ctx, bet)
		return err
	})
	if err != nil {
		metrics.BetsRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	metrics.BetsPlaced.Inc()
	s.broadcastWallet(user, -bet.ReservedCents, "bet:placed")
	return bet, nil
}

// SettleBet transiciona uma aposta OPEN para o estado terminal pedido e
// aplica o crédito correspondente: WON = reserva + lucro, VOID = reserva,
// LOST = nada (o stake já foi debitado na colocação).
// Idempotente: aposta fora de OPEN retorna ErrAlreadySettled sem efeito.
func (s *Service) SettleBet(ctx context.Context, betID string, status model.BetStatus, reason string) (*model.Bet, *model.User, error) {
	if !status.Terminal() {
		return nil, nil, ErrValidation
	}

	// Valores monetários são imutáveis após a colocação; ler antes da seção
	// crítica não abre corrida. O guard OPEN fica dentro do store.
	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, nil, err
	}

	var credit int64
	var txType model.TxType
	switch status {
	case model.BetWon:
		credit = bet.PayoutCents()
		txType = model.TxBetPayout
	case model.BetVoid:
		credit = bet.ReservedCents
		txType = model.TxBetVoid
	case model.BetLost:
		credit = 0
		txType = model.TxBetPayout
	}

	defer s.users.Lock(bet.UserID)()

	var settled *model.Bet
	var user *model.User
	err = s.withRetry(ctx, func() error {
		var err error
		settled, user, err = s.store.SettleBet(ctx, betID, status, credit, txType, reason)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.BetsSettled.WithLabelValues(string(status)).Inc()
	return settled, user, nil
}

// CreditAdjustment aplica uma variação manual de saldo (uso administrativo e
// dos mini-jogos de cassino, que não passam pela máquina de estados de aposta)
func (s *Service) CreditAdjustment(ctx context.Context, userID string, amountCents int64, reason string) (*model.User, error) {
	return s.adjust(ctx, userID, amountCents, model.TxAdjustment, reason)
}

// Deposit credita saldo na carteira do usuário. Reenvio com o mesmo
// externalRef (retry do provedor de pagamento) não credita de novo.
func (s *Service) Deposit(ctx context.Context, userID string, amountCents int64, externalRef string) (*model.User, error) {
	if amountCents <= 0 {
		return nil, ErrValidation
	}
	reason := "deposit:" + externalRef

	defer s.users.Lock(userID)()

	if externalRef != "" {
		txs, err := s.store.ListTransactions(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			if tx.Type == model.TxDeposit && tx.Reason == reason {
				s.log.Info("duplicate deposit ignored",
					zap.String("user_id", userID), zap.String("external_ref", externalRef))
				return s.store.GetUser(ctx, userID)
			}
		}
	}

	return s.adjustLocked(ctx, userID, amountCents, model.TxDeposit, reason)
}

func (s *Service) adjust(ctx context.Context, userID string, amountCents int64, txType model.TxType, reason string) (*model.User, error) {
	defer s.users.Lock(userID)()
	return s.adjustLocked(ctx, userID, amountCents, txType, reason)
}

// adjustLocked assume a seção do usuário já tomada pelo chamador
func (s *Service) adjustLocked(ctx context.Context, userID string, amountCents int64, txType model.TxType, reason string) (*model.User, error) {
	if amountCents == 0 {
		return nil, ErrValidation
	}

	var user *model.User
	err := s.withRetry(ctx, func() error {
		var err error
		user, err = s.store.Adjust(ctx, userID, amountCents, txType, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.broadcastWallet(user, amountCents, reason)
	return user, nil
}

func (s *Service) GetWallet(ctx context.Context, userID string) (*model.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *Service) GetBet(ctx context.Context, betID string) (*model.Bet, error) {
	return s.store.GetBet(ctx, betID)
}

func (s *Service) ListBets(ctx context.Context, userID string) ([]*model.Bet, error) {
	return s.store.ListBetsByUser(ctx, userID)
}

func (s *Service) ListOpenBetsByMarket(ctx context.Context, marketID string) ([]*model.Bet, error) {
	return s.store.ListOpenBetsByMarket(ctx, marketID)
}

func (s *Service) ListTransactions(ctx context.Context, userID string) ([]*model.WalletTransaction, error) {
	return s.store.ListTransactions(ctx, userID)
}

// BroadcastWallet publica wallet:update no tópico do usuário; usado também
// pelo motor de liquidação logo após o bet:settled correspondente
func (s *Service) BroadcastWallet(user *model.User, changeCents int64, reason string) {
	s.broadcastWallet(user, changeCents, reason)
}

func (s *Service) broadcastWallet(user *model.User, changeCents int64, reason string) {
	if s.bcast == nil || user == nil {
		return
	}
	ev, err := events.NewBroadcast(topics.User(user.ID), events.TypeWalletUpdate, events.WalletUpdate{
		UserID:        user.ID,
		BalanceCents:  user.BalanceCents,
		ExposureCents: user.ExposureCents,
		ChangeCents:   changeCents,
		Reason:        reason,
	})
	if err != nil {
		s.log.Warn("wallet broadcast marshal", zap.Error(err))
		return
	}
	s.bcast.Broadcast(context.Background(), ev)
}

// withRetry repete a operação em falha transitória, com backoff simples
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < s.maxRetries; i++ {
		if err = op(); err == nil || !Retryable(err) {
			return err
		}
		s.log.Warn("ledger retry", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50*(i+1)) * time.Millisecond):
		}
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMarketNotOpen):
		return "market_not_open"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "storage"
	}
}
