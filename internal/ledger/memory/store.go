package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/ledger"
	"github.com/radieske/bet-core-engine/internal/shared/keylock"
)

// Store implementa ledger.Store em memória, com a mesma semântica atômica do
// store Postgres. Usado nos testes e no modo standalone do feed-simulator.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	bets    map[string]*model.Bet
	txs     map[string][]*model.WalletTransaction
	markets map[string]*marketRow
	runners map[string]string // runnerID -> marketID

	// seções exclusivas por entidade (mapa particionado por chave)
	userLocks   *keylock.KeyLock
	marketLocks *keylock.KeyLock

	txSeq int64
}

type marketRow struct {
	matchID string
	status  model.MarketStatus
}

func New() *Store {
	return &Store{
		users:       make(map[string]*model.User),
		bets:        make(map[string]*model.Bet),
		txs:         make(map[string][]*model.WalletTransaction),
		markets:     make(map[string]*marketRow),
		runners:     make(map[string]string),
		userLocks:   keylock.New(),
		marketLocks: keylock.New(),
	}
}

// Seed de entidades (equivalente ao que as migrações + feed criam no Postgres)

func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
}

func (s *Store) PutMarket(marketID, matchID string, status model.MarketStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[marketID] = &marketRow{matchID: matchID, status: status}
}

func (s *Store) SetMarketStatus(marketID string, status model.MarketStatus) {
	defer s.marketLocks.Lock(marketID)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.markets[marketID]; ok {
		m.status = status
	}
}

func (s *Store) PutRunner(runnerID, marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[runnerID] = marketID
}

func (s *Store) GetUser(_ context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ledger.ErrNotFound, userID)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) PlaceBet(_ context.Context, bet *model.Bet) (*model.User, error) {
	// mesma ordem de exclusão do Postgres: mercado, depois usuário
	defer s.marketLocks.Lock(bet.MarketID)()
	defer s.userLocks.Lock(bet.UserID)()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[bet.MarketID]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ledger.ErrNotFound, bet.MarketID)
	}
	if m.status != model.MarketOpen {
		return nil, fmt.Errorf("%w: market %s is %s", ledger.ErrMarketNotOpen, bet.MarketID, m.status)
	}
	if mkt, ok := s.runners[bet.RunnerID]; !ok || mkt != bet.MarketID {
		return nil, fmt.Errorf("%w: runner %s", ledger.ErrNotFound, bet.RunnerID)
	}

	u, ok := s.users[bet.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ledger.ErrNotFound, bet.UserID)
	}
	if u.BalanceCents < bet.ReservedCents {
		return nil, fmt.Errorf("%w: have %d, need %d",
			ledger.ErrInsufficientBalance, u.BalanceCents, bet.ReservedCents)
	}

	bet.MatchID = m.matchID
	u.BalanceCents -= bet.ReservedCents
	u.ExposureCents += bet.ReservedCents

	cp := *bet
	s.bets[bet.ID] = &cp
	s.appendTx(bet.UserID, -bet.ReservedCents, model.TxBetPlace, "bet:place:"+bet.ID, &bet.ID)

	uc := *u
	return &uc, nil
}

func (s *Store) SettleBet(_ context.Context, betID string, status model.BetStatus, creditCents int64, txType model.TxType, reason string) (*model.Bet, *model.User, error) {
	s.mu.RLock()
	b, ok := s.bets[betID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: bet %s", ledger.ErrNotFound, betID)
	}

	defer s.userLocks.Lock(b.UserID)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Status != model.BetOpen {
		return nil, nil, fmt.Errorf("%w: bet %s is %s", ledger.ErrAlreadySettled, betID, b.Status)
	}

	u, ok := s.users[b.UserID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: user %s", ledger.ErrNotFound, b.UserID)
	}

	now := time.Now().UTC()
	b.Status = status
	b.SettledAt = &now
	u.BalanceCents += creditCents
	u.ExposureCents -= b.ReservedCents

	if creditCents != 0 {
		s.appendTx(b.UserID, creditCents, txType, reason, &b.ID)
	}

	bc := *b
	uc := *u
	return &bc, &uc, nil
}

func (s *Store) Adjust(_ context.Context, userID string, amountCents int64, txType model.TxType, reason string) (*model.User, error) {
	defer s.userLocks.Lock(userID)()
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ledger.ErrNotFound, userID)
	}
	if u.BalanceCents+amountCents < 0 {
		return nil, fmt.Errorf("%w: have %d, need %d",
			ledger.ErrInsufficientBalance, u.BalanceCents, -amountCents)
	}

	u.BalanceCents += amountCents
	s.appendTx(userID, amountCents, txType, reason, nil)

	uc := *u
	return &uc, nil
}

func (s *Store) GetBet(_ context.Context, betID string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[betID]
	if !ok {
		return nil, fmt.Errorf("%w: bet %s", ledger.ErrNotFound, betID)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBetsByUser(_ context.Context, userID string) ([]*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListOpenBetsByMarket(_ context.Context, marketID string) ([]*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID && b.Status == model.BetOpen {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string) ([]*model.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WalletTransaction, 0, len(s.txs[userID]))
	for _, t := range s.txs[userID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) appendTx(userID string, amount int64, txType model.TxType, reason string, betID *string) {
	s.txSeq++
	s.txs[userID] = append(s.txs[userID], &model.WalletTransaction{
		ID:          s.txSeq,
		UserID:      userID,
		AmountCents: amount,
		Type:        txType,
		Reason:      reason,
		BetID:       betID,
		CreatedAt:   time.Now().UTC(),
	})
}
