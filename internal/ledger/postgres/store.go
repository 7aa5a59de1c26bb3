package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/ledger"
)

// Store implementa ledger.Store sobre Postgres.
// Exclusão por usuário e por mercado via lock pessimista (FOR UPDATE) na
// linha correspondente; cada operação é uma transação única.
type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

// storageErr envelopa falhas de infraestrutura como transitórias/retryable
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ledger.ErrStorage, op, err)
}

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, currency, balance_cents, exposure_cents, created_at
		FROM users WHERE id=$1`, userID).
		Scan(&u.ID, &u.Name, &u.Currency, &u.BalanceCents, &u.ExposureCents, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", ledger.ErrNotFound, userID)
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return u, nil
}

// PlaceBet executa a unidade atômica de colocação:
// lock do mercado (checagem OPEN) → lock do usuário → checagem de saldo →
// débito da reserva → linha da aposta → linha de auditoria.
// A ordem mercado→usuário é fixa para evitar deadlock com a liquidação.
func (s *Store) PlaceBet(ctx context.Context, bet *model.Bet) (*model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	// Checagem "mercado OPEN" sob o mesmo lock que as transições de status,
	// pra uma suspensão concorrente não admitir aposta em mercado fechando
	var mStatus string
	var matchID string
	err = tx.QueryRowContext(ctx,
		`SELECT status, match_id FROM markets WHERE id=$1 FOR UPDATE`, bet.MarketID).
		Scan(&mStatus, &matchID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: market %s", ledger.ErrNotFound, bet.MarketID)
	}
	if err != nil {
		return nil, storageErr("lock market", err)
	}
	if model.MarketStatus(mStatus) != model.MarketOpen {
		return nil, fmt.Errorf("%w: market %s is %s", ledger.ErrMarketNotOpen, bet.MarketID, mStatus)
	}
	bet.MatchID = matchID

	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM runners WHERE id=$1 AND market_id=$2)`,
		bet.RunnerID, bet.MarketID).Scan(&exists); err != nil {
		return nil, storageErr("check runner", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: runner %s", ledger.ErrNotFound, bet.RunnerID)
	}

	u, err := lockUser(ctx, tx, bet.UserID)
	if err != nil {
		return nil, err
	}

	if u.BalanceCents < bet.ReservedCents {
		return nil, fmt.Errorf("%w: have %d, need %d",
			ledger.ErrInsufficientBalance, u.BalanceCents, bet.ReservedCents)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_cents = balance_cents - $1,
		                 exposure_cents = exposure_cents + $1
		WHERE id=$2`, bet.ReservedCents, bet.UserID); err != nil {
		return nil, storageErr("debit", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO bets (id, user_id, match_id, market_id, runner_id, side, odds,
		                  stake_cents, reserved_cents, potential_profit_cents, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'OPEN',$11)`,
		bet.ID, bet.UserID, bet.MatchID, bet.MarketID, bet.RunnerID, bet.Side, bet.Odds,
		bet.StakeCents, bet.ReservedCents, bet.PotentialProfitCents, bet.CreatedAt); err != nil {
		return nil, storageErr("insert bet", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (user_id, amount_cents, tx_type, reason, bet_id)
		VALUES ($1,$2,$3,$4,$5)`,
		bet.UserID, -bet.ReservedCents, model.TxBetPlace, "bet:place:"+bet.ID, bet.ID); err != nil {
		return nil, storageErr("insert audit", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}

	u.BalanceCents -= bet.ReservedCents
	u.ExposureCents += bet.ReservedCents
	return u, nil
}

// SettleBet aplica a transição terminal e o crédito correspondente.
// O guard OPEN sob FOR UPDATE garante exatamente-uma liquidação por aposta.
func (s *Store) SettleBet(ctx context.Context, betID string, status model.BetStatus, creditCents int64, txType model.TxType, reason string) (*model.Bet, *model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	bet, err := scanBet(tx.QueryRowContext(ctx, betSelect+` WHERE id=$1 FOR UPDATE`, betID))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: bet %s", ledger.ErrNotFound, betID)
	}
	if err != nil {
		return nil, nil, storageErr("lock bet", err)
	}

	if bet.Status != model.BetOpen {
		return nil, nil, fmt.Errorf("%w: bet %s is %s", ledger.ErrAlreadySettled, betID, bet.Status)
	}

	u, err := lockUser(ctx, tx, bet.UserID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`UPDATE bets SET status=$1, settled_at=$2 WHERE id=$3`,
		status, now, betID); err != nil {
		return nil, nil, storageErr("settle bet", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_cents = balance_cents + $1,
		                 exposure_cents = exposure_cents - $2
		WHERE id=$3`, creditCents, bet.ReservedCents, bet.UserID); err != nil {
		return nil, nil, storageErr("credit", err)
	}

	// LOST não movimenta saldo e por isso não gera lançamento
	if creditCents != 0 {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO wallet_transactions (user_id, amount_cents, tx_type, reason, bet_id)
			VALUES ($1,$2,$3,$4,$5)`,
			bet.UserID, creditCents, txType, reason, betID); err != nil {
			return nil, nil, storageErr("insert audit", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, storageErr("commit", err)
	}

	bet.Status = status
	bet.SettledAt = &now
	u.BalanceCents += creditCents
	u.ExposureCents -= bet.ReservedCents
	return bet, u, nil
}

// Adjust aplica variação manual de saldo; recusa saldo negativo
func (s *Store) Adjust(ctx context.Context, userID string, amountCents int64, txType model.TxType, reason string) (*model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	u, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if u.BalanceCents+amountCents < 0 {
		return nil, fmt.Errorf("%w: have %d, need %d",
			ledger.ErrInsufficientBalance, u.BalanceCents, -amountCents)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE users SET balance_cents = balance_cents + $1 WHERE id=$2`,
		amountCents, userID); err != nil {
		return nil, storageErr("adjust", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (user_id, amount_cents, tx_type, reason)
		VALUES ($1,$2,$3,$4)`, userID, amountCents, txType, reason); err != nil {
		return nil, storageErr("insert audit", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}

	u.BalanceCents += amountCents
	return u, nil
}

const betSelect = `
	SELECT id, user_id, match_id, market_id, runner_id, side, odds,
	       stake_cents, reserved_cents, potential_profit_cents, status, created_at, settled_at
	FROM bets`

type rowScanner interface{ Scan(dest ...any) error }

func scanBet(r rowScanner) (*model.Bet, error) {
	b := &model.Bet{}
	var settledAt sql.NullTime
	err := r.Scan(&b.ID, &b.UserID, &b.MatchID, &b.MarketID, &b.RunnerID, &b.Side, &b.Odds,
		&b.StakeCents, &b.ReservedCents, &b.PotentialProfitCents, &b.Status, &b.CreatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	if settledAt.Valid {
		b.SettledAt = &settledAt.Time
	}
	return b, nil
}

func (s *Store) GetBet(ctx context.Context, betID string) (*model.Bet, error) {
	bet, err := scanBet(s.db.QueryRowContext(ctx, betSelect+` WHERE id=$1`, betID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: bet %s", ledger.ErrNotFound, betID)
	}
	if err != nil {
		return nil, storageErr("get bet", err)
	}
	return bet, nil
}

func (s *Store) ListBetsByUser(ctx context.Context, userID string) ([]*model.Bet, error) {
	return s.listBets(ctx, betSelect+` WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (s *Store) ListOpenBetsByMarket(ctx context.Context, marketID string) ([]*model.Bet, error) {
	return s.listBets(ctx, betSelect+` WHERE market_id=$1 AND status='OPEN' ORDER BY created_at`, marketID)
}

func (s *Store) listBets(ctx context.Context, q string, arg any) ([]*model.Bet, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, storageErr("list bets", err)
	}
	defer rows.Close()

	var out []*model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, storageErr("scan bet", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]*model.WalletTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount_cents, tx_type, reason, bet_id, created_at
		FROM wallet_transactions WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	defer rows.Close()

	var out []*model.WalletTransaction
	for rows.Next() {
		t := &model.WalletTransaction{}
		var betID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.AmountCents, &t.Type, &t.Reason, &betID, &t.CreatedAt); err != nil {
			return nil, storageErr("scan transaction", err)
		}
		if betID.Valid {
			t.BetID = &betID.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// lockUser trava a linha do usuário (seção exclusiva por carteira)
func lockUser(ctx context.Context, tx *sql.Tx, userID string) (*model.User, error) {
	u := &model.User{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, name, currency, balance_cents, exposure_cents, created_at
		FROM users WHERE id=$1 FOR UPDATE`, userID).
		Scan(&u.ID, &u.Name, &u.Currency, &u.BalanceCents, &u.ExposureCents, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ledger.ErrNotFound, userID)
	}
	if err != nil {
		return nil, storageErr("lock user", err)
	}
	return u, nil
}
