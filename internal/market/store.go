package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store é o dono da árvore partida→mercado→runner e da máquina de cinco
// estados do mercado. Odds/volume só mudam pelo feed (ApplyOddsUpdate);
// transições de status passam por lock pessimista na linha do mercado, o
// mesmo lock usado pela colocação de apostas; suspensão e placeBet nunca
// se intercalam de forma a admitir aposta em mercado fechando.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func New(db *sql.DB, log *zap.Logger) *Store { return &Store{db: db, log: log} }

func (s *Store) UpsertMatch(ctx context.Context, m model.Match) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (id, sport, home_team, away_team, status, starts_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
		  sport=EXCLUDED.sport, home_team=EXCLUDED.home_team,
		  away_team=EXCLUDED.away_team, starts_at=EXCLUDED.starts_at`,
		m.ID, m.Sport, m.HomeTeam, m.AwayTeam, m.Status, m.StartsAt)
	return err
}

func (s *Store) UpsertMarket(ctx context.Context, m model.Market) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (id, match_id, name, kind, status, close_time)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
		  name=EXCLUDED.name, kind=EXCLUDED.kind, close_time=EXCLUDED.close_time`,
		m.ID, m.MatchID, m.Name, m.Kind, m.Status, m.CloseTime)
	return err
}

func (s *Store) UpsertRunner(ctx context.Context, r model.Runner) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runners (id, market_id, name, back_odds, lay_odds, volume, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
		  name=EXCLUDED.name, back_odds=EXCLUDED.back_odds,
		  lay_odds=EXCLUDED.lay_odds, volume=EXCLUDED.volume, version=EXCLUDED.version`,
		r.ID, r.MarketID, r.Name, r.BackOdds, r.LayOdds, r.Volume, r.Version)
	return err
}

// SetMatchStatus avança o ciclo de vida da partida; regressão é recusada
func (s *Store) SetMatchStatus(ctx context.Context, matchID string, to model.MatchStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cur model.MatchStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM matches WHERE id=$1 FOR UPDATE`, matchID).Scan(&cur)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	if err != nil {
		return err
	}
	if cur == to {
		return tx.Commit() // idempotente
	}
	if !cur.CanTransition(to) {
		return fmt.Errorf("%w: match %s %s -> %s", ErrInvalidTransition, matchID, cur, to)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE matches SET status=$1 WHERE id=$2`, to, matchID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetMarketStatus aplica uma transição da máquina de estados do mercado sob o
// lock da linha. CLOSED→SETTLED só deve ser pedido pelo motor de liquidação.
func (s *Store) SetMarketStatus(ctx context.Context, marketID string, to model.MarketStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cur model.MarketStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM markets WHERE id=$1 FOR UPDATE`, marketID).Scan(&cur)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: market %s", ErrNotFound, marketID)
	}
	if err != nil {
		return err
	}
	if cur == to {
		return tx.Commit()
	}
	if !cur.CanTransition(to) {
		return fmt.Errorf("%w: market %s %s -> %s", ErrInvalidTransition, marketID, cur, to)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE markets SET status=$1 WHERE id=$2`, to, marketID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetMarketStatus(ctx context.Context, marketID string) (model.MarketStatus, error) {
	var st model.MarketStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM markets WHERE id=$1`, marketID).Scan(&st)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: market %s", ErrNotFound, marketID)
	}
	return st, err
}

// ApplyOddsUpdate troca em bloco os campos vivos do runner e grava histórico.
// Atualizações fora de ordem (version menor ou igual à corrente) são ignoradas.
func (s *Store) ApplyOddsUpdate(ctx context.Context, ev events.RunnerOddsUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runners SET back_odds=$1, lay_odds=$2, volume=$3, version=$4
		WHERE id=$5 AND market_id=$6 AND version < $4`,
		ev.BackOdds, ev.LayOdds, ev.Volume, ev.Version, ev.RunnerID, ev.MarketID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Debug("stale odds update ignored",
			zap.String("runner_id", ev.RunnerID), zap.Int("version", ev.Version))
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO odds_history (runner_id, back_odds, lay_odds, volume, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ev.RunnerID, ev.BackOdds, ev.LayOdds, ev.Volume, ev.Version, ev.UpdatedAt)
	return err
}

// UpdateScore registra o placar corrente da partida
func (s *Store) UpdateScore(ctx context.Context, matchID string, home, away int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET home_score=$1, away_score=$2 WHERE id=$3`, home, away, matchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return nil
}

func (s *Store) ListMatches(ctx context.Context) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sport, home_team, away_team, status, home_score, away_score, starts_at
		FROM matches ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ID, &m.Sport, &m.HomeTeam, &m.AwayTeam, &m.Status,
			&m.HomeScore, &m.AwayScore, &m.StartsAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarketView monta a visão de mercados de uma partida no formato do evento
// markets:update (mesmo shape servido pela API de leitura)
func (s *Store) MarketView(ctx context.Context, matchID string) (events.MarketsUpdate, error) {
	out := events.MarketsUpdate{MatchID: matchID}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.name, m.kind, m.status, m.close_time,
		       r.id, r.name, r.back_odds
		FROM markets m
		JOIN runners r ON r.market_id = m.id
		WHERE m.match_id=$1
		ORDER BY m.id, r.id`, matchID)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	last := -1
	for rows.Next() {
		var mv events.MarketView
		var o events.OutcomeView
		if err := rows.Scan(&mv.ID, &mv.Name, &mv.Type, &mv.Status, &mv.CloseTime,
			&o.ID, &o.Name, &o.Odds); err != nil {
			return out, err
		}
		if last < 0 || out.Markets[last].ID != mv.ID {
			out.Markets = append(out.Markets, mv)
			last = len(out.Markets) - 1
		}
		out.Markets[last].Outcomes = append(out.Markets[last].Outcomes, o)
	}
	if len(out.Markets) == 0 {
		return out, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return out, rows.Err()
}
