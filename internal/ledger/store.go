package ledger

import (
	"context"

	"github.com/radieske/bet-core-engine/internal/core/model"
)

// Store define as operações atômicas de persistência do ledger.
// Cada método de escrita é uma unidade indivisível: ou todos os efeitos
// (checagem, débito/crédito, linha de aposta, linha de auditoria) são
// aplicados, ou nenhum.
type Store interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)

	// PlaceBet valida mercado OPEN e saldo suficiente sob exclusão de linha,
	// debita a reserva, insere a aposta e o lançamento de auditoria.
	// Retorna o usuário já atualizado.
	PlaceBet(ctx context.Context, bet *model.Bet) (*model.User, error)

	// SettleBet leva a aposta de OPEN ao estado terminal indicado, credita
	// creditCents (0 para LOST), libera a exposição reservada e registra o
	// lançamento de auditoria quando há crédito.
	// Aposta fora de OPEN: ErrAlreadySettled, sem efeito colateral.
	SettleBet(ctx context.Context, betID string, status model.BetStatus, creditCents int64, txType model.TxType, reason string) (*model.Bet, *model.User, error)

	// Adjust aplica uma variação manual de saldo com lançamento de auditoria.
	// Nunca deixa o saldo negativo.
	Adjust(ctx context.Context, userID string, amountCents int64, txType model.TxType, reason string) (*model.User, error)

	GetBet(ctx context.Context, betID string) (*model.Bet, error)
	ListBetsByUser(ctx context.Context, userID string) ([]*model.Bet, error)
	ListOpenBetsByMarket(ctx context.Context, marketID string) ([]*model.Bet, error)
	ListTransactions(ctx context.Context, userID string) ([]*model.WalletTransaction, error)
}
