package ledger

import (
	"errors"
	"fmt"
)

// Taxonomia de erros do ledger. Validação e saldo voltam direto ao chamador;
// ErrStorage e ErrConcurrencyConflict passam por retentativa interna antes de
// subir.
var (
	ErrValidation          = errors.New("validation error")
	ErrInvalidStake        = fmt.Errorf("%w: invalid stake", ErrValidation)
	ErrInvalidOdds         = fmt.Errorf("%w: invalid odds", ErrValidation)
	ErrInvalidSide         = fmt.Errorf("%w: invalid bet side", ErrValidation)
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMarketNotOpen       = errors.New("market not open")
	ErrAlreadySettled      = errors.New("bet already settled")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrStorage             = errors.New("storage failure")
)

// Retryable indica falha transitória que justifica nova tentativa
func Retryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrConcurrencyConflict)
}
