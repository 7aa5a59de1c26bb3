package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/api/dto"
	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/ledger"
	"github.com/radieske/bet-core-engine/internal/market"
	mcache "github.com/radieske/bet-core-engine/internal/market/cache"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

// Markets é o recorte de leitura do market store usado pela API
type Markets interface {
	ListMatches(ctx context.Context) ([]model.Match, error)
	MarketView(ctx context.Context, matchID string) (events.MarketsUpdate, error)
}

// Server expõe a API pública do core: apostas, carteira e leitura de mercados.
// A identidade verificada chega no header X-User-ID (camada de autenticação a
// montante, fora do escopo deste serviço).
type Server struct {
	log     *zap.Logger
	ledger  *ledger.Service
	markets Markets
	cache   *mcache.Cache
	ws      http.Handler
}

func NewServer(log *zap.Logger, l *ledger.Service, m Markets, c *mcache.Cache, ws http.Handler) *Server {
	return &Server{log: log, ledger: l, markets: m, cache: c, ws: ws}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bets", s.bets)            // POST place, GET list
	mux.HandleFunc("/bets/", s.getBet)         // GET /bets/{id}
	mux.HandleFunc("/wallet", s.getWallet)     // GET
	mux.HandleFunc("/wallet/deposit", s.deposit)
	mux.HandleFunc("/wallet/adjust", s.adjust)
	mux.HandleFunc("/wallet/transactions", s.transactions)
	mux.HandleFunc("/matches", s.listMatches)  // GET
	mux.HandleFunc("/matches/", s.getMarkets)  // GET /matches/{id}/markets
	if s.ws != nil {
		mux.Handle("/ws", s.ws)
	}
	return mux
}

// userID extrai a identidade autenticada da requisição
func userID(r *http.Request) string { return r.Header.Get("X-User-ID") }

func (s *Server) bets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.placeBet(w, r)
	case http.MethodGet:
		s.listBets(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing user identity")
		return
	}

	var req dto.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "bad json")
		return
	}
	if req.MatchID == "" || req.MarketID == "" || req.RunnerID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "matchId, marketId and runnerId are required")
		return
	}

	bet, err := s.ledger.PlaceBet(r.Context(), ledger.PlaceBetParams{
		UserID:     uid,
		MatchID:    req.MatchID,
		MarketID:   req.MarketID,
		RunnerID:   req.RunnerID,
		Side:       model.BetSide(strings.ToUpper(req.Type)),
		Odds:       req.Odds,
		StakeCents: req.StakeCents,
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, betResponse(bet))
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing user identity")
		return
	}
	bets, err := s.ledger.ListBets(r.Context(), uid)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	out := make([]dto.BetResponse, 0, len(bets))
	for _, b := range bets {
		out = append(out, betResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/bets/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "betId required")
		return
	}
	bet, err := s.ledger.GetBet(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, betResponse(bet))
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing user identity")
		return
	}
	u, err := s.ledger.GetWallet(r.Context(), uid)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{
		UserID:        u.ID,
		BalanceCents:  u.BalanceCents,
		ExposureCents: u.ExposureCents,
		Currency:      u.Currency,
	})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing user identity")
		return
	}
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid payload")
		return
	}
	u, err := s.ledger.Deposit(r.Context(), uid, req.AmountCents, req.ExternalRef)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{
		UserID:        u.ID,
		BalanceCents:  u.BalanceCents,
		ExposureCents: u.ExposureCents,
		Currency:      u.Currency,
	})
}

// adjust é o ponto de entrada dos mini-jogos de cassino (stake/prêmio direto
// na carteira, sem aposta associada)
func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.AmountCents == 0 || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid payload")
		return
	}
	u, err := s.ledger.CreditAdjustment(r.Context(), req.UserID, req.AmountCents, req.Reason)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{
		UserID:        u.ID,
		BalanceCents:  u.BalanceCents,
		ExposureCents: u.ExposureCents,
		Currency:      u.Currency,
	})
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing user identity")
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), uid)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	out := make([]dto.TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, dto.TransactionResponse{
			ID:          t.ID,
			AmountCents: t.AmountCents,
			Type:        string(t.Type),
			Reason:      t.Reason,
			BetID:       t.BetID,
			CreatedAt:   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	matches, err := s.markets.ListMatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// getMarkets serve a visão corrente de mercados de uma partida; tenta o
// snapshot em cache antes do banco (mesmo shape do evento markets:update)
func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// path: /matches/{id}/markets
	matchID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/matches/"), "/markets")
	if matchID == "" || strings.Contains(matchID, "/") {
		writeError(w, http.StatusBadRequest, "VALIDATION", "matchId required")
		return
	}

	if s.cache != nil {
		if view, ok, err := s.cache.GetSnapshot(r.Context(), matchID); err == nil && ok {
			writeJSON(w, http.StatusOK, view)
			return
		}
	}

	view, err := s.markets.MarketView(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, market.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "match not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "STORAGE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// writeLedgerError traduz a taxonomia do ledger para HTTP
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "INSUFFICIENT_BALANCE", err.Error())
	case errors.Is(err, ledger.ErrMarketNotOpen):
		writeError(w, http.StatusConflict, "MARKET_NOT_OPEN", err.Error())
	case errors.Is(err, ledger.ErrAlreadySettled):
		writeError(w, http.StatusConflict, "ALREADY_SETTLED", err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		s.log.Error("ledger error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "STORAGE", "internal error")
	}
}

func betResponse(b *model.Bet) dto.BetResponse {
	return dto.BetResponse{
		BetID:                b.ID,
		MatchID:              b.MatchID,
		MarketID:             b.MarketID,
		RunnerID:             b.RunnerID,
		Type:                 string(b.Side),
		Odds:                 b.Odds,
		StakeCents:           b.StakeCents,
		ReservedCents:        b.ReservedCents,
		PotentialProfitCents: b.PotentialProfitCents,
		Status:               string(b.Status),
		CreatedAt:            b.CreatedAt,
		SettledAt:            b.SettledAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Code: code, Error: msg})
}
