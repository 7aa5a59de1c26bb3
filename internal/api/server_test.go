package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/bet-core-engine/internal/api"
	"github.com/radieske/bet-core-engine/internal/api/dto"
	"github.com/radieske/bet-core-engine/internal/core/model"
	"github.com/radieske/bet-core-engine/internal/ledger"
	"github.com/radieske/bet-core-engine/internal/ledger/memory"
	"github.com/radieske/bet-core-engine/pkg/contracts/events"
)

const (
	userID   = "USER_001"
	matchID  = "MATCH_001"
	marketID = "MATCH_001_1X2"
	runnerID = "MATCH_001_HOME"
)

type fakeMarkets struct {
	matches []model.Match
	view    events.MarketsUpdate
}

func (f *fakeMarkets) ListMatches(_ context.Context) ([]model.Match, error) {
	return f.matches, nil
}

func (f *fakeMarkets) MarketView(_ context.Context, _ string) (events.MarketsUpdate, error) {
	return f.view, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.PutUser(model.User{ID: userID, Name: "Alice", Currency: "BRL", BalanceCents: 100_000})
	store.PutMarket(marketID, matchID, model.MarketOpen)
	store.PutRunner(runnerID, marketID)

	svc := ledger.New(zap.NewNop(), store, nil)
	markets := &fakeMarkets{
		matches: []model.Match{{ID: matchID, HomeTeam: "Flamengo", AwayTeam: "Palmeiras", Status: model.MatchLive}},
		view:    events.MarketsUpdate{MatchID: matchID},
	}
	srv := api.NewServer(zap.NewNop(), svc, markets, nil, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func placeReq(stake int64, odds float64) dto.PlaceBetRequest {
	return dto.PlaceBetRequest{
		MatchID:    matchID,
		MarketID:   marketID,
		RunnerID:   runnerID,
		Type:       "BACK",
		Odds:       odds,
		StakeCents: stake,
	}
}

func TestPlaceBetEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/bets", userID, placeReq(10_000, 2.5))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	bet := decode[dto.BetResponse](t, resp)
	assert.NotEmpty(t, bet.BetID)
	assert.Equal(t, "BACK", bet.Type)
	assert.Equal(t, int64(10_000), bet.ReservedCents)
	assert.Equal(t, int64(15_000), bet.PotentialProfitCents)
	assert.Equal(t, "OPEN", bet.Status)

	// a carteira reflete o débito
	wresp := doJSON(t, ts, http.MethodGet, "/wallet", userID, nil)
	require.Equal(t, http.StatusOK, wresp.StatusCode)
	w := decode[dto.WalletResponse](t, wresp)
	assert.Equal(t, int64(90_000), w.BalanceCents)
	assert.Equal(t, int64(10_000), w.ExposureCents)
}

func TestPlaceBetRequiresIdentity(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/bets", "", placeReq(10_000, 2.5))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	e := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "UNAUTHENTICATED", e.Code)
}

func TestPlaceBetValidationErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	// stake inválido
	resp := doJSON(t, ts, http.MethodPost, "/bets", userID, placeReq(0, 2.5))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", decode[dto.ErrorResponse](t, resp).Code)

	// odds no limite inferior
	resp = doJSON(t, ts, http.MethodPost, "/bets", userID, placeReq(10_000, 1.0))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// campos obrigatórios ausentes
	resp = doJSON(t, ts, http.MethodPost, "/bets", userID, dto.PlaceBetRequest{Type: "BACK", Odds: 2.0, StakeCents: 100})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestPlaceBetMarketNotOpen(t *testing.T) {
	ts, store := newTestServer(t)

	store.SetMarketStatus(marketID, model.MarketSuspended)

	resp := doJSON(t, ts, http.MethodPost, "/bets", userID, placeReq(10_000, 2.5))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "MARKET_NOT_OPEN", decode[dto.ErrorResponse](t, resp).Code)
}

func TestPlaceBetInsufficientBalance(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/bets", userID, placeReq(200_000, 2.0))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_BALANCE", decode[dto.ErrorResponse](t, resp).Code)
}

func TestGetBetNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/bets/nao-existe", userID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode[dto.ErrorResponse](t, resp).Code)
}

func TestListBets(t *testing.T) {
	ts, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := doJSON(t, ts, http.MethodPost, "/bets", userID, placeReq(1_000, 2.0))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, ts, http.MethodGet, "/bets", userID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bets := decode[[]dto.BetResponse](t, resp)
	assert.Len(t, bets, 3)
}

func TestDepositAndTransactions(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/wallet/deposit", userID, dto.DepositRequest{AmountCents: 5_000, ExternalRef: "pix-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	w := decode[dto.WalletResponse](t, resp)
	assert.Equal(t, int64(105_000), w.BalanceCents)

	resp = doJSON(t, ts, http.MethodPost, "/wallet/deposit", userID, dto.DepositRequest{AmountCents: -1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodGet, "/wallet/transactions", userID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txs := decode[[]dto.TransactionResponse](t, resp)
	require.Len(t, txs, 1)
	assert.Equal(t, "DEPOSIT", txs[0].Type)
}

func TestAdjustEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/wallet/adjust", "", dto.AdjustRequest{
		UserID:      userID,
		AmountCents: -2_500,
		Reason:      "casino:mines:round-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	w := decode[dto.WalletResponse](t, resp)
	assert.Equal(t, int64(97_500), w.BalanceCents)
}

// todo handler recusa o método errado em vez de cair no decode do corpo
func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct{ method, path string }{
		{http.MethodPost, "/wallet"},
		{http.MethodGet, "/wallet/deposit"},
		{http.MethodGet, "/wallet/adjust"},
		{http.MethodPost, "/wallet/transactions"},
		{http.MethodPost, "/matches"},
		{http.MethodPost, "/bets/some-id"},
		{http.MethodDelete, "/bets"},
	}
	for _, c := range cases {
		resp := doJSON(t, ts, c.method, c.path, userID, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "%s %s", c.method, c.path)
		resp.Body.Close()
	}
}

func TestListMatchesAndMarkets(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/matches", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	matches := decode[[]model.Match](t, resp)
	require.Len(t, matches, 1)
	assert.Equal(t, matchID, matches[0].ID)

	resp = doJSON(t, ts, http.MethodGet, "/matches/"+matchID+"/markets", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[events.MarketsUpdate](t, resp)
	assert.Equal(t, matchID, view.MatchID)
}
