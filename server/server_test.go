package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"flipd/game"
	"flipd/payment"
	"flipd/storage"
)

const (
	testPlayer    = "0x1111111111111111111111111111111111111111"
	testRecipient = "0x2222222222222222222222222222222222222222"
)

type testLocator struct {
	found map[string]*payment.Found
}

func (l *testLocator) Find(_ context.Context, q payment.Query) *payment.Found {
	return l.found[q.ExpectedData]
}

type paidPayout struct{}

func (paidPayout) Execute(_ context.Context, _, winner, amountDecimal string) game.Payout {
	return game.Payout{Status: game.PayoutPaid, To: winner, Amount: amountDecimal, TxHash: "0xpayout"}
}

func newTestServer(t *testing.T, draw func() int, cfg Config) (*Server, *testLocator) {
	t.Helper()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "rounds.json"))
	require.NoError(t, err)
	locator := &testLocator{found: make(map[string]*payment.Found)}
	if draw == nil {
		draw = func() int { return 3 }
	}
	engine, err := game.NewEngine(
		game.Config{Recipient: testRecipient, EntryAmount: "0.1", PayoutAmount: "0.2", LinkBase: "https://flip.test"},
		store, locator, nil, paidPayout{},
		game.WithDraw(draw),
	)
	require.NoError(t, err)
	cfg.Engine = engine
	return New(cfg), locator
}

func createRound(t *testing.T, handler http.Handler, player, move string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"player":"` + player + `","move":"` + move + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rounds", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeRound(t *testing.T, recorder *httptest.ResponseRecorder) game.Round {
	t.Helper()
	var round game.Round
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &round))
	return round
}

func TestCreateRoundEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, Config{})
	recorder := createRound(t, srv.Handler(), testPlayer, "heads")
	require.Equal(t, http.StatusCreated, recorder.Code)
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	round := decodeRound(t, recorder)
	require.NotEmpty(t, round.ID)
	require.Equal(t, game.StatusAwaitingPayment, round.Status)
	require.Equal(t, testPlayer, round.Player)
	require.Contains(t, round.Payment.Link, "https://flip.test/pay?")
}

func TestCreateRoundValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil, Config{})
	handler := srv.Handler()

	recorder := createRound(t, handler, "nope", "heads")
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = createRound(t, handler, testPlayer, "edge")
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rounds", strings.NewReader("{not json"))
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCreateRoundConflictEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, nil, Config{})
	handler := srv.Handler()

	first := decodeRound(t, createRound(t, handler, testPlayer, "heads"))

	recorder := createRound(t, handler, testPlayer, "tails")
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var envelope struct {
		Error   string `json:"error"`
		RoundID string `json:"roundId"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Error)
	require.Equal(t, first.ID, envelope.RoundID)
}

func TestGetRoundDrivesLifecycle(t *testing.T) {
	srv, locator := newTestServer(t, func() int { return 0 }, Config{})
	handler := srv.Handler()

	created := decodeRound(t, createRound(t, handler, testPlayer, "heads"))

	// No payment yet: GET returns the round unchanged.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rounds/"+created.ID, nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, game.StatusAwaitingPayment, decodeRound(t, recorder).Status)

	// Payment lands; the next read completes the round.
	locator.found[created.Payment.ExpectedData] = &payment.Found{TxHash: "0xpaid", From: testPlayer, Source: "feed"}
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/rounds/"+created.ID, nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	round := decodeRound(t, recorder)
	require.Equal(t, game.StatusCompleted, round.Status)
	require.Equal(t, game.OutcomeWin, round.Result.Outcome)
	require.Equal(t, game.PayoutPaid, round.Payout.Status)
}

func TestGetRoundNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil, Config{})
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/rounds/missing", nil))
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestListEndpoints(t *testing.T) {
	srv, locator := newTestServer(t, func() int { return 0 }, Config{})
	handler := srv.Handler()

	created := decodeRound(t, createRound(t, handler, testPlayer, "heads"))
	locator.found[created.Payment.ExpectedData] = &payment.Found{TxHash: "0xpaid", From: testPlayer, Source: "feed"}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/rounds", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var listing struct {
		Rounds []game.Round `json:"rounds"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &listing))
	require.Len(t, listing.Rounds, 1)
	require.Equal(t, game.StatusCompleted, listing.Rounds[0].Status)

	// The round completed during the list read, so the pending filter is empty.
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/players/"+testPlayer+"/rounds?pending=true", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &listing))
	require.Empty(t, listing.Rounds)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/players/"+testPlayer+"/rounds", nil))
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &listing))
	require.Len(t, listing.Rounds, 1)
}

func TestCreateRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, nil, Config{CreateRatePerMinute: 60, CreateBurst: 2})
	handler := srv.Handler()

	players := []string{
		"0x3333333333333333333333333333333333333333",
		"0x4444444444444444444444444444444444444444",
		"0x5555555555555555555555555555555555555555",
	}
	codes := make([]int, 0, len(players))
	for _, player := range players {
		recorder := createRound(t, handler, player, "heads")
		codes = append(codes, recorder.Code)
	}
	require.Equal(t, http.StatusCreated, codes[0])
	require.Equal(t, http.StatusCreated, codes[1])
	require.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil, Config{})
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
}
