package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/engine"
	"github.com/xtrntr/auctionhouse/internal/memstore"
)

type testServer struct {
	router      chi.Router
	authService *auth.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := memstore.New()
	authService := auth.NewAuthService(s, "test-secret", time.Hour)
	h := NewHandler(engine.New(s, engine.DefaultConfig()), authService, nil)
	return &testServer{router: h.Routes(), authService: authService}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var response map[string]any
	if bytes.HasPrefix(bytes.TrimSpace(w.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	}
	return w, response
}

// user registers a user and returns its id and token
func (ts *testServer) user(t *testing.T, username string, roles ...string) (int, string) {
	t.Helper()
	u, err := ts.authService.Register(context.Background(), username, "password123", "", roles)
	require.NoError(t, err)
	token, _, err := ts.authService.Login(context.Background(), username, "password123")
	require.NoError(t, err)
	return u.ID, token
}

func assertDecimal(t *testing.T, want string, got any) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "expected decimal string, got %T", got)
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(s)), "want %s, got %s", want, s)
}

func TestHandler_Register(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name           string
		requestBody    map[string]any
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Success",
			requestBody:    map[string]any{"username": "testuser", "password": "testpass"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Duplicate",
			requestBody:    map[string]any{"username": "testuser", "password": "other"},
			expectedStatus: http.StatusConflict,
			expectedCode:   "username_taken",
		},
		{
			name:           "MissingPassword",
			requestBody:    map[string]any{"username": "nopass"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_input",
		},
		{
			name:           "UnknownRole",
			requestBody:    map[string]any{"username": "admin", "password": "x", "roles": []string{"admin"}},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, http.MethodPost, "/auth/register", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, response["code"])
				assert.NotEmpty(t, response["error"])
				return
			}
			assert.Equal(t, "testuser", response["username"])
			assert.Equal(t, []any{"buyer", "seller"}, response["roles"])
		})
	}
}

func TestHandler_Login(t *testing.T) {
	ts := newTestServer(t)
	ts.user(t, "alice")

	tests := []struct {
		name           string
		requestBody    map[string]any
		expectedStatus int
	}{
		{"Success", map[string]any{"username": "alice", "password": "password123"}, http.StatusOK},
		{"WrongPassword", map[string]any{"username": "alice", "password": "nope"}, http.StatusUnauthorized},
		{"UnknownUser", map[string]any{"username": "bob", "password": "password123"}, http.StatusUnauthorized},
		{"EmptyBody", map[string]any{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, http.MethodPost, "/auth/login", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.NotEmpty(t, response["token"])
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestHandler_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/balance", "/me/bids", "/transactions"} {
		w, response := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "unauthorized", response["code"], path)
	}

	w, _ := ts.do(t, http.MethodGet, "/balance", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_AuctionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, sellerToken := ts.user(t, "gallery", "seller")
	buyerID, buyerToken := ts.user(t, "collector", "buyer")
	_, rivalToken := ts.user(t, "rival", "buyer")

	for _, token := range []string{buyerToken, rivalToken} {
		w, response := ts.do(t, http.MethodPost, "/deposits", token, map[string]any{"amount": "100"})
		require.Equal(t, http.StatusCreated, w.Code)
		assertDecimal(t, "100", response["available_balance"])
	}

	w, response := ts.do(t, http.MethodPost, "/auctions", sellerToken, map[string]any{
		"title":       "Study in <b>Blue</b>",
		"category":    "painting",
		"start_price": "10",
		"end_time":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "created", response["status"])
	auctionID := int(response["auction_id"].(float64))
	auctionPath := fmt.Sprintf("/auctions/%d", auctionID)

	bids := []struct {
		name           string
		token          string
		amount         any
		expectedStatus int
		expectedCode   string
	}{
		{"SelfBid", sellerToken, "20", http.StatusForbidden, "self_bid"},
		{"AtStartPrice", buyerToken, "10", http.StatusConflict, "bid_too_low"},
		{"Placed", buyerToken, "15", http.StatusCreated, ""},
		{"TooLow", rivalToken, "15", http.StatusConflict, "bid_too_low"},
		{"BeyondFunds", rivalToken, "500", http.StatusPaymentRequired, "insufficient_funds"},
		{"ZeroAmount", rivalToken, "0", http.StatusBadRequest, "invalid_input"},
		{"Outbid", rivalToken, 18, http.StatusCreated, ""},
		{"Retake", buyerToken, "20", http.StatusCreated, ""},
	}
	for _, tt := range bids {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, http.MethodPost, auctionPath+"/bids", tt.token, map[string]any{"amount": tt.amount})
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, response["code"])
			} else {
				assert.Equal(t, "bid_placed", response["status"])
			}
		})
	}

	w, response = ts.do(t, http.MethodGet, auctionPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assertDecimal(t, "20", response["current_price"])
	assert.Equal(t, float64(buyerID), response["highest_bidder_id"])
	artwork := response["artwork"].(map[string]any)
	assert.Equal(t, "Study in Blue", artwork["title"])

	w, response = ts.do(t, http.MethodGet, "/balance", rivalToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assertDecimal(t, "100", response["available_balance"])
	assertDecimal(t, "0", response["pending_balance"])

	w, response = ts.do(t, http.MethodPost, auctionPath+"/close", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_seller", response["code"])

	w, response = ts.do(t, http.MethodPost, auctionPath+"/close", sellerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", response["status"])
	assert.Equal(t, float64(buyerID), response["winner_id"])
	assert.Equal(t, "sold", response["outcome"])

	w, response = ts.do(t, http.MethodGet, "/balance", sellerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assertDecimal(t, "19.5", response["available_balance"])
	assertDecimal(t, "19.5", response["total_earned"])

	w, response = ts.do(t, http.MethodGet, "/balance/reconcile", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, response["consistent"])

	w, response = ts.do(t, http.MethodPost, auctionPath+"/bids", rivalToken, map[string]any{"amount": "50"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "auction_closed", response["code"])
}

func TestHandler_BidManagement(t *testing.T) {
	ts := newTestServer(t)
	_, sellerToken := ts.user(t, "gallery", "seller")
	_, buyerToken := ts.user(t, "collector", "buyer")
	_, otherToken := ts.user(t, "other", "buyer")
	ts.do(t, http.MethodPost, "/deposits", buyerToken, map[string]any{"amount": "100"})

	_, response := ts.do(t, http.MethodPost, "/auctions", sellerToken, map[string]any{
		"title":       "Untitled",
		"start_price": "5",
		"end_time":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	auctionPath := fmt.Sprintf("/auctions/%d", int(response["auction_id"].(float64)))

	_, response = ts.do(t, http.MethodPost, auctionPath+"/bids", buyerToken, map[string]any{"amount": "10"})
	bidPath := fmt.Sprintf("/bids/%d", int(response["bid_id"].(float64)))

	w, response := ts.do(t, http.MethodPut, bidPath, otherToken, map[string]any{"amount": "30"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_bid_owner", response["code"])

	w, response = ts.do(t, http.MethodPut, bidPath, buyerToken, map[string]any{"amount": "30"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bid_updated", response["status"])

	w, response = ts.do(t, http.MethodPost, auctionPath+"/cancel", sellerToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "auction_has_bids", response["code"])

	w, response = ts.do(t, http.MethodPost, bidPath+"/cancel", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bid_cancelled", response["status"])

	w, response = ts.do(t, http.MethodPost, bidPath+"/cancel", buyerToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "bid_inactive", response["code"])

	w, _ = ts.do(t, http.MethodGet, "/me/bids", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, false, mine[0]["is_active"])

	w, response = ts.do(t, http.MethodPost, auctionPath+"/cancel", sellerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", response["status"])

	w, response = ts.do(t, http.MethodPost, "/auctions/process-ended", sellerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), response["count"])
}

func TestHandler_ListAuctions(t *testing.T) {
	ts := newTestServer(t)
	_, sellerToken := ts.user(t, "gallery", "seller")
	for _, title := range []string{"Harbour at Dawn", "Mountain Pass"} {
		w, _ := ts.do(t, http.MethodPost, "/auctions", sellerToken, map[string]any{
			"title":       title,
			"category":    "painting",
			"start_price": "5",
			"end_time":    time.Now().Add(time.Hour).Format(time.RFC3339),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedCount  int
	}{
		{"All", "", http.StatusOK, 2},
		{"Keyword", "?q=harbour", http.StatusOK, 1},
		{"Category", "?category=sculpture", http.StatusOK, 0},
		{"Open", "?status=open&sort=price", http.StatusOK, 2},
		{"BadStatus", "?status=pending", http.StatusBadRequest, 0},
		{"BadSort", "?sort=random", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := ts.do(t, http.MethodGet, "/auctions"+tt.query, "", nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var list []map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
			assert.Len(t, list, tt.expectedCount)
		})
	}

	w, response := ts.do(t, http.MethodGet, "/auctions/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", response["code"])

	w, response = ts.do(t, http.MethodGet, "/auctions/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", response["code"])
}

func TestHandler_Wallet(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")

	tests := []struct {
		name           string
		path           string
		amount         any
		expectedStatus int
		expectedCode   string
	}{
		{"Deposit", "/deposits", "50", http.StatusCreated, ""},
		{"DepositNegative", "/deposits", "-5", http.StatusBadRequest, "invalid_input"},
		{"DepositFractionalCent", "/deposits", "1.005", http.StatusBadRequest, "invalid_input"},
		{"Withdraw", "/withdrawals", "20", http.StatusCreated, ""},
		{"Overdraw", "/withdrawals", "31", http.StatusPaymentRequired, "insufficient_funds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, http.MethodPost, tt.path, token, map[string]any{"amount": tt.amount})
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, response["code"])
			}
		})
	}

	w, response := ts.do(t, http.MethodGet, "/transactions?limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), response["total"])
	assert.Equal(t, float64(1), response["limit"])
	txs := response["transactions"].([]any)
	require.Len(t, txs, 1)
	assert.Equal(t, "withdrawal", txs[0].(map[string]any)["type"])

	_, response = ts.do(t, http.MethodGet, "/transactions?limit=5000", token, nil)
	assert.Equal(t, float64(200), response["limit"])

	_, response = ts.do(t, http.MethodGet, "/balance", token, nil)
	assertDecimal(t, "30", response["available_balance"])
}
