package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quitanda/escrowops/internal/api"
	"github.com/quitanda/escrowops/internal/domain"
	"github.com/quitanda/escrowops/internal/escrow"
	"github.com/quitanda/escrowops/internal/store"
)

type apiEnv struct {
	server *httptest.Server
	buyer  uuid.UUID
	seller uuid.UUID
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := escrow.NewEngine(mem, escrow.PartyAuthorizer{}, nil, logger)

	r := mux.NewRouter()
	api.NewHandler(engine, logger).Register(r)

	env := &apiEnv{
		server: httptest.NewServer(r),
		buyer:  uuid.New(),
		seller: uuid.New(),
	}
	t.Cleanup(env.server.Close)

	for _, id := range []uuid.UUID{env.buyer, env.seller} {
		err := mem.CreateUser(context.Background(), &domain.User{ID: id, Name: "party"})
		require.NoError(t, err)
	}
	return env
}

func (env *apiEnv) do(t *testing.T, method, path string, actor uuid.UUID, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	require.NoError(t, err)
	if actor != uuid.Nil {
		req.Header.Set("X-User-ID", actor.String())
	}

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (env *apiEnv) createTransaction(t *testing.T, amount string) domain.PaymentTransaction {
	t.Helper()
	resp, body := env.do(t, "POST", "/api/v1/transactions", env.buyer, map[string]string{
		"buyer_id":  env.buyer.String(),
		"seller_id": env.seller.String(),
		"amount":    amount,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var txn domain.PaymentTransaction
	require.NoError(t, json.Unmarshal(body, &txn))
	return txn
}

func TestMissingActorHeaderRejected(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.do(t, "GET", "/api/v1/transactions", uuid.Nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateTransactionEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	txn := env.createTransaction(t, "1000")

	require.Equal(t, domain.StatusPending, txn.Status)
	require.Equal(t, "AOA", txn.Currency)
	require.True(t, txn.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestCreateTransactionErrors(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, "POST", "/api/v1/transactions", env.buyer, map[string]string{
		"buyer_id":  env.buyer.String(),
		"seller_id": env.buyer.String(),
		"amount":    "100",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/api/v1/transactions", env.buyer, map[string]string{
		"buyer_id":  env.buyer.String(),
		"seller_id": uuid.NewString(),
		"amount":    "100",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/api/v1/transactions", env.buyer, map[string]string{
		"buyer_id":  env.buyer.String(),
		"seller_id": env.seller.String(),
		"amount":    "-3",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Omitting a party id is a malformed request, not a missing resource.
	resp, _ = env.do(t, "POST", "/api/v1/transactions", env.buyer, map[string]string{
		"seller_id": env.seller.String(),
		"amount":    "100",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirmFlowOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	txn := env.createTransaction(t, "1000")
	path := "/api/v1/transactions/" + txn.ID.String()

	resp, body := env.do(t, "POST", path+"/confirm", env.seller, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var afterSeller domain.PaymentTransaction
	require.NoError(t, json.Unmarshal(body, &afterSeller))
	require.Equal(t, domain.StatusSellerConfirmed, afterSeller.Status)

	resp, body = env.do(t, "POST", path+"/confirm", env.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var afterBuyer domain.PaymentTransaction
	require.NoError(t, json.Unmarshal(body, &afterBuyer))
	require.Equal(t, domain.StatusReleased, afterBuyer.Status)
	require.NotNil(t, afterBuyer.ReleasedAt)

	resp, body = env.do(t, "GET", "/api/v1/wallets/"+env.seller.String(), env.seller, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wallet domain.WalletBalance
	require.NoError(t, json.Unmarshal(body, &wallet))
	require.True(t, wallet.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestWalletEndpointUnknownUser(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.do(t, "GET", "/api/v1/wallets/"+uuid.NewString(), env.buyer, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfirmAuthorizationOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	txn := env.createTransaction(t, "100")

	resp, _ := env.do(t, "POST", "/api/v1/transactions/"+txn.ID.String()+"/confirm", uuid.New(), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/api/v1/transactions/"+uuid.NewString()+"/confirm", env.buyer, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReleaseEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	txn := env.createTransaction(t, "500")
	path := "/api/v1/transactions/" + txn.ID.String() + "/release"

	resp, _ := env.do(t, "POST", path, env.seller, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.do(t, "POST", path, env.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]bool
	require.NoError(t, json.Unmarshal(body, &result))
	require.True(t, result["success"])

	// Retry must stay a success and must not double-credit.
	resp, _ = env.do(t, "POST", path, env.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, "GET", "/api/v1/wallets/"+env.seller.String(), env.seller, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wallet domain.WalletBalance
	require.NoError(t, json.Unmarshal(body, &wallet))
	require.True(t, wallet.Balance.Equal(decimal.NewFromInt(500)))
}

func TestDisputeEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	txn := env.createTransaction(t, "300")
	base := "/api/v1/transactions/" + txn.ID.String()

	resp, _ := env.do(t, "POST", base+"/dispute", env.seller, map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, "POST", base+"/dispute", env.seller, map[string]string{"reason": "crop damaged in transit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var disputed domain.PaymentTransaction
	require.NoError(t, json.Unmarshal(body, &disputed))
	require.Equal(t, domain.StatusDisputed, disputed.Status)

	resp, _ = env.do(t, "POST", base+"/confirm", env.buyer, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDisputeAfterReleaseConflict(t *testing.T) {
	env := newAPIEnv(t)
	txn := env.createTransaction(t, "300")
	base := "/api/v1/transactions/" + txn.ID.String()

	resp, _ := env.do(t, "POST", base+"/release", env.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, "POST", base+"/dispute", env.buyer, map[string]string{"reason": "changed my mind"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.createTransaction(t, "10")
	second := env.createTransaction(t, "20")

	resp, body := env.do(t, "GET", "/api/v1/transactions?buyer_id="+env.buyer.String(), env.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var txns []domain.PaymentTransaction
	require.NoError(t, json.Unmarshal(body, &txns))
	require.Len(t, txns, 2)
	require.Equal(t, second.ID, txns[0].ID)

	resp, _ = env.do(t, "GET", "/api/v1/transactions?status=bogus", env.buyer, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "GET", "/api/v1/transactions?limit=nope", env.buyer, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTransactionEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	txn := env.createTransaction(t, "42")

	resp, body := env.do(t, "GET", "/api/v1/transactions/"+txn.ID.String(), env.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.PaymentTransaction
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, txn.ID, got.ID)

	resp, _ = env.do(t, "GET", "/api/v1/transactions/"+uuid.NewString(), env.buyer, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, "GET", "/api/v1/transactions/not-a-uuid", env.buyer, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestIDEcho(t *testing.T) {
	env := newAPIEnv(t)
	req, err := http.NewRequest("GET", env.server.URL+"/api/v1/transactions", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", env.buyer.String())
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}
