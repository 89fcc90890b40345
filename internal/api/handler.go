package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quitanda/escrowops/internal/domain"
	"github.com/quitanda/escrowops/internal/escrow"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	engine *escrow.Engine
	logger *slog.Logger
}

func NewHandler(engine *escrow.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// Register mounts the escrow routes on the router. Everything under the
// subrouter requires a resolved actor.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(RequestID, Actor)

	api.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	api.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	api.HandleFunc("/transactions/{id}", h.GetTransaction).Methods("GET")
	api.HandleFunc("/transactions/{id}/confirm", h.ConfirmTransaction).Methods("POST")
	api.HandleFunc("/transactions/{id}/release", h.ReleaseTransaction).Methods("POST")
	api.HandleFunc("/transactions/{id}/dispute", h.DisputeTransaction).Methods("POST")
	api.HandleFunc("/wallets/{user_id}", h.GetWallet).Methods("GET")
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req domain.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	txn, err := h.engine.Create(r.Context(), req)
	if err != nil {
		h.respondEngineError(w, r, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, txn, "POST", endpoint)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	var filter domain.TransactionFilter
	q := r.URL.Query()

	if raw := q.Get("buyer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid buyer_id", "GET", endpoint)
			return
		}
		filter.BuyerID = &id
	}
	if raw := q.Get("seller_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid seller_id", "GET", endpoint)
			return
		}
		filter.SellerID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status := domain.TransactionStatus(raw)
		if !status.Valid() {
			h.respondError(w, http.StatusBadRequest, "Invalid status", "GET", endpoint)
			return
		}
		filter.Status = &status
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondError(w, http.StatusBadRequest, "Invalid limit", "GET", endpoint)
			return
		}
		limit = parsed
	}

	txns, err := h.engine.List(r.Context(), filter, limit)
	if err != nil {
		h.respondEngineError(w, r, err, "GET", endpoint)
		return
	}
	if txns == nil {
		txns = []domain.PaymentTransaction{}
	}
	h.respondJSON(w, http.StatusOK, txns, "GET", endpoint)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/{id}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	txnID, ok := h.pathID(w, r, "id", "GET", endpoint)
	if !ok {
		return
	}
	txn, err := h.engine.Get(r.Context(), txnID)
	if err != nil {
		h.respondEngineError(w, r, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, txn, "GET", endpoint)
}

func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/{id}/confirm"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	txnID, ok := h.pathID(w, r, "id", "POST", endpoint)
	if !ok {
		return
	}
	actorID, ok := GetActorID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "No authenticated actor", "POST", endpoint)
		return
	}

	txn, err := h.engine.Confirm(r.Context(), txnID, actorID)
	if err != nil {
		h.respondEngineError(w, r, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, txn, "POST", endpoint)
}

func (h *Handler) ReleaseTransaction(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/{id}/release"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	txnID, ok := h.pathID(w, r, "id", "POST", endpoint)
	if !ok {
		return
	}
	actorID, ok := GetActorID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "No authenticated actor", "POST", endpoint)
		return
	}

	if _, err := h.engine.Release(r.Context(), txnID, actorID); err != nil {
		h.respondEngineError(w, r, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true}, "POST", endpoint)
}

func (h *Handler) DisputeTransaction(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/{id}/dispute"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	txnID, ok := h.pathID(w, r, "id", "POST", endpoint)
	if !ok {
		return
	}
	actorID, ok := GetActorID(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "No authenticated actor", "POST", endpoint)
		return
	}

	var req domain.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	txn, err := h.engine.Dispute(r.Context(), txnID, actorID, req.Reason)
	if err != nil {
		h.respondEngineError(w, r, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, txn, "POST", endpoint)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wallets/{user_id}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	userID, ok := h.pathID(w, r, "user_id", "GET", endpoint)
	if !ok {
		return
	}
	wallet, err := h.engine.Wallet(r.Context(), userID)
	if err != nil {
		h.respondEngineError(w, r, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, wallet, "GET", endpoint)
}

// Helpers

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name, method, endpoint string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid "+name, method, endpoint)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondEngineError(w http.ResponseWriter, r *http.Request, err error, method, endpoint string) {
	switch {
	case errors.Is(err, escrow.ErrTransactionNotFound),
		errors.Is(err, escrow.ErrUserNotFound):
		h.respondError(w, http.StatusNotFound, err.Error(), method, endpoint)
	case errors.Is(err, escrow.ErrNotParty),
		errors.Is(err, escrow.ErrNotBuyer):
		h.respondError(w, http.StatusForbidden, err.Error(), method, endpoint)
	case errors.Is(err, escrow.ErrTransactionDisputed),
		errors.Is(err, escrow.ErrTransactionReleased):
		h.respondError(w, http.StatusConflict, err.Error(), method, endpoint)
	case errors.Is(err, escrow.ErrMissingParty),
		errors.Is(err, escrow.ErrSameParty),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidCurrency),
		errors.Is(err, escrow.ErrMissingReason):
		h.respondError(w, http.StatusBadRequest, err.Error(), method, endpoint)
	default:
		h.logger.Error("escrow operation failed",
			"request_id", GetRequestID(r.Context()),
			"endpoint", endpoint,
			"error", err,
		)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
