package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/charity-auction/internal/infrastructure/auth"
	"github.com/honeynil/charity-auction/internal/infrastructure/observability"
	"github.com/honeynil/charity-auction/internal/models"
	service "github.com/honeynil/charity-auction/internal/services"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/shopspring/decimal"
)

type Services struct {
	Ledger      service.LedgerService
	Bids        service.BidService
	Settlement  service.SettlementService
	Fulfillment service.FulfillmentService
	Tickets     service.TicketService
	Moderation  service.ModerationService
}

type Handler struct {
	svc Services
	now func() time.Time
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		observability.WithContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed),
		errors.Is(err, pkgerrors.ErrSettlementInProgress):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrBidTooLow),
		errors.Is(err, pkgerrors.ErrLotNotApproved),
		errors.Is(err, pkgerrors.ErrAuctionNotActive),
		errors.Is(err, pkgerrors.ErrSelfBidForbidden),
		errors.Is(err, pkgerrors.ErrInvalidTransition),
		errors.Is(err, pkgerrors.ErrAlreadyPaid),
		errors.Is(err, pkgerrors.ErrAuctionFree),
		errors.Is(err, pkgerrors.ErrTicketAlreadyOwned),
		errors.Is(err, pkgerrors.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequestBody = errors.New("invalid request body")
	errBadID          = errors.New("invalid id in path")
)

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/balance/top-up", h.TopUp).Methods("POST")
	r.HandleFunc("/balance/history", h.GetHistory).Methods("GET")

	r.HandleFunc("/lots/{id}/bids", h.ListBids).Methods("GET")
	r.HandleFunc("/lots/{id}/bids", h.PlaceBid).Methods("POST")
	r.HandleFunc("/bids/me", h.MyBids).Methods("GET")

	r.HandleFunc("/auctions/{id}/tickets", h.PurchaseTicket).Methods("POST")
	r.HandleFunc("/auctions/{id}/tickets/me", h.HasTicket).Methods("GET")

	r.HandleFunc("/transactions/me", h.MyPurchases).Methods("GET")
	r.HandleFunc("/transactions/{id}", h.GetFulfillment).Methods("GET")
	r.HandleFunc("/transactions/{id}/pay", h.Pay).Methods("POST")
	r.HandleFunc("/transactions/{id}/delivery", h.SubmitDelivery).Methods("PUT")
	r.HandleFunc("/transactions/{id}/ship", h.MarkShipped).Methods("POST")
	r.HandleFunc("/transactions/{id}/confirm", h.ConfirmDelivery).Methods("POST")
	r.HandleFunc("/transactions/{id}/fail", h.MarkFailed).Methods("POST")
}

// RegisterAdminRoutes expects the router to be guarded by RequireRole.
func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/lots/{id}/moderation", h.Moderate).Methods("POST")
	r.HandleFunc("/auctions/{id}/settle", h.SettleAuction).Methods("POST")
}

// RequireRole rejects authenticated principals without the given role.
func RequireRole(role models.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok || p.Role != role {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(errorResponse{Error: pkgerrors.ErrForbidden.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(errorResponse{Error: "user not authenticated"})
	}
	return p, ok
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	balance, err := h.svc.Ledger.GetBalance(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	balance, err := h.svc.Ledger.TopUp(r.Context(), p.UserID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.Ledger.History(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	bids, err := h.svc.Bids.ListBids(r.Context(), lotID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) MyBids(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	bids, err := h.svc.Bids.ListByUser(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	h.writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	lotID, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		RequestID string          `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	bid, err := h.svc.Bids.PlaceBid(r.Context(), lotID, p.UserID, req.Amount, req.RequestID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bid)
}

func (h *Handler) PurchaseTicket(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	auctionID, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ticket, err := h.svc.Tickets.Purchase(r.Context(), auctionID, p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) HasTicket(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	auctionID, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	owned, err := h.svc.Tickets.HasTicket(r.Context(), auctionID, p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"has_ticket": owned})
}

type transitionFunc func(h *Handler, r *http.Request, txID, userID int64) (*service.FulfillmentStatus, error)

// fulfillment wraps the transaction endpoints that share the same shape:
// principal, path id, one service call returning the new status.
func (h *Handler) fulfillment(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	txID, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	status, err := fn(h, r, txID, p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) MyPurchases(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	purchases, err := h.svc.Fulfillment.Purchases(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, purchases)
}

func (h *Handler) GetFulfillment(w http.ResponseWriter, r *http.Request) {
	h.fulfillment(w, r, func(h *Handler, r *http.Request, txID, userID int64) (*service.FulfillmentStatus, error) {
		return h.svc.Fulfillment.Status(r.Context(), txID, userID)
	})
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	h.fulfillment(w, r, func(h *Handler, r *http.Request, txID, userID int64) (*service.FulfillmentStatus, error) {
		return h.svc.Fulfillment.Pay(r.Context(), txID, userID)
	})
}

func (h *Handler) SubmitDelivery(w http.ResponseWriter, r *http.Request) {
	var req service.DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}
	h.fulfillment(w, r, func(h *Handler, r *http.Request, txID, userID int64) (*service.FulfillmentStatus, error) {
		return h.svc.Fulfillment.SubmitDelivery(r.Context(), txID, userID, req)
	})
}

func (h *Handler) MarkShipped(w http.ResponseWriter, r *http.Request) {
	h.fulfillment(w, r, func(h *Handler, r *http.Request, txID, userID int64) (*service.FulfillmentStatus, error) {
		return h.svc.Fulfillment.MarkShipped(r.Context(), txID, userID)
	})
}

func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.fulfillment(w, r, func(h *Handler, r *http.Request, txID, userID int64) (*service.FulfillmentStatus, error) {
		return h.svc.Fulfillment.ConfirmDelivery(r.Context(), txID, userID)
	})
}

func (h *Handler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	h.fulfillment(w, r, func(h *Handler, r *http.Request, txID, userID int64) (*service.FulfillmentStatus, error) {
		return h.svc.Fulfillment.MarkFailed(r.Context(), txID, userID)
	})
}

func (h *Handler) Moderate(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var req struct {
		Status models.LotStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errBadRequestBody.Error()})
		return
	}

	lot, err := h.svc.Moderation.Moderate(r.Context(), lotID, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, lot)
}

func (h *Handler) SettleAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	settled, err := h.svc.Settlement.SettleAuction(r.Context(), auctionID, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"settled": settled})
}
