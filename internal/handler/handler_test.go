package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/mux"
	"github.com/honeynil/charity-auction/internal/infrastructure/auth"
	kafkamocks "github.com/honeynil/charity-auction/internal/infrastructure/kafka/mocks"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	redismocks "github.com/honeynil/charity-auction/internal/infrastructure/redis/mocks"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository/memory"
	service "github.com/honeynil/charity-auction/internal/services"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pkgerrors.ErrLotNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", pkgerrors.ErrUserNotFound), http.StatusNotFound},
		{pkgerrors.ErrForbidden, http.StatusForbidden},
		{pkgerrors.ErrRequestAlreadyProcessed, http.StatusConflict},
		{pkgerrors.ErrSettlementInProgress, http.StatusConflict},
		{fmt.Errorf("%w: must exceed 100.00", pkgerrors.ErrBidTooLow), http.StatusBadRequest},
		{pkgerrors.ErrInsufficientFunds, http.StatusBadRequest},
		{pkgerrors.ErrAlreadyPaid, http.StatusBadRequest},
		{pkgerrors.ErrInvalidTransition, http.StatusBadRequest},
		{pkgerrors.ErrInvalidInput, http.StatusBadRequest},
		{pkgerrors.ErrInvariantViolation, http.StatusInternalServerError},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

type fixture struct {
	router  *mux.Router
	store   *memory.Store
	auction int64
	lot     int64
	donor   int64
	buyer   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	redisMock := redismocks.NewMockRedisClient(ctrl)
	redisMock.EXPECT().SetNX(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	redisMock.EXPECT().Get(gomock.Any(), gomock.Any()).Return("", redis.ErrKeyNotFound).AnyTimes()
	redisMock.EXPECT().SetIfEqual(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	redisMock.EXPECT().Incr(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(1), nil).AnyTimes()
	redisMock.EXPECT().Del(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	redisMock.EXPECT().DelIfEqual(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	publisher := kafkamocks.NewMockPublisher(ctrl)
	publisher.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	publisher.EXPECT().PublishNotification(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	store := memory.NewStore()
	f := &fixture{store: store}
	charity := store.AddUser(models.User{Role: models.RoleCharity}, decimal.Zero)
	f.donor = store.AddUser(models.User{Role: models.RoleDonor}, decimal.Zero)
	f.buyer = store.AddUser(models.User{Role: models.RoleBuyer}, decimal.NewFromInt(500))
	f.auction = store.AddAuction(models.Auction{
		CharityUserID: charity,
		Name:          "Gala",
		StartTime:     time.Now().Add(-time.Hour),
		EndTime:       time.Now().Add(time.Hour),
	})
	f.lot = store.AddLot(models.Lot{
		AuctionID:     f.auction,
		DonorID:       f.donor,
		Title:         "Painting",
		StartingPrice: decimal.NewFromInt(100),
		Status:        models.LotApproved,
	})

	h := NewHandler(Services{
		Ledger:      service.NewLedgerService(store, redisMock),
		Bids:        service.NewBidService(store, redisMock, publisher),
		Settlement:  service.NewSettlementService(store, redisMock, publisher, time.Minute),
		Fulfillment: service.NewFulfillmentService(store, publisher),
		Tickets:     service.NewTicketService(store, redisMock, publisher),
		Moderation:  service.NewModerationService(store, publisher),
	})

	// Stands in for the auth middleware: the X-User header carries "id:role".
	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p auth.Principal
			if _, err := fmt.Sscanf(r.Header.Get("X-User"), "%d:%s", &p.UserID, &p.Role); err == nil {
				r = r.WithContext(auth.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}

	f.router = mux.NewRouter()
	admin := f.router.PathPrefix("/admin").Subrouter()
	admin.Use(withUser, RequireRole(models.RoleAdmin))
	h.RegisterAdminRoutes(admin)
	protected := f.router.PathPrefix("/").Subrouter()
	protected.Use(withUser)
	h.RegisterProtectedRoutes(protected)
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func buyerOf(id int64) string { return fmt.Sprintf("%d:%s", id, models.RoleBuyer) }

func TestHandler_PlaceBid(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/lots/%d/bids", f.lot)

	tests := []struct {
		name       string
		path       string
		user       string
		body       any
		wantStatus int
	}{
		{name: "unauthenticated", path: path, body: map[string]string{"amount": "150"}, wantStatus: http.StatusUnauthorized},
		{name: "bad path id", path: "/lots/abc/bids", user: buyerOf(f.buyer), body: map[string]string{"amount": "150"}, wantStatus: http.StatusBadRequest},
		{name: "malformed body", path: path, user: buyerOf(f.buyer), body: "not an object", wantStatus: http.StatusBadRequest},
		{name: "unknown lot", path: "/lots/999/bids", user: buyerOf(f.buyer), body: map[string]string{"amount": "150"}, wantStatus: http.StatusNotFound},
		{name: "too low", path: path, user: buyerOf(f.buyer), body: map[string]string{"amount": "100"}, wantStatus: http.StatusBadRequest},
		{name: "donor bids", path: path, user: buyerOf(f.donor), body: map[string]string{"amount": "150"}, wantStatus: http.StatusBadRequest},
		{name: "accepted", path: path, user: buyerOf(f.buyer), body: map[string]string{"amount": "150", "request_id": "r-1"}, wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(t, http.MethodGet, path, buyerOf(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bids []models.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bids))
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Amount.Equal(decimal.NewFromInt(150)))

	rec = f.do(t, http.MethodGet, "/balance", buyerOf(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(350)))
}

func TestHandler_TopUpAndHistory(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/balance/top-up", buyerOf(f.buyer), map[string]string{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/balance/top-up", buyerOf(f.buyer), map[string]string{"amount": "20.25"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "520.25")

	rec = f.do(t, http.MethodGet, "/balance/history", buyerOf(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryTopUp, entries[0].Kind)
}

func TestHandler_Fulfillment(t *testing.T) {
	f := newFixture(t)
	txID, err := f.store.Transactions().Create(context.Background(), &models.Transaction{
		UserID:        f.buyer,
		LotID:         f.lot,
		Amount:        decimal.NewFromInt(150),
		PaymentMethod: models.PaymentBalance,
		Status:        models.StatusPending,
	})
	require.NoError(t, err)
	base := fmt.Sprintf("/transactions/%d", txID)

	rec := f.do(t, http.MethodPost, base+"/pay", buyerOf(f.donor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/pay", buyerOf(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"paid"`)

	rec = f.do(t, http.MethodPost, base+"/pay", buyerOf(f.buyer), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, base+"/delivery", buyerOf(f.buyer), service.DeliveryRequest{
		RecipientName: "Jane",
		Address:       "1 Main St",
		Phone:         "+1000",
		Type:          models.DeliveryPickup,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"delivery_pending"`)

	rec = f.do(t, http.MethodPost, base+"/ship", buyerOf(f.donor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, base+"/confirm", buyerOf(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"delivered"`)

	rec = f.do(t, http.MethodGet, base, buyerOf(f.donor), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/transactions/999", buyerOf(f.donor), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_MyBidsAndPurchases(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/lots/%d/bids", f.lot), buyerOf(f.buyer), map[string]string{"amount": "150"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txID, err := f.store.Transactions().Create(context.Background(), &models.Transaction{
		UserID:        f.buyer,
		LotID:         f.lot,
		Amount:        decimal.NewFromInt(150),
		PaymentMethod: models.PaymentBalance,
		Status:        models.StatusCompleted,
	})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/bids/me", buyerOf(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bids []models.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bids))
	require.Len(t, bids, 1)
	assert.Equal(t, f.lot, bids[0].LotID)

	rec = f.do(t, http.MethodGet, "/transactions/me", buyerOf(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var purchases []service.FulfillmentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purchases))
	require.Len(t, purchases, 1)
	assert.Equal(t, txID, purchases[0].Transaction.ID)
	assert.Equal(t, "paid", string(purchases[0].State))

	for _, path := range []string{"/bids/me", "/transactions/me"} {
		rec = f.do(t, http.MethodGet, path, buyerOf(f.donor), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/transactions/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_AdminRoutes(t *testing.T) {
	f := newFixture(t)
	pending := f.store.AddLot(models.Lot{AuctionID: f.auction, DonorID: f.donor, Title: "Vase", StartingPrice: decimal.NewFromInt(5)})
	path := fmt.Sprintf("/admin/lots/%d/moderation", pending)
	admin := fmt.Sprintf("1:%s", models.RoleAdmin)

	rec := f.do(t, http.MethodPost, path, buyerOf(f.buyer), map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, path, admin, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)

	rec = f.do(t, http.MethodPost, path, admin, map[string]string{"status": "rejected"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/admin/auctions/%d/settle", f.auction), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"settled":false}`, rec.Body.String())
}
