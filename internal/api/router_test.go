package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/honeynil/charity-auction/internal/handler"
	"github.com/honeynil/charity-auction/internal/infrastructure/auth"
	kafkamocks "github.com/honeynil/charity-auction/internal/infrastructure/kafka/mocks"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	redismocks "github.com/honeynil/charity-auction/internal/infrastructure/redis/mocks"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository/memory"
	service "github.com/honeynil/charity-auction/internal/services"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

func token(t *testing.T, userID int64, role models.Role) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-" + string(role),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestSetupRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	redisMock := redismocks.NewMockRedisClient(ctrl)
	redisMock.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).AnyTimes()
	redisMock.EXPECT().Get(gomock.Any(), gomock.Any()).Return("", redis.ErrKeyNotFound).AnyTimes()
	redisMock.EXPECT().SetIfEqual(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	publisher := kafkamocks.NewMockPublisher(ctrl)

	store := memory.NewStore()
	buyer := store.AddUser(models.User{Role: models.RoleBuyer}, decimal.NewFromInt(70))

	h := handler.NewHandler(handler.Services{
		Ledger:     service.NewLedgerService(store, redisMock),
		Moderation: service.NewModerationService(store, publisher),
	})
	router := SetupRouter(h, redisMock, secret)

	tests := []struct {
		name          string
		method        string
		path          string
		authorization string
		requestID     string
		wantStatus    int
	}{
		{name: "health", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusNoContent},
		{name: "no token", method: http.MethodGet, path: "/api/balance", wantStatus: http.StatusUnauthorized},
		{name: "balance", method: http.MethodGet, path: "/api/balance", authorization: token(t, buyer, models.RoleBuyer), requestID: "req-42", wantStatus: http.StatusOK},
		{name: "admin only", method: http.MethodPost, path: "/api/admin/lots/1/moderation", authorization: token(t, buyer, models.RoleBuyer), wantStatus: http.StatusForbidden},
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", authorization: token(t, buyer, models.RoleBuyer), wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			if tt.requestID != "" {
				req.Header.Set(requestIDHeader, tt.requestID)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, rec.Header().Get(requestIDHeader))
			}
		})
	}

	assert.GreaterOrEqual(t, requests(t, "GET", "/healthz", "204"), 1.0)
	assert.GreaterOrEqual(t, requests(t, "GET", "/api/balance", "200"), 1.0)
}

func requests(t *testing.T, method, endpoint, status string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, RequestCounter.WithLabelValues(method, endpoint, status).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(requestIDHeader)
	})

	rec := httptest.NewRecorder()
	requestIDMiddleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}
