package settlement

import (
	"testing"

	"github.com/honeynil/charity-auction/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bid(id, user, amount int64) models.Bid {
	return models.Bid{ID: id, LotID: 1, UserID: user, Amount: decimal.NewFromInt(amount)}
}

func none(int64) bool { return false }

func TestResolve_NoBids(t *testing.T) {
	res := Resolve(nil, none)
	assert.False(t, res.Sold())
	assert.Equal(t, models.LotNotSold, res.Status())
	assert.Empty(t, res.Refunds)
}

func TestResolve_HighestWins(t *testing.T) {
	bids := []models.Bid{bid(1, 10, 150), bid(2, 20, 200), bid(3, 30, 120)}

	res := Resolve(bids, none)
	require.True(t, res.Sold())
	assert.Equal(t, models.LotSold, res.Status())
	assert.Equal(t, int64(2), res.Winner.ID)
	assert.Equal(t, []models.Bid{bids[0], bids[2]}, res.Refunds)
}

func TestResolve_SkipsRefundedBids(t *testing.T) {
	bids := []models.Bid{bid(1, 10, 150), bid(2, 20, 200)}
	refunded := map[int64]bool{1: true}

	res := Resolve(bids, func(id int64) bool { return refunded[id] })
	assert.Equal(t, int64(20), res.Winner.UserID)
	assert.Empty(t, res.Refunds)
}

func TestResolve_TieGoesToEarliest(t *testing.T) {
	bids := []models.Bid{bid(5, 10, 200), bid(3, 20, 200)}

	res := Resolve(bids, none)
	assert.Equal(t, int64(3), res.Winner.ID)
	require.Len(t, res.Refunds, 1)
	assert.Equal(t, int64(5), res.Refunds[0].ID)
}
