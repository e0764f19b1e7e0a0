package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WithinTxRollsBack(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	userID := store.AddUser(models.User{Role: models.RoleBuyer}, decimal.NewFromInt(100))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Balances().SetAmount(ctx, userID, decimal.NewFromInt(10)); err != nil {
			return err
		}
		if err := tx.Entries().Append(ctx, &models.LedgerEntry{UserID: userID, Kind: models.EntryBidHold, Amount: decimal.NewFromInt(-90)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	balance, err := store.Balances().Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Amount.Equal(decimal.NewFromInt(100)))

	entries, err := store.Entries().ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_WithinTxCommits(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	userID := store.AddUser(models.User{Role: models.RoleBuyer}, decimal.NewFromInt(100))

	err := store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Balances().SetAmount(ctx, userID, decimal.NewFromInt(60))
	})
	require.NoError(t, err)

	balance, err := store.Balances().Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Amount.Equal(decimal.NewFromInt(60)))
}

func TestStore_RefundRecordedOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	bidID := int64(42)

	first := &models.LedgerEntry{UserID: 1, Kind: models.EntryOutbidRefund, Amount: decimal.NewFromInt(5), BidID: &bidID}
	require.NoError(t, store.Entries().Append(ctx, first))

	found, err := store.Entries().HasRefund(ctx, bidID)
	require.NoError(t, err)
	assert.True(t, found)

	second := &models.LedgerEntry{UserID: 1, Kind: models.EntrySettlementRefund, Amount: decimal.NewFromInt(5), BidID: &bidID}
	assert.ErrorIs(t, store.Entries().Append(ctx, second), pkgerrors.ErrInvariantViolation)
}

func TestStore_BidOrdering(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	auctionID := store.AddAuction(models.Auction{EndTime: time.Now().Add(time.Hour)})
	lotID := store.AddLot(models.Lot{AuctionID: auctionID, Status: models.LotApproved})

	for _, b := range []struct {
		user   int64
		amount int64
	}{{1, 150}, {2, 200}, {3, 200}, {1, 120}} {
		require.NoError(t, store.Bids().Create(ctx, &models.Bid{LotID: lotID, UserID: b.user, Amount: decimal.NewFromInt(b.amount)}))
	}

	highest, err := store.Bids().GetHighest(ctx, lotID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), highest.UserID)

	bids, err := store.Bids().ListByLot(ctx, lotID)
	require.NoError(t, err)
	require.Len(t, bids, 4)
	assert.True(t, bids[3].Amount.Equal(decimal.NewFromInt(120)))

	bidders, err := store.Bids().ListBidderIDs(ctx, auctionID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, bidders)

	none, err := store.Bids().GetHighest(ctx, 999)
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_ClaimForSettlement(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()
	due := store.AddAuction(models.Auction{EndTime: now.Add(-time.Minute)})
	running := store.AddAuction(models.Auction{EndTime: now.Add(time.Hour)})

	ids, err := store.Auctions().ListDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{due}, ids)

	claimed, err := store.Auctions().ClaimForSettlement(ctx, running, now)
	assert.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = store.Auctions().ClaimForSettlement(ctx, due, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, store.Auctions().UpdateStatus(ctx, due, models.AuctionCompleted))
	claimed, err = store.Auctions().ClaimForSettlement(ctx, due, now)
	assert.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestStore_TicketOncePerUser(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.Tickets().Create(ctx, &models.AuctionTicket{AuctionID: 1, UserID: 2}))
	assert.ErrorIs(t, store.Tickets().Create(ctx, &models.AuctionTicket{AuctionID: 1, UserID: 2}), pkgerrors.ErrTicketAlreadyOwned)
}
