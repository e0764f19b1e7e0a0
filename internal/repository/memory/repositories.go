package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/honeynil/charity-auction/internal/models"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/shopspring/decimal"
)

type userRepo struct{ v view }

func (r userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	defer r.v.lock()()
	u, ok := r.v.s.data.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return &u, nil
}

type balanceRepo struct{ v view }

func (r balanceRepo) Get(_ context.Context, userID int64) (*models.Balance, error) {
	defer r.v.lock()()
	b, ok := r.v.s.data.balances[userID]
	if !ok {
		return nil, pkgerrors.ErrBalanceNotFound
	}
	return &b, nil
}

func (r balanceRepo) GetForUpdate(ctx context.Context, userID int64) (*models.Balance, error) {
	return r.Get(ctx, userID)
}

func (r balanceRepo) SetAmount(_ context.Context, userID int64, amount decimal.Decimal) error {
	defer r.v.lock()()
	if amount.IsNegative() {
		return pkgerrors.ErrInsufficientFunds
	}
	b, ok := r.v.s.data.balances[userID]
	if !ok {
		return pkgerrors.ErrBalanceNotFound
	}
	b.Amount = amount
	b.UpdatedAt = time.Now().UTC()
	r.v.s.data.balances[userID] = b
	return nil
}

type entryRepo struct{ v view }

func (r entryRepo) Append(_ context.Context, entry *models.LedgerEntry) error {
	defer r.v.lock()()
	if entry == nil {
		return pkgerrors.ErrInvalidInput
	}
	if entry.Kind.IsRefund() && entry.BidID != nil && r.hasRefund(*entry.BidID) {
		return fmt.Errorf("duplicate refund for bid %d: %w", *entry.BidID, pkgerrors.ErrInvariantViolation)
	}
	entry.ID = r.v.s.data.nextID()
	entry.CreatedAt = time.Now().UTC()
	r.v.s.data.entries = append(r.v.s.data.entries, *entry)
	return nil
}

func (r entryRepo) HasRefund(_ context.Context, bidID int64) (bool, error) {
	defer r.v.lock()()
	return r.hasRefund(bidID), nil
}

func (r entryRepo) hasRefund(bidID int64) bool {
	return slices.ContainsFunc(r.v.s.data.entries, func(e models.LedgerEntry) bool {
		return e.Kind.IsRefund() && e.BidID != nil && *e.BidID == bidID
	})
}

func (r entryRepo) ListByUser(_ context.Context, userID int64) ([]models.LedgerEntry, error) {
	defer r.v.lock()()
	var out []models.LedgerEntry
	for _, e := range r.v.s.data.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type auctionRepo struct{ v view }

func (r auctionRepo) GetByID(_ context.Context, id int64) (*models.Auction, error) {
	defer r.v.lock()()
	a, ok := r.v.s.data.auctions[id]
	if !ok {
		return nil, pkgerrors.ErrAuctionNotFound
	}
	return &a, nil
}

func (r auctionRepo) ListDue(_ context.Context, now time.Time) ([]int64, error) {
	defer r.v.lock()()
	var due []models.Auction
	for _, a := range r.v.s.data.auctions {
		if a.Due(now) {
			due = append(due, a)
		}
	}
	slices.SortFunc(due, func(a, b models.Auction) int {
		return cmp.Or(a.EndTime.Compare(b.EndTime), cmp.Compare(a.ID, b.ID))
	})
	ids := make([]int64, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (r auctionRepo) ListEndingBetween(_ context.Context, from, to time.Time) ([]models.Auction, error) {
	defer r.v.lock()()
	var out []models.Auction
	for _, a := range r.v.s.data.auctions {
		if a.Status == models.AuctionActive && a.EndTime.After(from) && !a.EndTime.After(to) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b models.Auction) int {
		return cmp.Or(a.EndTime.Compare(b.EndTime), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (r auctionRepo) ClaimForSettlement(_ context.Context, id int64, now time.Time) (*models.Auction, error) {
	defer r.v.lock()()
	a, ok := r.v.s.data.auctions[id]
	if !ok || !a.Due(now) {
		return nil, nil
	}
	return &a, nil
}

func (r auctionRepo) UpdateStatus(_ context.Context, id int64, status models.AuctionStatus) error {
	defer r.v.lock()()
	a, ok := r.v.s.data.auctions[id]
	if !ok {
		return pkgerrors.ErrAuctionNotFound
	}
	a.Status = status
	r.v.s.data.auctions[id] = a
	return nil
}

type ticketRepo struct{ v view }

func (r ticketRepo) Exists(_ context.Context, auctionID, userID int64) (bool, error) {
	defer r.v.lock()()
	return r.exists(auctionID, userID), nil
}

func (r ticketRepo) exists(auctionID, userID int64) bool {
	return slices.ContainsFunc(r.v.s.data.tickets, func(t models.AuctionTicket) bool {
		return t.AuctionID == auctionID && t.UserID == userID
	})
}

func (r ticketRepo) Create(_ context.Context, ticket *models.AuctionTicket) error {
	defer r.v.lock()()
	if r.exists(ticket.AuctionID, ticket.UserID) {
		return pkgerrors.ErrTicketAlreadyOwned
	}
	ticket.ID = r.v.s.data.nextID()
	ticket.PurchasedAt = time.Now().UTC()
	r.v.s.data.tickets = append(r.v.s.data.tickets, *ticket)
	return nil
}

type lotRepo struct{ v view }

func (r lotRepo) GetByID(_ context.Context, id int64) (*models.Lot, error) {
	defer r.v.lock()()
	l, ok := r.v.s.data.lots[id]
	if !ok {
		return nil, pkgerrors.ErrLotNotFound
	}
	return &l, nil
}

func (r lotRepo) GetForUpdate(ctx context.Context, id int64) (*models.Lot, error) {
	return r.GetByID(ctx, id)
}

func (r lotRepo) ListApprovedForUpdate(_ context.Context, auctionID int64) ([]models.Lot, error) {
	defer r.v.lock()()
	var out []models.Lot
	for _, l := range r.v.s.data.lots {
		if l.AuctionID == auctionID && l.Status == models.LotApproved {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b models.Lot) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r lotRepo) UpdateStatus(_ context.Context, id int64, status models.LotStatus) error {
	defer r.v.lock()()
	l, ok := r.v.s.data.lots[id]
	if !ok {
		return pkgerrors.ErrLotNotFound
	}
	l.Status = status
	r.v.s.data.lots[id] = l
	return nil
}

func (r lotRepo) MarkSold(_ context.Context, id, winnerID int64, amount decimal.Decimal) error {
	defer r.v.lock()()
	l, ok := r.v.s.data.lots[id]
	if !ok {
		return pkgerrors.ErrLotNotFound
	}
	l.Status = models.LotSold
	l.WinnerID = &winnerID
	l.WinningBidAmount = decimal.NewNullDecimal(amount)
	r.v.s.data.lots[id] = l
	return nil
}

type bidRepo struct{ v view }

func (r bidRepo) Create(_ context.Context, bid *models.Bid) error {
	defer r.v.lock()()
	if bid == nil {
		return pkgerrors.ErrNilBid
	}
	if !bid.Amount.IsPositive() {
		return pkgerrors.ErrInvalidAmount
	}
	bid.ID = r.v.s.data.nextID()
	bid.CreatedAt = time.Now().UTC()
	r.v.s.data.bids = append(r.v.s.data.bids, *bid)
	return nil
}

func (r bidRepo) GetHighest(_ context.Context, lotID int64) (*models.Bid, error) {
	defer r.v.lock()()
	bids := r.byLot(lotID)
	if len(bids) == 0 {
		return nil, nil
	}
	return &bids[0], nil
}

func (r bidRepo) ListByLot(_ context.Context, lotID int64) ([]models.Bid, error) {
	defer r.v.lock()()
	return r.byLot(lotID), nil
}

func (r bidRepo) ListByUser(_ context.Context, userID int64) ([]models.Bid, error) {
	defer r.v.lock()()
	var out []models.Bid
	for _, b := range r.v.s.data.bids {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	// ids grow with insertion order
	slices.SortFunc(out, func(a, b models.Bid) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

// byLot orders like the SQL implementation: amount descending, then id.
func (r bidRepo) byLot(lotID int64) []models.Bid {
	var out []models.Bid
	for _, b := range r.v.s.data.bids {
		if b.LotID == lotID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b models.Bid) int {
		return cmp.Or(b.Amount.Cmp(a.Amount), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (r bidRepo) ListBidderIDs(_ context.Context, auctionID int64) ([]int64, error) {
	defer r.v.lock()()
	var ids []int64
	for _, b := range r.v.s.data.bids {
		l, ok := r.v.s.data.lots[b.LotID]
		if !ok || l.AuctionID != auctionID || l.Status != models.LotApproved {
			continue
		}
		if !slices.Contains(ids, b.UserID) {
			ids = append(ids, b.UserID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

type transactionRepo struct{ v view }

func (r transactionRepo) Create(_ context.Context, tx *models.Transaction) (int64, error) {
	defer r.v.lock()()
	if tx == nil {
		return 0, pkgerrors.ErrNilTransaction
	}
	if !tx.Amount.IsPositive() {
		return 0, pkgerrors.ErrInvalidAmount
	}
	for _, existing := range r.v.s.data.transactions {
		if existing.LotID == tx.LotID {
			return 0, fmt.Errorf("lot %d already has a transaction: %w", tx.LotID, pkgerrors.ErrInvariantViolation)
		}
	}
	tx.ID = r.v.s.data.nextID()
	tx.PaymentTime = time.Now().UTC()
	r.v.s.data.transactions[tx.ID] = *tx
	return tx.ID, nil
}

func (r transactionRepo) GetByID(_ context.Context, id int64) (*models.Transaction, error) {
	defer r.v.lock()()
	tx, ok := r.v.s.data.transactions[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r transactionRepo) GetForUpdate(ctx context.Context, id int64) (*models.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r transactionRepo) ListByUser(_ context.Context, userID int64) ([]models.Transaction, error) {
	defer r.v.lock()()
	var out []models.Transaction
	for _, tx := range r.v.s.data.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	slices.SortFunc(out, func(a, b models.Transaction) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func (r transactionRepo) UpdateStatus(_ context.Context, id int64, status models.StatusType) error {
	defer r.v.lock()()
	tx, ok := r.v.s.data.transactions[id]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	tx.Status = status
	tx.PaymentTime = time.Now().UTC()
	r.v.s.data.transactions[id] = tx
	return nil
}

type deliveryRepo struct{ v view }

func (r deliveryRepo) GetByTransaction(_ context.Context, transactionID int64) (*models.DeliveryDetail, error) {
	defer r.v.lock()()
	d, ok := r.v.s.data.deliveries[transactionID]
	if !ok {
		return nil, pkgerrors.ErrDeliveryNotFound
	}
	return &d, nil
}

func (r deliveryRepo) Upsert(_ context.Context, delivery *models.DeliveryDetail) error {
	defer r.v.lock()()
	if existing, ok := r.v.s.data.deliveries[delivery.TransactionID]; ok {
		delivery.CreatedAt = existing.CreatedAt
		delivery.DeliveryDate = existing.DeliveryDate
	} else {
		delivery.CreatedAt = time.Now().UTC()
	}
	r.v.s.data.deliveries[delivery.TransactionID] = *delivery
	return nil
}

func (r deliveryRepo) UpdateStatus(_ context.Context, transactionID int64, status models.DeliveryStatus, deliveredAt *time.Time) error {
	defer r.v.lock()()
	d, ok := r.v.s.data.deliveries[transactionID]
	if !ok {
		return pkgerrors.ErrDeliveryNotFound
	}
	d.Status = status
	if deliveredAt != nil {
		d.DeliveryDate = deliveredAt
	}
	r.v.s.data.deliveries[transactionID] = d
	return nil
}

type eventRepo struct{ v view }

func (r eventRepo) Create(_ context.Context, event *models.AuctionEvent) error {
	defer r.v.lock()()
	event.ID = r.v.s.data.nextID()
	event.CreatedAt = time.Now().UTC()
	r.v.s.data.events = append(r.v.s.data.events, *event)
	return nil
}

type notificationRepo struct{ v view }

func (r notificationRepo) Create(_ context.Context, n *models.Notification) error {
	defer r.v.lock()()
	n.ID = r.v.s.data.nextID()
	n.CreatedAt = time.Now().UTC()
	r.v.s.data.notifications = append(r.v.s.data.notifications, *n)
	return nil
}

func (r notificationRepo) MarkDispatched(_ context.Context, id int64) error {
	defer r.v.lock()()
	for i := range r.v.s.data.notifications {
		if r.v.s.data.notifications[i].ID == id {
			r.v.s.data.notifications[i].Dispatched = true
			return nil
		}
	}
	return fmt.Errorf("notification %d: %w", id, pkgerrors.ErrNotFound)
}
