// Package memory keeps every repository in process memory. It backs the
// service tests and the STORE_DRIVER=memory mode.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = view{}
)

type state struct {
	users         map[int64]models.User
	balances      map[int64]models.Balance
	entries       []models.LedgerEntry
	auctions      map[int64]models.Auction
	tickets       []models.AuctionTicket
	lots          map[int64]models.Lot
	bids          []models.Bid
	transactions  map[int64]models.Transaction
	deliveries    map[int64]models.DeliveryDetail
	events        []models.AuctionEvent
	notifications []models.Notification
	lastID        int64
}

func newState() *state {
	return &state{
		users:        make(map[int64]models.User),
		balances:     make(map[int64]models.Balance),
		auctions:     make(map[int64]models.Auction),
		lots:         make(map[int64]models.Lot),
		transactions: make(map[int64]models.Transaction),
		deliveries:   make(map[int64]models.DeliveryDetail),
	}
}

func (s *state) clone() *state {
	return &state{
		users:         maps.Clone(s.users),
		balances:      maps.Clone(s.balances),
		entries:       slices.Clone(s.entries),
		auctions:      maps.Clone(s.auctions),
		tickets:       slices.Clone(s.tickets),
		lots:          maps.Clone(s.lots),
		bids:          slices.Clone(s.bids),
		transactions:  maps.Clone(s.transactions),
		deliveries:    maps.Clone(s.deliveries),
		events:        slices.Clone(s.events),
		notifications: slices.Clone(s.notifications),
		lastID:        s.lastID,
	}
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Store is a concurrency-safe in-memory repository.Store. WithinTx holds
// a single store-wide lock for the whole unit of work, which stands in for
// the row locks of the Postgres implementation.
type Store struct {
	mu   sync.Mutex
	data *state
}

func NewStore() *Store {
	return &Store{data: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
		if err != nil {
			s.data = snapshot
		}
	}()

	return fn(ctx, view{s: s, inTx: true})
}

func (s *Store) autocommit() view { return view{s: s} }

func (s *Store) Users() repository.UserRepository          { return userRepo{s.autocommit()} }
func (s *Store) Balances() repository.BalanceRepository    { return balanceRepo{s.autocommit()} }
func (s *Store) Entries() repository.LedgerEntryRepository { return entryRepo{s.autocommit()} }
func (s *Store) Auctions() repository.AuctionRepository    { return auctionRepo{s.autocommit()} }
func (s *Store) Tickets() repository.TicketRepository      { return ticketRepo{s.autocommit()} }
func (s *Store) Lots() repository.LotRepository            { return lotRepo{s.autocommit()} }
func (s *Store) Bids() repository.BidRepository            { return bidRepo{s.autocommit()} }
func (s *Store) Transactions() repository.TransactionRepository {
	return transactionRepo{s.autocommit()}
}
func (s *Store) Deliveries() repository.DeliveryRepository { return deliveryRepo{s.autocommit()} }
func (s *Store) Events() repository.EventRepository         { return eventRepo{s.autocommit()} }
func (s *Store) Notifications() repository.NotificationRepository {
	return notificationRepo{s.autocommit()}
}

// view hands out repositories bound either to an open unit of work, where
// the store lock is already held, or to autocommit access.
type view struct {
	s    *Store
	inTx bool
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) Users() repository.UserRepository                 { return userRepo{v} }
func (v view) Balances() repository.BalanceRepository           { return balanceRepo{v} }
func (v view) Entries() repository.LedgerEntryRepository        { return entryRepo{v} }
func (v view) Auctions() repository.AuctionRepository           { return auctionRepo{v} }
func (v view) Tickets() repository.TicketRepository             { return ticketRepo{v} }
func (v view) Lots() repository.LotRepository                   { return lotRepo{v} }
func (v view) Bids() repository.BidRepository                   { return bidRepo{v} }
func (v view) Transactions() repository.TransactionRepository   { return transactionRepo{v} }
func (v view) Deliveries() repository.DeliveryRepository        { return deliveryRepo{v} }
func (v view) Events() repository.EventRepository               { return eventRepo{v} }
func (v view) Notifications() repository.NotificationRepository { return notificationRepo{v} }

// AddUser seeds a user together with an opening balance and returns its id.
func (s *Store) AddUser(u models.User, balance decimal.Decimal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.data.nextID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.data.users[u.ID] = u
	s.data.balances[u.ID] = models.Balance{UserID: u.ID, Amount: balance, UpdatedAt: u.CreatedAt}
	return u.ID
}

func (s *Store) AddAuction(a models.Auction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == 0 {
		a.ID = s.data.nextID()
	}
	if a.Status == "" {
		a.Status = models.AuctionActive
	}
	s.data.auctions[a.ID] = a
	return a.ID
}

func (s *Store) AddLot(l models.Lot) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == 0 {
		l.ID = s.data.nextID()
	}
	if l.Status == "" {
		l.Status = models.LotPending
	}
	s.data.lots[l.ID] = l
	return l.ID
}

func (s *Store) RecordedEvents() []models.AuctionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.events)
}

func (s *Store) RecordedNotifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.notifications)
}

// RecordedTransactions returns all transactions ordered by id.
func (s *Store) RecordedTransactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Collect(maps.Values(s.data.transactions))
	slices.SortFunc(out, func(a, b models.Transaction) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
