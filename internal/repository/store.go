package repository

import "context"

// Tx groups the repositories bound to one database transaction. Row locks
// taken through a Tx (the *ForUpdate methods) are held until the
// transaction commits or rolls back.
type Tx interface {
	Users() UserRepository
	Balances() BalanceRepository
	Entries() LedgerEntryRepository
	Auctions() AuctionRepository
	Tickets() TicketRepository
	Lots() LotRepository
	Bids() BidRepository
	Transactions() TransactionRepository
	Deliveries() DeliveryRepository
	Events() EventRepository
	Notifications() NotificationRepository
}

// Store gives autocommit access to every repository and runs units of work
// atomically through WithinTx. fn must only use the Tx it is given; any
// error returned from fn rolls the whole unit back.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
