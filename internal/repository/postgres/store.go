package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/charity-auction/internal/infrastructure/observability"
	"github.com/honeynil/charity-auction/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repos struct {
	users         *UserRepository
	balances      *BalanceRepository
	entries       *LedgerEntryRepository
	auctions      *AuctionRepository
	tickets       *TicketRepository
	lots          *LotRepository
	bids          *BidRepository
	transactions  *TransactionRepository
	deliveries    *DeliveryRepository
	events        *EventRepository
	notifications *NotificationRepository
}

func newRepos(q DBTX) *repos {
	return &repos{
		users:         NewUserRepository(q),
		balances:      NewBalanceRepository(q),
		entries:       NewLedgerEntryRepository(q),
		auctions:      NewAuctionRepository(q),
		tickets:       NewTicketRepository(q),
		lots:          NewLotRepository(q),
		bids:          NewBidRepository(q),
		transactions:  NewTransactionRepository(q),
		deliveries:    NewDeliveryRepository(q),
		events:        NewEventRepository(q),
		notifications: NewNotificationRepository(q),
	}
}

func (r *repos) Users() repository.UserRepository                 { return r.users }
func (r *repos) Balances() repository.BalanceRepository           { return r.balances }
func (r *repos) Entries() repository.LedgerEntryRepository        { return r.entries }
func (r *repos) Auctions() repository.AuctionRepository           { return r.auctions }
func (r *repos) Tickets() repository.TicketRepository             { return r.tickets }
func (r *repos) Lots() repository.LotRepository                   { return r.lots }
func (r *repos) Bids() repository.BidRepository                   { return r.bids }
func (r *repos) Transactions() repository.TransactionRepository   { return r.transactions }
func (r *repos) Deliveries() repository.DeliveryRepository        { return r.deliveries }
func (r *repos) Events() repository.EventRepository               { return r.events }
func (r *repos) Notifications() repository.NotificationRepository { return r.notifications }

type Store struct {
	*repos
	db *sql.DB
}

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	slog.Info("connected to Postgres")
	return db, nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{repos: newRepos(db), db: db}
}

// WithinTx runs fn in a READ COMMITTED transaction. Consistency of
// read-then-write sequences relies on the explicit row locks taken by the
// *ForUpdate repository methods.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	ctx, done := instrument(ctx, "store", "WithinTx")
	defer done(&err)

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "WithinTx", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = dbTx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, newRepos(dbTx)); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "WithinTx", "error", rbErr)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "WithinTx", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func instrument(ctx context.Context, tracerName, method string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	span.SetAttributes(attrs...)
	start := time.Now()
	return ctx, func(errp *error) {
		status := "success"
		if errp != nil && *errp != nil {
			status = "error"
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
