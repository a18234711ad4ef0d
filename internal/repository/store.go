package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = pgx.ErrNoRows

// Store groups the repositories that make up the conversation store.
type Store interface {
	Shops() ShopRepository
	Conversations() ConversationRepository
	Messages() MessageRepository
	Activities() ActivityRepository
	Staff() StaffRepository
	Settings() SettingsRepository
	Cursors() CursorRepository
	JobRuns() JobRunRepository
	Outbox() Outbox

	// WithinTx runs fn against a Store bound to a single transaction. Nested
	// calls reuse the outer transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// Outbox accepts outbound email intents. Tasks enqueued inside WithinTx are
// only visible to workers once the transaction commits.
type Outbox interface {
	Enqueue(ctx context.Context, task domain.OutboundTask) error
}

// OutboxFactory binds an Outbox to a transaction. tx is nil outside WithinTx.
type OutboxFactory func(tx pgx.Tx) Outbox

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres implementation of Store.
type PGStore struct {
	pool      *pgxpool.Pool
	db        DBTX
	tx        pgx.Tx
	outboxFor OutboxFactory
}

// NewPGStore builds a Store over pool. outboxFor may be nil when nothing enqueues.
func NewPGStore(pool *pgxpool.Pool, outboxFor OutboxFactory) *PGStore {
	return &PGStore{pool: pool, db: pool, outboxFor: outboxFor}
}

// SetOutboxFactory replaces the outbox binding. Used once the job client exists.
func (s *PGStore) SetOutboxFactory(outboxFor OutboxFactory) {
	s.outboxFor = outboxFor
}

func (s *PGStore) Shops() ShopRepository                 { return &shopRepository{db: s.db} }
func (s *PGStore) Conversations() ConversationRepository { return &conversationRepository{db: s.db} }
func (s *PGStore) Messages() MessageRepository           { return &messageRepository{db: s.db} }
func (s *PGStore) Activities() ActivityRepository        { return &activityRepository{db: s.db} }
func (s *PGStore) Staff() StaffRepository                { return &staffRepository{db: s.db} }
func (s *PGStore) Settings() SettingsRepository          { return &settingsRepository{db: s.db} }
func (s *PGStore) Cursors() CursorRepository             { return &cursorRepository{db: s.db} }
func (s *PGStore) JobRuns() JobRunRepository             { return &jobRunRepository{db: s.db} }

func (s *PGStore) Outbox() Outbox {
	if s.outboxFor == nil {
		return unboundOutbox{}
	}
	return s.outboxFor(s.tx)
}

func (s *PGStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&PGStore{pool: s.pool, db: tx, tx: tx, outboxFor: s.outboxFor})
	})
}

// ErrOutboxUnbound is returned when a task is enqueued before the job client is wired.
var ErrOutboxUnbound = errors.New("outbox not configured")

type unboundOutbox struct{}

func (unboundOutbox) Enqueue(context.Context, domain.OutboundTask) error { return ErrOutboxUnbound }
