package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"energy-ledger/internal/ledger"
	"energy-ledger/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	maxTxAttempts = 3
)

// Store is a SQL-backed ledger store for postgres or sqlite
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore connects to the database and migrates the schema
func NewStore(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// sqlite serializes writers anyway, and ":memory:" is per connection
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Migrate creates the ledger tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return nil
}

// WithTx runs fn in a database transaction. On postgres the transaction is
// serializable and is retried when the database reports a conflict.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxAttempts, err)
}

func (s *Store) runTx(ctx context.Context, fn func(ledger.Tx) error) error {
	var opts *sql.TxOptions
	if s.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{sqlReader: s.reader(tx, true)}); err != nil {
		return err
	}
	return tx.Commit()
}

// View reads outside of any write transaction
func (s *Store) View(_ context.Context, fn func(ledger.Reader) error) error {
	return fn(s.reader(s.db, false))
}

// Producers lists producers ordered by id
func (s *Store) Producers(ctx context.Context) ([]models.Producer, error) {
	var producers []models.Producer
	err := s.db.SelectContext(ctx, &producers, "SELECT * FROM producers ORDER BY id")
	return producers, err
}

func (s *Store) reader(q sqlx.ExtContext, forUpdate bool) sqlReader {
	r := sqlReader{q: q, bind: sqlx.BindType(s.driver)}
	if forUpdate && s.driver == DriverPostgres {
		r.lock = " FOR UPDATE"
	}
	return r
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

type sqlReader struct {
	q    sqlx.ExtContext
	bind int
	lock string
}

func (r sqlReader) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := sqlx.GetContext(ctx, r.q, dest, sqlx.Rebind(r.bind, query+r.lock), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r sqlReader) Producer(ctx context.Context, id string) (models.Producer, bool, error) {
	var p models.Producer
	found, err := r.get(ctx, &p, "SELECT * FROM producers WHERE id = ?", id)
	return p, found, err
}

func (r sqlReader) Consumer(ctx context.Context, id string) (models.Consumer, bool, error) {
	var c models.Consumer
	found, err := r.get(ctx, &c, "SELECT * FROM consumers WHERE id = ?", id)
	return c, found, err
}

func (r sqlReader) Purchase(ctx context.Context, consumerID, producerID string) (models.Purchase, bool, error) {
	var pur models.Purchase
	found, err := r.get(ctx, &pur,
		"SELECT * FROM purchases WHERE consumer_id = ? AND producer_id = ?", consumerID, producerID)
	return pur, found, err
}

func (r sqlReader) BatchProgress(ctx context.Context, batchID string) (int, bool, error) {
	var next int
	found, err := r.get(ctx, &next, "SELECT next_seq FROM processed_batches WHERE batch_id = ?", batchID)
	return next, found, err
}

// checkRange refuses counters a BIGINT column cannot hold
func checkRange(table string, values ...uint64) error {
	for _, v := range values {
		if v > math.MaxInt64 {
			return &ledger.Error{
				Code:   ledger.CodeArithmeticOverflow,
				Op:     "store",
				Detail: fmt.Sprintf("%s value %d exceeds %d", table, v, uint64(math.MaxInt64)),
			}
		}
	}
	return nil
}

type sqlTx struct {
	sqlReader
}

func (tx *sqlTx) PutProducer(ctx context.Context, p models.Producer) error {
	if err := checkRange("producers", p.EnergyAvailable, p.EnergyPrice, p.EnergySold, p.Revenue, p.Rating, p.RatingCount); err != nil {
		return err
	}
	_, err := sqlx.NamedExecContext(ctx, tx.q, `
		INSERT INTO producers (id, energy_available, energy_price, energy_sold, revenue, rating, rating_count, paused)
		VALUES (:id, :energy_available, :energy_price, :energy_sold, :revenue, :rating, :rating_count, :paused)
		ON CONFLICT (id) DO UPDATE SET
			energy_available = excluded.energy_available,
			energy_price = excluded.energy_price,
			energy_sold = excluded.energy_sold,
			revenue = excluded.revenue,
			rating = excluded.rating,
			rating_count = excluded.rating_count,
			paused = excluded.paused`, p)
	return err
}

func (tx *sqlTx) PutConsumer(ctx context.Context, c models.Consumer) error {
	if err := checkRange("consumers", c.EnergyConsumed, c.TotalSpent, c.EnergyPurchased, c.RefundAmount); err != nil {
		return err
	}
	_, err := sqlx.NamedExecContext(ctx, tx.q, `
		INSERT INTO consumers (id, energy_consumed, total_spent, energy_purchased, refund_amount)
		VALUES (:id, :energy_consumed, :total_spent, :energy_purchased, :refund_amount)
		ON CONFLICT (id) DO UPDATE SET
			energy_consumed = excluded.energy_consumed,
			total_spent = excluded.total_spent,
			energy_purchased = excluded.energy_purchased,
			refund_amount = excluded.refund_amount`, c)
	return err
}

func (tx *sqlTx) PutPurchase(ctx context.Context, pur models.Purchase) error {
	if err := checkRange("purchases", pur.Purchased, pur.Refunded, pur.Spent, pur.RefundedCost); err != nil {
		return err
	}
	_, err := sqlx.NamedExecContext(ctx, tx.q, `
		INSERT INTO purchases (consumer_id, producer_id, purchased, refunded, spent, refunded_cost)
		VALUES (:consumer_id, :producer_id, :purchased, :refunded, :spent, :refunded_cost)
		ON CONFLICT (consumer_id, producer_id) DO UPDATE SET
			purchased = excluded.purchased,
			refunded = excluded.refunded,
			spent = excluded.spent,
			refunded_cost = excluded.refunded_cost`, pur)
	return err
}

func (tx *sqlTx) PutBatchProgress(ctx context.Context, batchID string, next int) error {
	_, err := tx.q.ExecContext(ctx, sqlx.Rebind(tx.bind, `
		INSERT INTO processed_batches (batch_id, next_seq) VALUES (?, ?)
		ON CONFLICT (batch_id) DO UPDATE SET next_seq = excluded.next_seq`), batchID, next)
	return err
}
