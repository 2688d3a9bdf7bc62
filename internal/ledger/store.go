package ledger

import (
	"context"

	"energy-ledger/internal/models"
)

// Reader is read access to the ledger tables. Lookups of an absent key
// return found=false, which is distinct from a zero-valued record.
type Reader interface {
	Producer(ctx context.Context, id string) (models.Producer, bool, error)
	Consumer(ctx context.Context, id string) (models.Consumer, bool, error)
	Purchase(ctx context.Context, consumerID, producerID string) (models.Purchase, bool, error)

	// BatchProgress returns the sequence number of the next command of
	// batchID still to run, found=false for a batch never seen.
	BatchProgress(ctx context.Context, batchID string) (int, bool, error)
}

// Tx is a unit of work against the ledger. Puts are only visible to other
// callers once the enclosing WithTx returns nil.
type Tx interface {
	Reader
	PutProducer(ctx context.Context, p models.Producer) error
	PutConsumer(ctx context.Context, c models.Consumer) error
	PutPurchase(ctx context.Context, p models.Purchase) error
	PutBatchProgress(ctx context.Context, batchID string, next int) error
}

// Store holds producer, consumer and purchase records. It performs no
// validation; the Engine is responsible for every invariant.
type Store interface {
	// WithTx runs fn in a transaction. If fn returns an error nothing fn
	// wrote is kept, otherwise all of it is committed together.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// View runs fn with a consistent read-only view.
	View(ctx context.Context, fn func(Reader) error) error

	// Producers lists every producer record ordered by id.
	Producers(ctx context.Context) ([]models.Producer, error)
}
