package worker

import (
	"context"

	"energy-ledger/internal/broker"
	"energy-ledger/internal/ledger"
	"energy-ledger/internal/models"
	"energy-ledger/internal/service"
	"energy-ledger/internal/util"

	"go.uber.org/zap"
)

// CommandWorker applies command batches read from Kafka
type CommandWorker struct {
	consumer      *broker.Consumer
	eventHandler  *broker.EventHandler
	ledgerService *service.LedgerService
	logger        *zap.Logger
}

// NewCommandWorker creates a new command worker
func NewCommandWorker(consumer *broker.Consumer, ledgerService *service.LedgerService) *CommandWorker {
	w := &CommandWorker{
		consumer:      consumer,
		ledgerService: ledgerService,
		logger:        util.GetLogger(),
	}

	w.eventHandler = broker.NewEventHandler()
	w.eventHandler.OnCommandBatch(w.HandleCommandBatch)

	return w
}

// Start consumes until ctx is cancelled
func (w *CommandWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting command worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CommandWorker) Stop() error {
	w.logger.Info("Stopping command worker")
	return w.consumer.Close()
}

// HandleCommandBatch runs a batch through the ledger. Rejected commands are
// part of the outcome, not a delivery failure, so the message is always
// acknowledged. A redelivered batch skips the commands it already ran.
func (w *CommandWorker) HandleCommandBatch(ctx context.Context, event *models.CommandBatchEvent) error {
	if err := w.ledgerService.ValidateBatch(event.Commands); err != nil {
		w.logger.Error("Dropping batch",
			zap.String("batch_id", event.BatchID),
			zap.String("caller", event.CallerID),
			zap.Error(err))
		return nil
	}

	results := w.ledgerService.ExecuteQueuedBatch(ctx, event, "kafka")

	if err := ledger.FirstError(results); err != nil {
		rejected := 0
		for _, r := range results {
			if r.Err != nil {
				rejected++
			}
		}
		w.logger.Warn("Batch had rejected commands",
			zap.String("batch_id", event.BatchID),
			zap.String("caller", event.CallerID),
			zap.Int("rejected", rejected),
			zap.Error(err))
	}
	return nil
}
