package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Op names a state transition
type Op string

const (
	OpRegisterProducer Op = "registerProducer"
	OpRegisterConsumer Op = "registerConsumer"
	OpBuyEnergy        Op = "buyEnergy"
	OpUpdateEnergy     Op = "updateEnergy"
	OpRateProducer     Op = "rateProducer"
	OpRequestRefund    Op = "requestRefund"
	OpWithdrawRevenue  Op = "withdrawRevenue"
	OpSetEnergyPrice   Op = "setEnergyPrice"
	OpPauseProducer    Op = "pauseProducer"
)

// Command is one operation submitted by a caller. Fields an operation
// does not use are ignored.
//
// A command with a BatchID is applied at most once: Seq is its position
// in the batch, and the batch's progress is recorded in the same
// transaction as the command's effects.
type Command struct {
	Op         Op
	Caller     string
	ProducerID string
	Units      uint64
	Price      uint64
	Rating     uint64

	BatchID string
	Seq     int
}

// Result is the outcome of one command. Value is operation specific:
// the cost of a purchase or refund, the new rating, the new inventory
// after updateEnergy, or the withdrawn amount.
//
// Replayed is set when the command belonged to a batch that already got
// past it; nothing was applied this time and Value is zero.
type Result struct {
	Index    int
	Op       Op
	Value    uint64
	Code     Code
	Err      error
	Replayed bool
}

// OK reports whether the command was applied
func (r Result) OK() bool {
	return r.Err == nil
}

// errStepApplied aborts the transaction of a batch command that already ran
var errStepApplied = errors.New("ledger: batch command already applied")

type batchStepKey struct{}

type batchStep struct {
	batchID string
	seq     int
}

// Execute runs a single command
func (e *Engine) Execute(ctx context.Context, cmd Command) Result {
	res := Result{Op: cmd.Op}

	if cmd.BatchID != "" {
		applied, err := e.stepApplied(ctx, cmd.BatchID, cmd.Seq)
		if err != nil {
			res.Err = err
			res.Code = CodeOf(err)
			return res
		}
		if applied {
			res.Replayed = true
			return res
		}
		ctx = context.WithValue(ctx, batchStepKey{}, batchStep{batchID: cmd.BatchID, seq: cmd.Seq})
	}

	switch cmd.Op {
	case OpRegisterProducer:
		res.Err = e.RegisterProducer(ctx, cmd.Caller, cmd.Units, cmd.Price)
	case OpRegisterConsumer:
		res.Err = e.RegisterConsumer(ctx, cmd.Caller)
	case OpBuyEnergy:
		var receipt PurchaseReceipt
		receipt, res.Err = e.BuyEnergy(ctx, cmd.Caller, cmd.ProducerID, cmd.Units)
		res.Value = receipt.Cost
	case OpUpdateEnergy:
		res.Value, res.Err = e.UpdateEnergy(ctx, cmd.Caller, cmd.Units)
	case OpRateProducer:
		res.Value, res.Err = e.RateProducer(ctx, cmd.Caller, cmd.ProducerID, cmd.Rating)
	case OpRequestRefund:
		var receipt RefundReceipt
		receipt, res.Err = e.RequestRefund(ctx, cmd.Caller, cmd.ProducerID, cmd.Units)
		res.Value = receipt.Cost
	case OpWithdrawRevenue:
		res.Value, res.Err = e.WithdrawRevenue(ctx, cmd.Caller)
	case OpSetEnergyPrice:
		res.Err = e.SetEnergyPrice(ctx, cmd.Caller, cmd.ProducerID, cmd.Price)
	case OpPauseProducer:
		res.Err = e.PauseProducer(ctx, cmd.Caller, cmd.ProducerID)
	default:
		res.Err = reject(string(cmd.Op), CodeUnknownOperation, "unsupported operation")
	}

	if errors.Is(res.Err, errStepApplied) {
		return Result{Op: cmd.Op, Replayed: true}
	}

	// a rejection rolled its transaction back, record that the batch moved on
	if cmd.BatchID != "" && IsRejection(res.Err) {
		if err := e.markStep(ctx, cmd.BatchID, cmd.Seq); err != nil {
			e.logger.Warn("Failed to record batch progress",
				zap.String("batch_id", cmd.BatchID),
				zap.Int("seq", cmd.Seq),
				zap.Error(err))
		}
	}

	res.Code = CodeOf(res.Err)
	return res
}

// ExecuteBatch runs cmds strictly in order. Every command is its own
// transaction: a rejected command leaves no effects and does not stop
// the ones after it.
func (e *Engine) ExecuteBatch(ctx context.Context, cmds []Command) []Result {
	results := make([]Result, len(cmds))
	for i, cmd := range cmds {
		results[i] = e.Execute(ctx, cmd)
		results[i].Index = i
	}
	return results
}

// withTx runs fn in a store transaction. Inside a batch the transaction
// also checks and advances the batch's progress, so a command is skipped
// if the batch already got past it.
func (e *Engine) withTx(ctx context.Context, fn func(Tx) error) error {
	step, inBatch := ctx.Value(batchStepKey{}).(batchStep)
	if !inBatch {
		return e.store.WithTx(ctx, fn)
	}

	return e.store.WithTx(ctx, func(tx Tx) error {
		next, _, err := tx.BatchProgress(ctx, step.batchID)
		if err != nil {
			return fmt.Errorf("failed to load batch progress: %w", err)
		}
		if next > step.seq {
			return errStepApplied
		}
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.PutBatchProgress(ctx, step.batchID, step.seq+1); err != nil {
			return fmt.Errorf("failed to save batch progress: %w", err)
		}
		return nil
	})
}

func (e *Engine) stepApplied(ctx context.Context, batchID string, seq int) (bool, error) {
	var next int
	err := e.store.View(ctx, func(r Reader) error {
		var err error
		next, _, err = r.BatchProgress(ctx, batchID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to load batch progress: %w", err)
	}
	return next > seq, nil
}

func (e *Engine) markStep(ctx context.Context, batchID string, seq int) error {
	return e.store.WithTx(ctx, func(tx Tx) error {
		next, _, err := tx.BatchProgress(ctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to load batch progress: %w", err)
		}
		if next > seq {
			return nil
		}
		return tx.PutBatchProgress(ctx, batchID, seq+1)
	})
}

// FirstError returns the first failed result as an error, if any
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("command %d (%s): %w", r.Index, r.Op, r.Err)
		}
	}
	return nil
}
