package ledger

import (
	"context"
	"fmt"

	"energy-ledger/internal/models"

	"go.uber.org/zap"
)

// Options tune the behaviours the ledger rules leave open
type Options struct {
	// RefundPricing is models.RefundPricingCurrent (price at refund time)
	// or models.RefundPricingPurchase (share of what the consumer paid).
	RefundPricing string

	// AutoRegisterConsumers creates a consumer record on first purchase
	// instead of rejecting with ConsumerNotFound.
	AutoRegisterConsumers bool
}

// DefaultOptions returns the options the service runs with unless configured
func DefaultOptions() Options {
	return Options{
		RefundPricing:         models.RefundPricingCurrent,
		AutoRegisterConsumers: true,
	}
}

// PurchaseReceipt describes an applied purchase
type PurchaseReceipt struct {
	Units uint64 `json:"units"`
	Cost  uint64 `json:"cost"`
}

// RefundReceipt describes an applied refund
type RefundReceipt struct {
	Units uint64 `json:"units"`
	Cost  uint64 `json:"cost"`
}

// Engine applies ledger operations. Each operation validates against the
// current state and then writes every affected record in one transaction,
// or writes nothing.
type Engine struct {
	store  Store
	access *AccessController
	opts   Options
	logger *zap.Logger
}

// NewEngine creates a new transaction engine
func NewEngine(store Store, access *AccessController, opts Options, logger *zap.Logger) *Engine {
	if opts.RefundPricing == "" {
		opts.RefundPricing = models.RefundPricingCurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		access: access,
		opts:   opts,
		logger: logger,
	}
}

// RegisterProducer lists caller as a producer. Re-registering resets the
// tradeable fields and unpauses, cumulative counters are kept.
func (e *Engine) RegisterProducer(ctx context.Context, caller string, energyAvailable, energyPrice uint64) error {
	const op = "registerProducer"
	if err := validateListing(op, energyAvailable, energyPrice); err != nil {
		return err
	}

	return e.withTx(ctx, func(tx Tx) error {
		p, _, err := tx.Producer(ctx, caller)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		p.ID = caller
		p.EnergyAvailable = energyAvailable
		p.EnergyPrice = energyPrice
		p.Paused = false
		if err := tx.PutProducer(ctx, p); err != nil {
			return fmt.Errorf("failed to save producer: %w", err)
		}
		e.logger.Debug("Producer registered",
			zap.String("producer_id", caller),
			zap.Uint64("energy_available", energyAvailable),
			zap.Uint64("energy_price", energyPrice))
		return nil
	})
}

// RegisterConsumer creates a zeroed consumer record if none exists
func (e *Engine) RegisterConsumer(ctx context.Context, caller string) error {
	return e.withTx(ctx, func(tx Tx) error {
		_, found, err := tx.Consumer(ctx, caller)
		if err != nil {
			return fmt.Errorf("failed to load consumer: %w", err)
		}
		if found {
			return nil
		}
		if err := tx.PutConsumer(ctx, models.Consumer{ID: caller}); err != nil {
			return fmt.Errorf("failed to save consumer: %w", err)
		}
		e.logger.Debug("Consumer registered", zap.String("consumer_id", caller))
		return nil
	})
}

// BuyEnergy moves units from producerID's inventory to caller
func (e *Engine) BuyEnergy(ctx context.Context, caller, producerID string, units uint64) (PurchaseReceipt, error) {
	const op = "buyEnergy"
	var receipt PurchaseReceipt

	err := e.withTx(ctx, func(tx Tx) error {
		p, found, err := tx.Producer(ctx, producerID)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		if err := requireProducer(op, producerID, found); err != nil {
			return err
		}
		if err := validateAvailable(op, p, units); err != nil {
			return err
		}

		c, found, err := tx.Consumer(ctx, caller)
		if err != nil {
			return fmt.Errorf("failed to load consumer: %w", err)
		}
		if !found {
			if !e.opts.AutoRegisterConsumers {
				return requireConsumer(op, caller, false)
			}
			c = models.Consumer{ID: caller}
		}

		pur, _, err := tx.Purchase(ctx, caller, producerID)
		if err != nil {
			return fmt.Errorf("failed to load purchase history: %w", err)
		}
		pur.ConsumerID, pur.ProducerID = caller, producerID

		p, c, pur, cost, err := applyPurchase(op, p, c, pur, units)
		if err != nil {
			return err
		}
		if err := writeAll(ctx, tx, &p, &c, &pur); err != nil {
			return err
		}

		receipt = PurchaseReceipt{Units: units, Cost: cost}
		return nil
	})
	if err != nil {
		return PurchaseReceipt{}, err
	}

	e.logger.Debug("Energy purchased",
		zap.String("consumer_id", caller),
		zap.String("producer_id", producerID),
		zap.Uint64("units", units),
		zap.Uint64("cost", receipt.Cost))
	return receipt, nil
}

// applyPurchase computes every counter a purchase touches. Nothing is
// returned unless all of them fit.
func applyPurchase(op string, p models.Producer, c models.Consumer, pur models.Purchase, units uint64) (models.Producer, models.Consumer, models.Purchase, uint64, error) {
	var err error
	fail := func(err error) (models.Producer, models.Consumer, models.Purchase, uint64, error) {
		return models.Producer{}, models.Consumer{}, models.Purchase{}, 0, err
	}

	cost, err := mul(op, units, p.EnergyPrice)
	if err != nil {
		return fail(err)
	}

	if p.EnergyAvailable, err = sub(op, p.EnergyAvailable, units); err != nil {
		return fail(err)
	}
	if p.EnergySold, err = add(op, p.EnergySold, units); err != nil {
		return fail(err)
	}
	if p.Revenue, err = add(op, p.Revenue, cost); err != nil {
		return fail(err)
	}

	if c.EnergyConsumed, err = add(op, c.EnergyConsumed, units); err != nil {
		return fail(err)
	}
	if c.TotalSpent, err = add(op, c.TotalSpent, cost); err != nil {
		return fail(err)
	}
	if c.EnergyPurchased, err = add(op, c.EnergyPurchased, units); err != nil {
		return fail(err)
	}

	if pur.Purchased, err = add(op, pur.Purchased, units); err != nil {
		return fail(err)
	}
	if pur.Spent, err = add(op, pur.Spent, cost); err != nil {
		return fail(err)
	}

	return p, c, pur, cost, nil
}

// UpdateEnergy adds units to the caller's inventory and returns the new
// total. A paused producer is refused with ProducerPaused.
func (e *Engine) UpdateEnergy(ctx context.Context, caller string, additionalUnits uint64) (uint64, error) {
	const op = "updateEnergy"
	var available uint64

	err := e.withTx(ctx, func(tx Tx) error {
		p, found, err := tx.Producer(ctx, caller)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		if err := requireProducer(op, caller, found); err != nil {
			return err
		}
		if err := requireActive(op, p); err != nil {
			return err
		}
		if p.EnergyAvailable, err = add(op, p.EnergyAvailable, additionalUnits); err != nil {
			return err
		}
		if err := tx.PutProducer(ctx, p); err != nil {
			return fmt.Errorf("failed to save producer: %w", err)
		}
		available = p.EnergyAvailable
		return nil
	})
	return available, err
}

// RateProducer folds value into the producer's rating and returns the
// new rating. Each rating moves the score halfway towards itself,
// truncated: rating = (rating + value) / 2.
func (e *Engine) RateProducer(ctx context.Context, caller, producerID string, value uint64) (uint64, error) {
	const op = "rateProducer"
	if err := validateRating(op, value); err != nil {
		return 0, err
	}

	var rating uint64
	err := e.withTx(ctx, func(tx Tx) error {
		pur, found, err := tx.Purchase(ctx, caller, producerID)
		if err != nil {
			return fmt.Errorf("failed to load purchase history: %w", err)
		}
		if err := requireHistory(op, caller, producerID, pur, found); err != nil {
			return err
		}

		p, found, err := tx.Producer(ctx, producerID)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		if err := requireProducer(op, producerID, found); err != nil {
			return err
		}

		sum, err := add(op, p.Rating, value)
		if err != nil {
			return err
		}
		count, err := add(op, p.RatingCount, 1)
		if err != nil {
			return err
		}
		p.Rating, p.RatingCount = sum/2, count

		if err := tx.PutProducer(ctx, p); err != nil {
			return fmt.Errorf("failed to save producer: %w", err)
		}
		rating = p.Rating
		return nil
	})
	return rating, err
}

// RequestRefund reverses units the caller bought from producerID. The
// units are not returned to the producer's inventory.
func (e *Engine) RequestRefund(ctx context.Context, caller, producerID string, units uint64) (RefundReceipt, error) {
	const op = "requestRefund"
	var receipt RefundReceipt

	err := e.withTx(ctx, func(tx Tx) error {
		pur, found, err := tx.Purchase(ctx, caller, producerID)
		if err != nil {
			return fmt.Errorf("failed to load purchase history: %w", err)
		}
		if err := requireHistory(op, caller, producerID, pur, found); err != nil {
			return err
		}
		if err := validateRefundable(op, pur, units); err != nil {
			return err
		}

		p, found, err := tx.Producer(ctx, producerID)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		if err := requireProducer(op, producerID, found); err != nil {
			return err
		}
		c, found, err := tx.Consumer(ctx, caller)
		if err != nil {
			return fmt.Errorf("failed to load consumer: %w", err)
		}
		if err := requireConsumer(op, caller, found); err != nil {
			return err
		}

		cost, err := e.refundCost(op, p, pur, units)
		if err != nil {
			return err
		}
		c, pur, err = applyRefund(op, c, pur, units, cost)
		if err != nil {
			return err
		}
		if err := writeAll(ctx, tx, nil, &c, &pur); err != nil {
			return err
		}

		receipt = RefundReceipt{Units: units, Cost: cost}
		return nil
	})
	if err != nil {
		return RefundReceipt{}, err
	}

	e.logger.Debug("Refund applied",
		zap.String("consumer_id", caller),
		zap.String("producer_id", producerID),
		zap.Uint64("units", units),
		zap.Uint64("cost", receipt.Cost))
	return receipt, nil
}

func (e *Engine) refundCost(op string, p models.Producer, pur models.Purchase, units uint64) (uint64, error) {
	if units == 0 {
		return 0, nil
	}
	if e.opts.RefundPricing == models.RefundPricingPurchase {
		remaining, err := sub(op, pur.Spent, pur.RefundedCost)
		if err != nil {
			return 0, err
		}
		return mulDiv(op, remaining, units, pur.Refundable())
	}
	return mul(op, units, p.EnergyPrice)
}

// applyRefund computes every counter a refund touches
func applyRefund(op string, c models.Consumer, pur models.Purchase, units, cost uint64) (models.Consumer, models.Purchase, error) {
	var err error
	if c.EnergyConsumed, err = sub(op, c.EnergyConsumed, units); err != nil {
		return models.Consumer{}, models.Purchase{}, err
	}
	if c.TotalSpent, err = sub(op, c.TotalSpent, cost); err != nil {
		return models.Consumer{}, models.Purchase{}, err
	}
	if c.RefundAmount, err = add(op, c.RefundAmount, units); err != nil {
		return models.Consumer{}, models.Purchase{}, err
	}
	if pur.Refunded, err = add(op, pur.Refunded, units); err != nil {
		return models.Consumer{}, models.Purchase{}, err
	}
	if pur.RefundedCost, err = add(op, pur.RefundedCost, cost); err != nil {
		return models.Consumer{}, models.Purchase{}, err
	}
	return c, pur, nil
}

// WithdrawRevenue zeroes the caller's pending revenue and returns it
func (e *Engine) WithdrawRevenue(ctx context.Context, caller string) (uint64, error) {
	const op = "withdrawRevenue"
	var amount uint64

	err := e.withTx(ctx, func(tx Tx) error {
		p, found, err := tx.Producer(ctx, caller)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		if err := requireProducer(op, caller, found); err != nil {
			return err
		}
		amount, p.Revenue = p.Revenue, 0
		if err := tx.PutProducer(ctx, p); err != nil {
			return fmt.Errorf("failed to save producer: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info("Revenue withdrawn",
		zap.String("producer_id", caller),
		zap.Uint64("amount", amount))
	return amount, nil
}

// SetEnergyPrice overrides a producer's price. Administrator only; the
// price is not validated and may be zero. A paused producer keeps price 0.
func (e *Engine) SetEnergyPrice(ctx context.Context, caller, producerID string, price uint64) error {
	const op = "setEnergyPrice"
	if err := e.access.Authorize(op, caller); err != nil {
		return err
	}

	err := e.withTx(ctx, func(tx Tx) error {
		p, found, err := tx.Producer(ctx, producerID)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		if err := requireProducer(op, producerID, found); err != nil {
			return err
		}
		if err := requireActive(op, p); err != nil {
			return err
		}
		p.EnergyPrice = price
		if err := tx.PutProducer(ctx, p); err != nil {
			return fmt.Errorf("failed to save producer: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Energy price overridden",
		zap.String("producer_id", producerID),
		zap.Uint64("price", price))
	return nil
}

// PauseProducer takes a producer off the market. Administrator only.
// Cumulative counters are kept.
func (e *Engine) PauseProducer(ctx context.Context, caller, producerID string) error {
	const op = "pauseProducer"
	if err := e.access.Authorize(op, caller); err != nil {
		return err
	}

	err := e.withTx(ctx, func(tx Tx) error {
		p, found, err := tx.Producer(ctx, producerID)
		if err != nil {
			return fmt.Errorf("failed to load producer: %w", err)
		}
		if err := requireProducer(op, producerID, found); err != nil {
			return err
		}
		p.EnergyAvailable = 0
		p.EnergyPrice = 0
		p.Paused = true
		if err := tx.PutProducer(ctx, p); err != nil {
			return fmt.Errorf("failed to save producer: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Producer paused", zap.String("producer_id", producerID))
	return nil
}

// writeAll persists the non-nil records of one operation
func writeAll(ctx context.Context, tx Tx, p *models.Producer, c *models.Consumer, pur *models.Purchase) error {
	if p != nil {
		if err := tx.PutProducer(ctx, *p); err != nil {
			return fmt.Errorf("failed to save producer: %w", err)
		}
	}
	if c != nil {
		if err := tx.PutConsumer(ctx, *c); err != nil {
			return fmt.Errorf("failed to save consumer: %w", err)
		}
	}
	if pur != nil {
		if err := tx.PutPurchase(ctx, *pur); err != nil {
			return fmt.Errorf("failed to save purchase history: %w", err)
		}
	}
	return nil
}
