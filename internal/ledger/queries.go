package ledger

import (
	"context"
	"fmt"

	"energy-ledger/internal/models"
)

// GetProducer returns the full producer record
func (e *Engine) GetProducer(ctx context.Context, id string) (models.Producer, bool, error) {
	var (
		p     models.Producer
		found bool
	)
	err := e.store.View(ctx, func(r Reader) error {
		var err error
		p, found, err = r.Producer(ctx, id)
		return err
	})
	if err != nil {
		return models.Producer{}, false, fmt.Errorf("failed to load producer: %w", err)
	}
	return p, found, nil
}

// GetConsumer returns the full consumer record
func (e *Engine) GetConsumer(ctx context.Context, id string) (models.Consumer, bool, error) {
	var (
		c     models.Consumer
		found bool
	)
	err := e.store.View(ctx, func(r Reader) error {
		var err error
		c, found, err = r.Consumer(ctx, id)
		return err
	})
	if err != nil {
		return models.Consumer{}, false, fmt.Errorf("failed to load consumer: %w", err)
	}
	return c, found, nil
}

// GetPurchase returns what consumerID bought from producerID
func (e *Engine) GetPurchase(ctx context.Context, consumerID, producerID string) (models.Purchase, bool, error) {
	var (
		pur   models.Purchase
		found bool
	)
	err := e.store.View(ctx, func(r Reader) error {
		var err error
		pur, found, err = r.Purchase(ctx, consumerID, producerID)
		return err
	})
	if err != nil {
		return models.Purchase{}, false, fmt.Errorf("failed to load purchase history: %w", err)
	}
	return pur, found, nil
}

// ListProducers returns every producer record
func (e *Engine) ListProducers(ctx context.Context) ([]models.Producer, error) {
	producers, err := e.store.Producers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list producers: %w", err)
	}
	return producers, nil
}

// GetProducerInfo returns the tradeable fields, or found=false
func (e *Engine) GetProducerInfo(ctx context.Context, id string) (models.ProducerInfo, bool, error) {
	p, found, err := e.GetProducer(ctx, id)
	if err != nil || !found {
		return models.ProducerInfo{}, found, err
	}
	return p.Info(), true, nil
}

// GetConsumerInfo returns net consumption and spend, or found=false
func (e *Engine) GetConsumerInfo(ctx context.Context, id string) (models.ConsumerInfo, bool, error) {
	c, found, err := e.GetConsumer(ctx, id)
	if err != nil || !found {
		return models.ConsumerInfo{}, found, err
	}
	return c.Info(), true, nil
}

// The counter queries report 0 for unknown accounts.

func (e *Engine) GetEnergySold(ctx context.Context, producerID string) (uint64, error) {
	p, _, err := e.GetProducer(ctx, producerID)
	return p.EnergySold, err
}

func (e *Engine) GetProducerRevenue(ctx context.Context, producerID string) (uint64, error) {
	p, _, err := e.GetProducer(ctx, producerID)
	return p.Revenue, err
}

func (e *Engine) GetProducerRating(ctx context.Context, producerID string) (uint64, error) {
	p, _, err := e.GetProducer(ctx, producerID)
	return p.Rating, err
}

func (e *Engine) GetEnergyPurchased(ctx context.Context, consumerID string) (uint64, error) {
	c, _, err := e.GetConsumer(ctx, consumerID)
	return c.EnergyPurchased, err
}

func (e *Engine) GetRefundAmount(ctx context.Context, consumerID string) (uint64, error) {
	c, _, err := e.GetConsumer(ctx, consumerID)
	return c.RefundAmount, err
}
