package ledger_test

import (
	"context"
	"math"
	"testing"

	"energy-ledger/internal/ledger"
	"energy-ledger/internal/models"
	"energy-ledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin    = "admin"
	producer = "producer-1"
	consumer = "consumer-1"
)

func newEngine(t *testing.T) *ledger.Engine {
	t.Helper()
	return newEngineWith(t, ledger.DefaultOptions())
}

func newEngineWith(t *testing.T, opts ledger.Options) *ledger.Engine {
	t.Helper()
	return ledger.NewEngine(store.NewMemory(), ledger.NewAccessController(admin), opts, nil)
}

// seed registers producer(available, price) and consumer and buys units
func seed(t *testing.T, e *ledger.Engine, available, price, units uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.RegisterProducer(ctx, producer, available, price))
	require.NoError(t, e.RegisterConsumer(ctx, consumer))
	if units > 0 {
		_, err := e.BuyEnergy(ctx, consumer, producer, units)
		require.NoError(t, err)
	}
}

func mustProducer(t *testing.T, e *ledger.Engine, id string) models.Producer {
	t.Helper()
	p, found, err := e.GetProducer(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found, "producer %s not found", id)
	return p
}

func mustConsumer(t *testing.T, e *ledger.Engine, id string) models.Consumer {
	t.Helper()
	c, found, err := e.GetConsumer(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found, "consumer %s not found", id)
	return c
}

func TestRegisterProducer(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterProducer(ctx, producer, 1000, 10))

	info, found, err := e.GetProducerInfo(ctx, producer)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ProducerInfo{EnergyAvailable: 1000, EnergyPrice: 10}, info)

	p := mustProducer(t, e, producer)
	assert.Zero(t, p.EnergySold)
	assert.Zero(t, p.Revenue)
	assert.Zero(t, p.Rating)
	assert.False(t, p.Paused)
}

func TestRegisterProducerInvalidAmount(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		price     uint64
	}{
		{"zero energy", 0, 10},
		{"zero price", 1000, 0},
		{"both zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			err := e.RegisterProducer(context.Background(), producer, tt.available, tt.price)
			assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
			assert.Equal(t, ledger.CodeInvalidAmount, ledger.CodeOf(err))

			_, found, err := e.GetProducerInfo(context.Background(), producer)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestReRegisterProducerKeepsCounters(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 200)
	_, err := e.RateProducer(ctx, consumer, producer, 5)
	require.NoError(t, err)
	require.NoError(t, e.PauseProducer(ctx, admin, producer))

	require.NoError(t, e.RegisterProducer(ctx, producer, 50, 7))

	p := mustProducer(t, e, producer)
	assert.Equal(t, uint64(50), p.EnergyAvailable)
	assert.Equal(t, uint64(7), p.EnergyPrice)
	assert.False(t, p.Paused)
	assert.Equal(t, uint64(200), p.EnergySold)
	assert.Equal(t, uint64(2000), p.Revenue)
	assert.Equal(t, uint64(2), p.Rating)
	assert.Equal(t, uint64(1), p.RatingCount)
}

func TestRegisterConsumer(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 100)

	// registering again does not reset anything
	require.NoError(t, e.RegisterConsumer(ctx, consumer))

	info, found, err := e.GetConsumerInfo(ctx, consumer)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ConsumerInfo{EnergyConsumed: 100, TotalSpent: 1000}, info)

	_, found, err = e.GetConsumerInfo(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBuyEnergy(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 0)

	receipt, err := e.BuyEnergy(ctx, consumer, producer, 200)
	require.NoError(t, err)
	assert.Equal(t, ledger.PurchaseReceipt{Units: 200, Cost: 2000}, receipt)

	p := mustProducer(t, e, producer)
	assert.Equal(t, uint64(800), p.EnergyAvailable)
	assert.Equal(t, uint64(200), p.EnergySold)
	assert.Equal(t, uint64(2000), p.Revenue)

	c := mustConsumer(t, e, consumer)
	assert.Equal(t, uint64(200), c.EnergyConsumed)
	assert.Equal(t, uint64(2000), c.TotalSpent)
	assert.Equal(t, uint64(200), c.EnergyPurchased)

	pur, found, err := e.GetPurchase(ctx, consumer, producer)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(200), pur.Purchased)
	assert.Equal(t, uint64(2000), pur.Spent)

	sold, err := e.GetEnergySold(ctx, producer)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), sold)

	purchased, err := e.GetEnergyPurchased(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), purchased)
}

func TestBuyEnergyInsufficientLeavesStateUnchanged(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 100, 10, 0)

	beforeP := mustProducer(t, e, producer)
	beforeC := mustConsumer(t, e, consumer)

	_, err := e.BuyEnergy(ctx, consumer, producer, 101)
	assert.ErrorIs(t, err, ledger.ErrInsufficientEnergy)

	assert.Equal(t, beforeP, mustProducer(t, e, producer))
	assert.Equal(t, beforeC, mustConsumer(t, e, consumer))

	_, found, err := e.GetPurchase(ctx, consumer, producer)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBuyEnergyProducerNotFound(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.RegisterConsumer(ctx, consumer))

	_, err := e.BuyEnergy(ctx, consumer, "ghost", 1)
	assert.ErrorIs(t, err, ledger.ErrProducerNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestBuyEnergyUnregisteredConsumer(t *testing.T) {
	ctx := context.Background()

	t.Run("auto register", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.RegisterProducer(ctx, producer, 100, 2))

		_, err := e.BuyEnergy(ctx, "walk-in", producer, 10)
		require.NoError(t, err)

		c := mustConsumer(t, e, "walk-in")
		assert.Equal(t, uint64(10), c.EnergyConsumed)
		assert.Equal(t, uint64(20), c.TotalSpent)
	})

	t.Run("reject", func(t *testing.T) {
		opts := ledger.DefaultOptions()
		opts.AutoRegisterConsumers = false
		e := newEngineWith(t, opts)
		require.NoError(t, e.RegisterProducer(ctx, producer, 100, 2))

		_, err := e.BuyEnergy(ctx, "walk-in", producer, 10)
		assert.ErrorIs(t, err, ledger.ErrConsumerNotFound)
		assert.Equal(t, uint64(100), mustProducer(t, e, producer).EnergyAvailable)
	})
}

func TestBuyEnergyCostOverflow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, math.MaxUint64, math.MaxUint64, 0)

	_, err := e.BuyEnergy(ctx, consumer, producer, 2)
	assert.ErrorIs(t, err, ledger.ErrArithmeticOverflow)
	assert.Equal(t, uint64(math.MaxUint64), mustProducer(t, e, producer).EnergyAvailable)
	assert.Zero(t, mustConsumer(t, e, consumer).EnergyPurchased)
}

func TestUpdateEnergy(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 0)

	available, err := e.UpdateEnergy(ctx, producer, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), available)

	_, err = e.UpdateEnergy(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ledger.ErrProducerNotFound)

	_, err = e.UpdateEnergy(ctx, producer, math.MaxUint64)
	assert.ErrorIs(t, err, ledger.ErrArithmeticOverflow)
	assert.Equal(t, uint64(1500), mustProducer(t, e, producer).EnergyAvailable)
}

func TestRateProducer(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 1)

	rating, err := e.RateProducer(ctx, consumer, producer, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rating)

	rating, err = e.RateProducer(ctx, consumer, producer, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rating)

	stored, err := e.GetProducerRating(ctx, producer)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stored)
	assert.Equal(t, uint64(2), mustProducer(t, e, producer).RatingCount)
}

func TestRateProducerRejections(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 1)
	require.NoError(t, e.RegisterConsumer(ctx, "stranger"))

	for _, value := range []uint64{0, 6} {
		_, err := e.RateProducer(ctx, consumer, producer, value)
		assert.ErrorIs(t, err, ledger.ErrInvalidRating, "value %d", value)
	}

	_, err := e.RateProducer(ctx, "stranger", producer, 3)
	assert.ErrorIs(t, err, ledger.ErrNoPurchaseHistory)

	_, err = e.RateProducer(ctx, consumer, "ghost", 3)
	assert.ErrorIs(t, err, ledger.ErrNoPurchaseHistory)

	p := mustProducer(t, e, producer)
	assert.Zero(t, p.Rating)
	assert.Zero(t, p.RatingCount)
}

func TestRequestRefund(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 200)

	receipt, err := e.RequestRefund(ctx, consumer, producer, 50)
	require.NoError(t, err)
	assert.Equal(t, ledger.RefundReceipt{Units: 50, Cost: 500}, receipt)

	c := mustConsumer(t, e, consumer)
	assert.Equal(t, uint64(150), c.EnergyConsumed)
	assert.Equal(t, uint64(1500), c.TotalSpent)
	assert.Equal(t, uint64(50), c.RefundAmount)
	assert.Equal(t, uint64(200), c.EnergyPurchased)

	// refunds are not relisted and do not touch revenue
	p := mustProducer(t, e, producer)
	assert.Equal(t, uint64(800), p.EnergyAvailable)
	assert.Equal(t, uint64(2000), p.Revenue)
	assert.Equal(t, uint64(200), p.EnergySold)

	refunded, err := e.GetRefundAmount(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), refunded)
}

func TestRequestRefundLimits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 100)

	_, err := e.RequestRefund(ctx, consumer, producer, 101)
	assert.ErrorIs(t, err, ledger.ErrRefundExceedsPurchase)

	_, err = e.RequestRefund(ctx, consumer, producer, 60)
	require.NoError(t, err)

	// only 40 units are left to refund
	_, err = e.RequestRefund(ctx, consumer, producer, 41)
	assert.ErrorIs(t, err, ledger.ErrRefundExceedsPurchase)

	_, err = e.RequestRefund(ctx, consumer, producer, 40)
	require.NoError(t, err)

	c := mustConsumer(t, e, consumer)
	assert.Zero(t, c.EnergyConsumed)
	assert.Zero(t, c.TotalSpent)
	assert.Equal(t, uint64(100), c.RefundAmount)

	_, err = e.RequestRefund(ctx, consumer, "ghost", 1)
	assert.ErrorIs(t, err, ledger.ErrNoPurchaseHistory)

	require.NoError(t, e.RegisterConsumer(ctx, "stranger"))
	_, err = e.RequestRefund(ctx, "stranger", producer, 1)
	assert.ErrorIs(t, err, ledger.ErrNoPurchaseHistory)
}

func TestRequestRefundPricing(t *testing.T) {
	ctx := context.Background()

	t.Run("current price underflow is rejected", func(t *testing.T) {
		e := newEngine(t)
		seed(t, e, 1000, 10, 10)
		require.NoError(t, e.SetEnergyPrice(ctx, admin, producer, 20))

		_, err := e.RequestRefund(ctx, consumer, producer, 10)
		assert.ErrorIs(t, err, ledger.ErrArithmeticUnderflow)

		c := mustConsumer(t, e, consumer)
		assert.Equal(t, uint64(10), c.EnergyConsumed)
		assert.Equal(t, uint64(100), c.TotalSpent)
		assert.Zero(t, c.RefundAmount)
	})

	t.Run("current price after pause refunds nothing", func(t *testing.T) {
		e := newEngine(t)
		seed(t, e, 1000, 10, 10)
		require.NoError(t, e.PauseProducer(ctx, admin, producer))

		receipt, err := e.RequestRefund(ctx, consumer, producer, 4)
		require.NoError(t, err)
		assert.Zero(t, receipt.Cost)
		assert.Equal(t, uint64(100), mustConsumer(t, e, consumer).TotalSpent)
	})

	t.Run("purchase price", func(t *testing.T) {
		opts := ledger.DefaultOptions()
		opts.RefundPricing = models.RefundPricingPurchase
		e := newEngineWith(t, opts)
		seed(t, e, 1000, 10, 10)
		require.NoError(t, e.SetEnergyPrice(ctx, admin, producer, 20))
		_, err := e.BuyEnergy(ctx, consumer, producer, 5)
		require.NoError(t, err)
		// paid 10*10 + 5*20 = 200 for 15 units

		receipt, err := e.RequestRefund(ctx, consumer, producer, 5)
		require.NoError(t, err)
		assert.Equal(t, uint64(66), receipt.Cost)

		receipt, err = e.RequestRefund(ctx, consumer, producer, 10)
		require.NoError(t, err)
		assert.Equal(t, uint64(134), receipt.Cost)

		c := mustConsumer(t, e, consumer)
		assert.Zero(t, c.TotalSpent)
		assert.Zero(t, c.EnergyConsumed)
	})
}

func TestWithdrawRevenue(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 30)

	amount, err := e.WithdrawRevenue(ctx, producer)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), amount)

	amount, err = e.WithdrawRevenue(ctx, producer)
	require.NoError(t, err)
	assert.Zero(t, amount)

	revenue, err := e.GetProducerRevenue(ctx, producer)
	require.NoError(t, err)
	assert.Zero(t, revenue)

	_, err = e.WithdrawRevenue(ctx, consumer)
	assert.ErrorIs(t, err, ledger.ErrProducerNotFound)
}

func TestAdminOperationsRequireOwner(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 0)

	err := e.SetEnergyPrice(ctx, consumer, producer, 99)
	assert.ErrorIs(t, err, ledger.ErrNotOwner)

	err = e.PauseProducer(ctx, producer, producer)
	assert.ErrorIs(t, err, ledger.ErrNotOwner)

	p := mustProducer(t, e, producer)
	assert.Equal(t, uint64(10), p.EnergyPrice)
	assert.Equal(t, uint64(1000), p.EnergyAvailable)
	assert.False(t, p.Paused)

	require.NoError(t, e.SetEnergyPrice(ctx, admin, producer, 0))
	assert.Zero(t, mustProducer(t, e, producer).EnergyPrice)

	err = e.SetEnergyPrice(ctx, admin, "ghost", 1)
	assert.ErrorIs(t, err, ledger.ErrProducerNotFound)
}

func TestPauseProducer(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 200)
	_, err := e.RateProducer(ctx, consumer, producer, 5)
	require.NoError(t, err)

	require.NoError(t, e.PauseProducer(ctx, admin, producer))

	p := mustProducer(t, e, producer)
	assert.True(t, p.Paused)
	assert.Zero(t, p.EnergyAvailable)
	assert.Zero(t, p.EnergyPrice)
	assert.Equal(t, uint64(200), p.EnergySold)
	assert.Equal(t, uint64(2000), p.Revenue)
	assert.Equal(t, uint64(2), p.Rating)

	_, err = e.BuyEnergy(ctx, consumer, producer, 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientEnergy)
}

func TestPausedProducerListingIsFrozen(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 0)
	require.NoError(t, e.PauseProducer(ctx, admin, producer))

	_, err := e.UpdateEnergy(ctx, producer, 100)
	assert.ErrorIs(t, err, ledger.ErrProducerPaused)
	assert.Equal(t, ledger.CodeProducerPaused, ledger.CodeOf(err))

	err = e.SetEnergyPrice(ctx, admin, producer, 12)
	assert.ErrorIs(t, err, ledger.ErrProducerPaused)

	p := mustProducer(t, e, producer)
	assert.True(t, p.Paused)
	assert.Zero(t, p.EnergyAvailable)
	assert.Zero(t, p.EnergyPrice)

	// nothing to sell, and nothing sold for free
	_, err = e.BuyEnergy(ctx, consumer, producer, 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientEnergy)
	assert.Zero(t, mustProducer(t, e, producer).EnergySold)

	// re-registering puts the producer back on the market
	require.NoError(t, e.RegisterProducer(ctx, producer, 100, 5))
	total, err := e.UpdateEnergy(ctx, producer, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), total)
}

func TestEndToEndScenario(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterProducer(ctx, producer, 1000, 10))
	require.NoError(t, e.RegisterConsumer(ctx, consumer))

	_, err := e.BuyEnergy(ctx, consumer, producer, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), mustProducer(t, e, producer).EnergyAvailable)
	assert.Equal(t, models.ConsumerInfo{EnergyConsumed: 200, TotalSpent: 2000}, mustConsumer(t, e, consumer).Info())

	rating, err := e.RateProducer(ctx, consumer, producer, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rating)

	_, err = e.RequestRefund(ctx, consumer, producer, 50)
	require.NoError(t, err)
	c := mustConsumer(t, e, consumer)
	assert.Equal(t, uint64(150), c.EnergyConsumed)
	assert.Equal(t, uint64(1500), c.TotalSpent)
	assert.Equal(t, uint64(50), c.RefundAmount)

	available, err := e.UpdateEnergy(ctx, producer, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1300), available)
}

func TestCountersForUnknownAccounts(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, get := range []func(context.Context, string) (uint64, error){
		e.GetEnergySold, e.GetProducerRevenue, e.GetProducerRating,
		e.GetEnergyPurchased, e.GetRefundAmount,
	} {
		v, err := get(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, v)
	}
}
