package ledger

import (
	"math/bits"

	"energy-ledger/internal/models"
)

const (
	MinRating uint64 = 1
	MaxRating uint64 = 5
)

// validateListing checks the amounts a producer registers with
func validateListing(op string, energyAvailable, energyPrice uint64) error {
	if energyAvailable == 0 {
		return reject(op, CodeInvalidAmount, "energy available must be positive")
	}
	if energyPrice == 0 {
		return reject(op, CodeInvalidAmount, "energy price must be positive")
	}
	return nil
}

func requireProducer(op, id string, found bool) error {
	if !found {
		return reject(op, CodeProducerNotFound, "producer %q", id)
	}
	return nil
}

func requireConsumer(op, id string, found bool) error {
	if !found {
		return reject(op, CodeConsumerNotFound, "consumer %q", id)
	}
	return nil
}

// requireActive refuses to change the listing of a paused producer.
// Re-registering is the way back on the market.
func requireActive(op string, p models.Producer) error {
	if p.Paused {
		return reject(op, CodeProducerPaused, "producer %q", p.ID)
	}
	return nil
}

func validateAvailable(op string, p models.Producer, units uint64) error {
	if units > p.EnergyAvailable {
		return reject(op, CodeInsufficientEnergy, "requested %d, available %d", units, p.EnergyAvailable)
	}
	return nil
}

func validateRating(op string, value uint64) error {
	if value < MinRating || value > MaxRating {
		return reject(op, CodeInvalidRating, "got %d", value)
	}
	return nil
}

// requireHistory checks the consumer has bought from the producer at least once
func requireHistory(op, consumerID, producerID string, pur models.Purchase, found bool) error {
	if !found || pur.Purchased == 0 {
		return reject(op, CodeNoPurchaseHistory, "consumer %q has not bought from %q", consumerID, producerID)
	}
	return nil
}

func validateRefundable(op string, pur models.Purchase, units uint64) error {
	if units > pur.Refundable() {
		return reject(op, CodeRefundExceedsPurchase, "requested %d, refundable %d", units, pur.Refundable())
	}
	return nil
}

// Checked arithmetic. The op name is carried into the rejection.

func add(op string, a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, reject(op, CodeArithmeticOverflow, "%d + %d", a, b)
	}
	return sum, nil
}

func sub(op string, a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, reject(op, CodeArithmeticUnderflow, "%d - %d", a, b)
	}
	return diff, nil
}

func mul(op string, a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, reject(op, CodeArithmeticOverflow, "%d * %d", a, b)
	}
	return lo, nil
}

// mulDiv returns a*b/c using a 128-bit intermediate
func mulDiv(op string, a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, reject(op, CodeArithmeticUnderflow, "division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, reject(op, CodeArithmeticOverflow, "%d * %d / %d", a, b, c)
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo, nil
}
