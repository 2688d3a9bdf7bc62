package models

// Producer represents an account offering energy for sale
type Producer struct {
	ID              string `db:"id" json:"id"`
	EnergyAvailable uint64 `db:"energy_available" json:"energy_available"`
	EnergyPrice     uint64 `db:"energy_price" json:"energy_price"`
	EnergySold      uint64 `db:"energy_sold" json:"energy_sold"`
	Revenue         uint64 `db:"revenue" json:"revenue"`
	Rating          uint64 `db:"rating" json:"rating"`
	RatingCount     uint64 `db:"rating_count" json:"rating_count"`
	Paused          bool   `db:"paused" json:"paused"`
}

// Info returns the tradeable view of the producer
func (p Producer) Info() ProducerInfo {
	return ProducerInfo{
		EnergyAvailable: p.EnergyAvailable,
		EnergyPrice:     p.EnergyPrice,
	}
}

// Consumer represents an account that buys energy
type Consumer struct {
	ID              string `db:"id" json:"id"`
	EnergyConsumed  uint64 `db:"energy_consumed" json:"energy_consumed"`
	TotalSpent      uint64 `db:"total_spent" json:"total_spent"`
	EnergyPurchased uint64 `db:"energy_purchased" json:"energy_purchased"`
	RefundAmount    uint64 `db:"refund_amount" json:"refund_amount"`
}

// Info returns the net consumption view of the consumer
func (c Consumer) Info() ConsumerInfo {
	return ConsumerInfo{
		EnergyConsumed: c.EnergyConsumed,
		TotalSpent:     c.TotalSpent,
	}
}

// Purchase tracks everything a consumer bought from one producer.
// Refunded never exceeds Purchased.
type Purchase struct {
	ConsumerID   string `db:"consumer_id" json:"consumer_id"`
	ProducerID   string `db:"producer_id" json:"producer_id"`
	Purchased    uint64 `db:"purchased" json:"purchased"`
	Refunded     uint64 `db:"refunded" json:"refunded"`
	Spent        uint64 `db:"spent" json:"spent"`
	RefundedCost uint64 `db:"refunded_cost" json:"refunded_cost"`
}

// Refundable returns the units still eligible for a refund
func (p Purchase) Refundable() uint64 {
	return p.Purchased - p.Refunded
}

// ProducerInfo is the public listing of a producer
type ProducerInfo struct {
	EnergyAvailable uint64 `json:"energy_available"`
	EnergyPrice     uint64 `json:"energy_price"`
}

// ConsumerInfo is the public summary of a consumer
type ConsumerInfo struct {
	EnergyConsumed uint64 `json:"energy_consumed"`
	TotalSpent     uint64 `json:"total_spent"`
}

// Refund pricing modes
const (
	RefundPricingCurrent  = "current"
	RefundPricingPurchase = "purchase"
)
