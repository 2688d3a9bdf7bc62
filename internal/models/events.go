package models

import "time"

// Event types
const (
	EventTypeProducerRegistered = "PRODUCER_REGISTERED"
	EventTypeConsumerRegistered = "CONSUMER_REGISTERED"
	EventTypeEnergyPurchased    = "ENERGY_PURCHASED"
	EventTypeEnergyUpdated      = "ENERGY_UPDATED"
	EventTypeProducerRated      = "PRODUCER_RATED"
	EventTypeRefundIssued       = "REFUND_ISSUED"
	EventTypeRevenueWithdrawn   = "REVENUE_WITHDRAWN"
	EventTypePriceSet           = "PRICE_SET"
	EventTypeProducerPaused     = "PRODUCER_PAUSED"
	EventTypeCommandBatch       = "COMMAND_BATCH"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ProducerRegisteredEvent published when a producer lists (or relists) energy
type ProducerRegisteredEvent struct {
	BaseEvent
	ProducerID      string `json:"producer_id"`
	EnergyAvailable uint64 `json:"energy_available"`
	EnergyPrice     uint64 `json:"energy_price"`
}

// ConsumerRegisteredEvent published when a consumer registers
type ConsumerRegisteredEvent struct {
	BaseEvent
	ConsumerID string `json:"consumer_id"`
}

// EnergyPurchasedEvent published after a successful purchase
type EnergyPurchasedEvent struct {
	BaseEvent
	ConsumerID string `json:"consumer_id"`
	ProducerID string `json:"producer_id"`
	Units      uint64 `json:"units"`
	Cost       uint64 `json:"cost"`
}

// EnergyUpdatedEvent published when a producer adds inventory
type EnergyUpdatedEvent struct {
	BaseEvent
	ProducerID      string `json:"producer_id"`
	AdditionalUnits uint64 `json:"additional_units"`
	EnergyAvailable uint64 `json:"energy_available"`
}

// ProducerRatedEvent published when a consumer rates a producer
type ProducerRatedEvent struct {
	BaseEvent
	ConsumerID string `json:"consumer_id"`
	ProducerID string `json:"producer_id"`
	Value      uint64 `json:"value"`
	Rating     uint64 `json:"rating"`
}

// RefundIssuedEvent published after a refund is applied
type RefundIssuedEvent struct {
	BaseEvent
	ConsumerID string `json:"consumer_id"`
	ProducerID string `json:"producer_id"`
	Units      uint64 `json:"units"`
	Cost       uint64 `json:"cost"`
}

// RevenueWithdrawnEvent is the hand-off to external settlement
type RevenueWithdrawnEvent struct {
	BaseEvent
	ProducerID string `json:"producer_id"`
	Amount     uint64 `json:"amount"`
}

// PriceSetEvent published when the administrator overrides a price
type PriceSetEvent struct {
	BaseEvent
	ProducerID string `json:"producer_id"`
	Price      uint64 `json:"price"`
	SetBy      string `json:"set_by"`
}

// ProducerPausedEvent published when the administrator pauses a producer
type ProducerPausedEvent struct {
	BaseEvent
	ProducerID string `json:"producer_id"`
	PausedBy   string `json:"paused_by"`
}

// CommandBatchEvent carries an ordered batch of ledger commands to the worker
type CommandBatchEvent struct {
	BaseEvent
	BatchID  string        `json:"batch_id"`
	CallerID string        `json:"caller_id"`
	Commands []CommandData `json:"commands"`
}

// CommandData is one ledger operation in a batch
type CommandData struct {
	Op         string `json:"op"`
	ProducerID string `json:"producer_id,omitempty"`
	Units      uint64 `json:"units,omitempty"`
	Price      uint64 `json:"price,omitempty"`
	Rating     uint64 `json:"rating,omitempty"`
}
