package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"energy-ledger/internal/models"
	"energy-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter delivers a keyed event. *Producer is the Kafka implementation.
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

type discard struct{}

func (discard) PublishEvent(context.Context, string, interface{}) error { return nil }

// Discard drops every event. Used when Kafka is disabled.
var Discard EventWriter = discard{}

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	if writer == nil {
		writer = Discard
	}
	return &EventPublisher{writer: writer}
}

func producerKey(id string) string {
	return fmt.Sprintf("producer-%s", id)
}

// PublishProducerRegistered publishes ProducerRegistered event
func (ep *EventPublisher) PublishProducerRegistered(ctx context.Context, event *models.ProducerRegisteredEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishConsumerRegistered publishes ConsumerRegistered event
func (ep *EventPublisher) PublishConsumerRegistered(ctx context.Context, event *models.ConsumerRegisteredEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("consumer-%s", event.ConsumerID), event)
}

// PublishEnergyPurchased publishes EnergyPurchased event
func (ep *EventPublisher) PublishEnergyPurchased(ctx context.Context, event *models.EnergyPurchasedEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishEnergyUpdated publishes EnergyUpdated event
func (ep *EventPublisher) PublishEnergyUpdated(ctx context.Context, event *models.EnergyUpdatedEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishProducerRated publishes ProducerRated event
func (ep *EventPublisher) PublishProducerRated(ctx context.Context, event *models.ProducerRatedEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishRefundIssued publishes RefundIssued event
func (ep *EventPublisher) PublishRefundIssued(ctx context.Context, event *models.RefundIssuedEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishRevenueWithdrawn publishes RevenueWithdrawn event
func (ep *EventPublisher) PublishRevenueWithdrawn(ctx context.Context, event *models.RevenueWithdrawnEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishPriceSet publishes PriceSet event
func (ep *EventPublisher) PublishPriceSet(ctx context.Context, event *models.PriceSetEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishProducerPaused publishes ProducerPaused event
func (ep *EventPublisher) PublishProducerPaused(ctx context.Context, event *models.ProducerPausedEvent) error {
	return ep.writer.PublishEvent(ctx, producerKey(event.ProducerID), event)
}

// PublishCommandBatch publishes a CommandBatch to the commands topic
func (ep *EventPublisher) PublishCommandBatch(ctx context.Context, event *models.CommandBatchEvent) error {
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("caller-%s", event.CallerID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCommandBatch func(context.Context, *models.CommandBatchEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCommandBatch registers a handler for CommandBatch events
func (eh *EventHandler) OnCommandBatch(handler func(context.Context, *models.CommandBatchEvent) error) {
	eh.onCommandBatch = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCommandBatch:
		if eh.onCommandBatch != nil {
			var event models.CommandBatchEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CommandBatch event: %w", err)
			}
			return eh.onCommandBatch(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
