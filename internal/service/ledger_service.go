package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"energy-ledger/internal/broker"
	"energy-ledger/internal/ledger"
	"energy-ledger/internal/models"
	"energy-ledger/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateRequest is returned when an idempotency key was already used
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrBatchTooLarge    = errors.New("batch too large")
	ErrQueueUnavailable = errors.New("command queue unavailable")
)

// ProducerCache is a read-through cache of public producer listings.
// Every invalidation bumps the listing's version; CacheProducer only
// writes if the version is still the one read before the store was, so
// a listing invalidated by a concurrent commit is never written back.
// *redisclient.Client implements it.
type ProducerCache interface {
	ProducerVersion(ctx context.Context, id string) (int64, error)
	CacheProducer(ctx context.Context, p models.Producer, version int64) (bool, error)
	GetProducerInfo(ctx context.Context, id string) (models.ProducerInfo, bool, error)
	InvalidateProducer(ctx context.Context, id string) error
}

// IdempotencyStore remembers request keys for a bounded time.
// *redisclient.Client implements it.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// LedgerService wraps the transaction engine with tracing, metrics,
// event publication and caching. Ledger rules live in the engine only.
type LedgerService struct {
	engine         *ledger.Engine
	eventPublisher *broker.EventPublisher
	cache          ProducerCache
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	commandQueue   *broker.EventPublisher
	maxBatch       int
	logger         *zap.Logger
}

// Option configures optional LedgerService collaborators
type Option func(*LedgerService)

// WithProducerCache enables the producer listing cache
func WithProducerCache(cache ProducerCache) Option {
	return func(s *LedgerService) {
		s.cache = cache
	}
}

// WithIdempotency enables idempotency key checks
func WithIdempotency(store IdempotencyStore, ttl time.Duration) Option {
	return func(s *LedgerService) {
		s.idempotency = store
		s.idempotencyTTL = ttl
	}
}

// WithCommandQueue enables asynchronous batch submission
func WithCommandQueue(queue *broker.EventPublisher) Option {
	return func(s *LedgerService) {
		s.commandQueue = queue
	}
}

// WithMaxBatchCommands limits the number of commands in one batch
func WithMaxBatchCommands(n int) Option {
	return func(s *LedgerService) {
		s.maxBatch = n
	}
}

// NewLedgerService creates a new ledger service
func NewLedgerService(engine *ledger.Engine, eventPublisher *broker.EventPublisher, opts ...Option) *LedgerService {
	if eventPublisher == nil {
		eventPublisher = broker.NewEventPublisher(nil)
	}
	s := &LedgerService{
		engine:         engine,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterProducer lists caller as a producer
func (s *LedgerService) RegisterProducer(ctx context.Context, caller string, energyAvailable, energyPrice uint64) error {
	res := s.execute(ctx, "LedgerService.RegisterProducer", ledger.Command{
		Op:     ledger.OpRegisterProducer,
		Caller: caller,
		Units:  energyAvailable,
		Price:  energyPrice,
	})
	return res.Err
}

// RegisterConsumer registers caller as a consumer
func (s *LedgerService) RegisterConsumer(ctx context.Context, caller string) error {
	res := s.execute(ctx, "LedgerService.RegisterConsumer", ledger.Command{
		Op:     ledger.OpRegisterConsumer,
		Caller: caller,
	})
	return res.Err
}

// BuyEnergy purchases units from producerID on behalf of caller
func (s *LedgerService) BuyEnergy(ctx context.Context, caller, producerID string, units uint64) (ledger.PurchaseReceipt, error) {
	res := s.execute(ctx, "LedgerService.BuyEnergy", ledger.Command{
		Op:         ledger.OpBuyEnergy,
		Caller:     caller,
		ProducerID: producerID,
		Units:      units,
	})
	if res.Err != nil {
		return ledger.PurchaseReceipt{}, res.Err
	}
	return ledger.PurchaseReceipt{Units: units, Cost: res.Value}, nil
}

// UpdateEnergy adds inventory to the caller's listing and returns the new total
func (s *LedgerService) UpdateEnergy(ctx context.Context, caller string, additionalUnits uint64) (uint64, error) {
	res := s.execute(ctx, "LedgerService.UpdateEnergy", ledger.Command{
		Op:     ledger.OpUpdateEnergy,
		Caller: caller,
		Units:  additionalUnits,
	})
	return res.Value, res.Err
}

// RateProducer records caller's rating of producerID and returns the new rating
func (s *LedgerService) RateProducer(ctx context.Context, caller, producerID string, value uint64) (uint64, error) {
	res := s.execute(ctx, "LedgerService.RateProducer", ledger.Command{
		Op:         ledger.OpRateProducer,
		Caller:     caller,
		ProducerID: producerID,
		Rating:     value,
	})
	return res.Value, res.Err
}

// RequestRefund returns units bought from producerID
func (s *LedgerService) RequestRefund(ctx context.Context, caller, producerID string, units uint64) (ledger.RefundReceipt, error) {
	res := s.execute(ctx, "LedgerService.RequestRefund", ledger.Command{
		Op:         ledger.OpRequestRefund,
		Caller:     caller,
		ProducerID: producerID,
		Units:      units,
	})
	if res.Err != nil {
		return ledger.RefundReceipt{}, res.Err
	}
	return ledger.RefundReceipt{Units: units, Cost: res.Value}, nil
}

// WithdrawRevenue zeroes the caller's revenue and returns the amount
func (s *LedgerService) WithdrawRevenue(ctx context.Context, caller string) (uint64, error) {
	res := s.execute(ctx, "LedgerService.WithdrawRevenue", ledger.Command{
		Op:     ledger.OpWithdrawRevenue,
		Caller: caller,
	})
	return res.Value, res.Err
}

// SetEnergyPrice overrides a producer's price. Administrator only.
func (s *LedgerService) SetEnergyPrice(ctx context.Context, caller, producerID string, price uint64) error {
	res := s.execute(ctx, "LedgerService.SetEnergyPrice", ledger.Command{
		Op:         ledger.OpSetEnergyPrice,
		Caller:     caller,
		ProducerID: producerID,
		Price:      price,
	})
	return res.Err
}

// PauseProducer delists a producer. Administrator only.
func (s *LedgerService) PauseProducer(ctx context.Context, caller, producerID string) error {
	res := s.execute(ctx, "LedgerService.PauseProducer", ledger.Command{
		Op:         ledger.OpPauseProducer,
		Caller:     caller,
		ProducerID: producerID,
	})
	return res.Err
}

// ExecuteBatch runs commands in order on behalf of caller. Each command
// commits or fails on its own. source labels the batch metric.
func (s *LedgerService) ExecuteBatch(ctx context.Context, caller string, commands []models.CommandData, source string) []ledger.Result {
	return s.executeBatch(ctx, "", caller, commands, source)
}

// ExecuteQueuedBatch runs a batch delivered by the command queue. The
// batch id is recorded with the commands, so a redelivered batch only
// runs the commands that did not run yet.
func (s *LedgerService) ExecuteQueuedBatch(ctx context.Context, event *models.CommandBatchEvent, source string) []ledger.Result {
	return s.executeBatch(ctx, event.BatchID, event.CallerID, event.Commands, source)
}

func (s *LedgerService) executeBatch(ctx context.Context, batchID, caller string, commands []models.CommandData, source string) []ledger.Result {
	ctx, span := util.StartSpan(ctx, "LedgerService.ExecuteBatch",
		attribute.String("batch_id", batchID),
		attribute.String("caller", caller),
		attribute.Int("commands", len(commands)),
		attribute.String("source", source))
	defer span.End()

	results := make([]ledger.Result, len(commands))
	failed, replayed := 0, 0
	for i, data := range commands {
		cmd := CommandFromData(caller, data)
		cmd.BatchID, cmd.Seq = batchID, i

		results[i] = s.execute(ctx, "LedgerService.Execute", cmd)
		results[i].Index = i
		if results[i].Err != nil {
			failed++
		}
		if results[i].Replayed {
			replayed++
		}
	}

	util.BatchesProcessedTotal.WithLabelValues(source).Inc()
	span.SetAttributes(attribute.Int("failed", failed), attribute.Int("replayed", replayed))
	s.logger.Info("Batch executed",
		zap.String("batch_id", batchID),
		zap.String("caller", caller),
		zap.String("source", source),
		zap.Int("commands", len(commands)),
		zap.Int("failed", failed),
		zap.Int("replayed", replayed))

	return results
}

// ValidateBatch rejects batches over the configured size limit
func (s *LedgerService) ValidateBatch(commands []models.CommandData) error {
	if s.maxBatch > 0 && len(commands) > s.maxBatch {
		return fmt.Errorf("%w: %d commands, limit is %d", ErrBatchTooLarge, len(commands), s.maxBatch)
	}
	return nil
}

// SubmitBatch queues commands for the command worker and returns the
// batch id. The commands run later, in order, as caller.
func (s *LedgerService) SubmitBatch(ctx context.Context, caller string, commands []models.CommandData) (string, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.SubmitBatch", attribute.String("caller", caller))
	defer span.End()

	if s.commandQueue == nil {
		return "", ErrQueueUnavailable
	}
	if err := s.ValidateBatch(commands); err != nil {
		return "", err
	}

	event := &models.CommandBatchEvent{
		BaseEvent: newBaseEvent(models.EventTypeCommandBatch),
		BatchID:   uuid.New().String(),
		CallerID:  caller,
		Commands:  commands,
	}
	if err := s.commandQueue.PublishCommandBatch(ctx, event); err != nil {
		return "", fmt.Errorf("failed to queue batch: %w", err)
	}

	s.logger.Info("Batch queued",
		zap.String("batch_id", event.BatchID),
		zap.String("caller", caller),
		zap.Int("commands", len(commands)))
	return event.BatchID, nil
}

// CommandFromData converts a wire command into an engine command for caller
func CommandFromData(caller string, data models.CommandData) ledger.Command {
	return ledger.Command{
		Op:         ledger.Op(data.Op),
		Caller:     caller,
		ProducerID: data.ProducerID,
		Units:      data.Units,
		Price:      data.Price,
		Rating:     data.Rating,
	}
}

// Idempotent runs fn unless key was already used. An empty key, or no
// configured idempotency store, always runs fn. The key is released when
// fn fails for a reason other than a ledger rejection so the caller may
// retry.
func (s *LedgerService) Idempotent(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" || s.idempotency == nil {
		return fn(ctx)
	}

	claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, key, s.idempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency check failed, processing request anyway",
			zap.String("idempotency_key", key),
			zap.Error(err))
		return fn(ctx)
	}
	if !claimed {
		util.DuplicateRequestsTotal.Inc()
		s.logger.Info("Duplicate request detected", zap.String("idempotency_key", key))
		return ErrDuplicateRequest
	}

	err = fn(ctx)
	if err != nil && !ledger.IsRejection(err) {
		if relErr := s.idempotency.ReleaseIdempotencyKey(ctx, key); relErr != nil {
			s.logger.Error("Failed to release idempotency key",
				zap.String("idempotency_key", key),
				zap.Error(relErr))
		}
	}
	return err
}

// execute runs one command through the engine and, on success, fans out
// the side effects.
func (s *LedgerService) execute(ctx context.Context, spanName string, cmd ledger.Command) ledger.Result {
	ctx, span := util.StartSpan(ctx, spanName,
		attribute.String("op", string(cmd.Op)),
		attribute.String("caller", cmd.Caller),
		attribute.String("producer_id", cmd.ProducerID))

	start := time.Now()
	res := s.engine.Execute(ctx, cmd)
	util.LedgerOperationLatency.WithLabelValues(string(cmd.Op)).Observe(time.Since(start).Seconds())

	code := "ok"
	switch {
	case res.Err != nil:
		code = string(res.Code)
	case res.Replayed:
		code = "replayed"
	}
	util.LedgerOperationsTotal.WithLabelValues(string(cmd.Op), code).Inc()
	util.EndSpan(span, res.Err)

	if res.Err != nil {
		if ledger.IsRejection(res.Err) {
			s.logger.Debug("Operation rejected",
				zap.String("op", string(cmd.Op)),
				zap.String("caller", cmd.Caller),
				zap.String("code", code))
		} else {
			s.logger.Error("Operation failed",
				zap.String("op", string(cmd.Op)),
				zap.String("caller", cmd.Caller),
				zap.Error(res.Err))
		}
		return res
	}
	if res.Replayed {
		s.logger.Debug("Batch command already applied",
			zap.String("batch_id", cmd.BatchID),
			zap.Int("seq", cmd.Seq),
			zap.String("op", string(cmd.Op)))
		return res
	}

	s.afterCommit(ctx, cmd, res)
	return res
}

// afterCommit publishes the event for an applied command and drops stale
// cache entries. Failures here never undo the ledger change.
func (s *LedgerService) afterCommit(ctx context.Context, cmd ledger.Command, res ledger.Result) {
	var err error

	switch cmd.Op {
	case ledger.OpRegisterProducer:
		s.invalidate(ctx, cmd.Caller)
		err = s.eventPublisher.PublishProducerRegistered(ctx, &models.ProducerRegisteredEvent{
			BaseEvent:       newBaseEvent(models.EventTypeProducerRegistered),
			ProducerID:      cmd.Caller,
			EnergyAvailable: cmd.Units,
			EnergyPrice:     cmd.Price,
		})

	case ledger.OpRegisterConsumer:
		err = s.eventPublisher.PublishConsumerRegistered(ctx, &models.ConsumerRegisteredEvent{
			BaseEvent:  newBaseEvent(models.EventTypeConsumerRegistered),
			ConsumerID: cmd.Caller,
		})

	case ledger.OpBuyEnergy:
		util.EnergyUnitsSoldTotal.Add(float64(cmd.Units))
		s.invalidate(ctx, cmd.ProducerID)
		s.logger.Info("Energy purchased",
			zap.String("consumer_id", cmd.Caller),
			zap.String("producer_id", cmd.ProducerID),
			zap.Uint64("units", cmd.Units),
			zap.Uint64("cost", res.Value))
		err = s.eventPublisher.PublishEnergyPurchased(ctx, &models.EnergyPurchasedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeEnergyPurchased),
			ConsumerID: cmd.Caller,
			ProducerID: cmd.ProducerID,
			Units:      cmd.Units,
			Cost:       res.Value,
		})

	case ledger.OpUpdateEnergy:
		s.invalidate(ctx, cmd.Caller)
		err = s.eventPublisher.PublishEnergyUpdated(ctx, &models.EnergyUpdatedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeEnergyUpdated),
			ProducerID:      cmd.Caller,
			AdditionalUnits: cmd.Units,
			EnergyAvailable: res.Value,
		})

	case ledger.OpRateProducer:
		err = s.eventPublisher.PublishProducerRated(ctx, &models.ProducerRatedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeProducerRated),
			ConsumerID: cmd.Caller,
			ProducerID: cmd.ProducerID,
			Value:      cmd.Rating,
			Rating:     res.Value,
		})

	case ledger.OpRequestRefund:
		util.EnergyUnitsRefundedTotal.Add(float64(cmd.Units))
		s.logger.Info("Refund issued",
			zap.String("consumer_id", cmd.Caller),
			zap.String("producer_id", cmd.ProducerID),
			zap.Uint64("units", cmd.Units),
			zap.Uint64("cost", res.Value))
		err = s.eventPublisher.PublishRefundIssued(ctx, &models.RefundIssuedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeRefundIssued),
			ConsumerID: cmd.Caller,
			ProducerID: cmd.ProducerID,
			Units:      cmd.Units,
			Cost:       res.Value,
		})

	case ledger.OpWithdrawRevenue:
		util.RevenueWithdrawnTotal.Add(float64(res.Value))
		err = s.eventPublisher.PublishRevenueWithdrawn(ctx, &models.RevenueWithdrawnEvent{
			BaseEvent:  newBaseEvent(models.EventTypeRevenueWithdrawn),
			ProducerID: cmd.Caller,
			Amount:     res.Value,
		})

	case ledger.OpSetEnergyPrice:
		s.invalidate(ctx, cmd.ProducerID)
		err = s.eventPublisher.PublishPriceSet(ctx, &models.PriceSetEvent{
			BaseEvent:  newBaseEvent(models.EventTypePriceSet),
			ProducerID: cmd.ProducerID,
			Price:      cmd.Price,
			SetBy:      cmd.Caller,
		})

	case ledger.OpPauseProducer:
		util.ProducersPausedTotal.Inc()
		s.invalidate(ctx, cmd.ProducerID)
		err = s.eventPublisher.PublishProducerPaused(ctx, &models.ProducerPausedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeProducerPaused),
			ProducerID: cmd.ProducerID,
			PausedBy:   cmd.Caller,
		})
	}

	if err != nil {
		s.logger.Error("Failed to publish ledger event",
			zap.String("op", string(cmd.Op)),
			zap.Error(err))
	}
}

func (s *LedgerService) invalidate(ctx context.Context, producerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProducer(ctx, producerID); err != nil {
		s.logger.Warn("Failed to invalidate producer cache",
			zap.String("producer_id", producerID),
			zap.Error(err))
	}
}

// GetProducerInfo returns a producer's listing, served from the cache
// when one is configured
func (s *LedgerService) GetProducerInfo(ctx context.Context, id string) (models.ProducerInfo, bool, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.GetProducerInfo", attribute.String("producer_id", id))
	defer span.End()

	if s.cache != nil {
		info, found, err := s.cache.GetProducerInfo(ctx, id)
		if err == nil && found {
			return info, true, nil
		}
		if err != nil {
			s.logger.Warn("Producer cache read failed, falling back to store",
				zap.String("producer_id", id),
				zap.Error(err))
		}
	}

	p, found, err := s.loadProducer(ctx, id)
	if err != nil || !found {
		return models.ProducerInfo{}, found, err
	}
	return p.Info(), true, nil
}

// loadProducer reads a producer from the store and caches its listing.
// The cache version is read first, so a commit landing between the read
// and the write makes the write a no-op instead of caching stale data.
func (s *LedgerService) loadProducer(ctx context.Context, id string) (models.Producer, bool, error) {
	if s.cache == nil {
		return s.engine.GetProducer(ctx, id)
	}

	version, versionErr := s.cache.ProducerVersion(ctx, id)

	p, found, err := s.engine.GetProducer(ctx, id)
	if err != nil || !found {
		return p, found, err
	}

	if versionErr != nil {
		s.logger.Warn("Failed to read producer cache version", zap.String("producer_id", id), zap.Error(versionErr))
		return p, true, nil
	}

	cached, err := s.cache.CacheProducer(ctx, p, version)
	if err != nil {
		s.logger.Warn("Failed to cache producer", zap.String("producer_id", id), zap.Error(err))
	} else if !cached {
		s.logger.Debug("Producer changed while caching, skipped", zap.String("producer_id", id))
	}
	return p, true, nil
}

// GetConsumerInfo returns a consumer's consumption summary
func (s *LedgerService) GetConsumerInfo(ctx context.Context, id string) (models.ConsumerInfo, bool, error) {
	return s.engine.GetConsumerInfo(ctx, id)
}

// GetEnergySold returns units sold by a producer, 0 if unknown
func (s *LedgerService) GetEnergySold(ctx context.Context, producerID string) (uint64, error) {
	return s.engine.GetEnergySold(ctx, producerID)
}

// GetProducerRevenue returns a producer's unwithdrawn revenue, 0 if unknown
func (s *LedgerService) GetProducerRevenue(ctx context.Context, producerID string) (uint64, error) {
	return s.engine.GetProducerRevenue(ctx, producerID)
}

// GetProducerRating returns a producer's rating, 0 if unknown
func (s *LedgerService) GetProducerRating(ctx context.Context, producerID string) (uint64, error) {
	return s.engine.GetProducerRating(ctx, producerID)
}

// GetEnergyPurchased returns units bought by a consumer, 0 if unknown
func (s *LedgerService) GetEnergyPurchased(ctx context.Context, consumerID string) (uint64, error) {
	return s.engine.GetEnergyPurchased(ctx, consumerID)
}

// GetRefundAmount returns units refunded to a consumer, 0 if unknown
func (s *LedgerService) GetRefundAmount(ctx context.Context, consumerID string) (uint64, error) {
	return s.engine.GetRefundAmount(ctx, consumerID)
}

// GetPurchase returns the sub-ledger between a consumer and a producer
func (s *LedgerService) GetPurchase(ctx context.Context, consumerID, producerID string) (models.Purchase, bool, error) {
	return s.engine.GetPurchase(ctx, consumerID, producerID)
}

// SyncProducersToCache writes every producer listing to the cache
func (s *LedgerService) SyncProducersToCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}

	producers, err := s.engine.ListProducers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list producers: %w", err)
	}

	// each listing is read again behind its cache version, the list only
	// supplies the ids
	synced, failed := 0, 0
	for _, listed := range producers {
		version, err := s.cache.ProducerVersion(ctx, listed.ID)
		if err != nil {
			s.logger.Error("Failed to read producer cache version",
				zap.String("producer_id", listed.ID),
				zap.Error(err))
			failed++
			continue
		}

		p, found, err := s.engine.GetProducer(ctx, listed.ID)
		if err != nil {
			return synced, fmt.Errorf("failed to load producer %s: %w", listed.ID, err)
		}
		if !found {
			continue
		}

		cached, err := s.cache.CacheProducer(ctx, p, version)
		if err != nil {
			s.logger.Error("Failed to cache producer",
				zap.String("producer_id", p.ID),
				zap.Error(err))
			failed++
			continue
		}
		if cached {
			synced++
		}
	}

	s.logger.Info("Producer cache sync completed",
		zap.Int("count", len(producers)),
		zap.Int("synced", synced),
		zap.Int("failed", failed))

	if failed > 0 {
		return synced, fmt.Errorf("failed to cache %d of %d producers", failed, len(producers))
	}
	return synced, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
