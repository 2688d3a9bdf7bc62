package store

import (
	"context"
	"sort"
	"sync"

	"energy-ledger/internal/ledger"
	"energy-ledger/internal/models"
)

type pairKey struct {
	ConsumerID string
	ProducerID string
}

// Memory is an in-memory ledger store. One mutex is held for the whole of
// every transaction, so transactions are serial.
type Memory struct {
	mu        sync.RWMutex
	producers map[string]models.Producer
	consumers map[string]models.Consumer
	purchases map[pairKey]models.Purchase
	batches   map[string]int
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		producers: make(map[string]models.Producer),
		consumers: make(map[string]models.Consumer),
		purchases: make(map[pairKey]models.Purchase),
		batches:   make(map[string]int),
	}
}

// WithTx stages writes and merges them only if fn succeeds
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		base:      m,
		producers: make(map[string]models.Producer),
		consumers: make(map[string]models.Consumer),
		purchases: make(map[pairKey]models.Purchase),
		batches:   make(map[string]int),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, p := range tx.producers {
		m.producers[id] = p
	}
	for id, c := range tx.consumers {
		m.consumers[id] = c
	}
	for k, pur := range tx.purchases {
		m.purchases[k] = pur
	}
	for id, next := range tx.batches {
		m.batches[id] = next
	}
	return nil
}

// View runs fn under a read lock
func (m *Memory) View(_ context.Context, fn func(ledger.Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memoryReader{m})
}

// Producers lists producers ordered by id
func (m *Memory) Producers(_ context.Context) ([]models.Producer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Producer, 0, len(m.producers))
	for _, p := range m.producers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// memoryReader reads committed state. Callers hold the lock.
type memoryReader struct {
	m *Memory
}

func (r memoryReader) Producer(_ context.Context, id string) (models.Producer, bool, error) {
	p, ok := r.m.producers[id]
	return p, ok, nil
}

func (r memoryReader) Consumer(_ context.Context, id string) (models.Consumer, bool, error) {
	c, ok := r.m.consumers[id]
	return c, ok, nil
}

func (r memoryReader) Purchase(_ context.Context, consumerID, producerID string) (models.Purchase, bool, error) {
	pur, ok := r.m.purchases[pairKey{consumerID, producerID}]
	return pur, ok, nil
}

func (r memoryReader) BatchProgress(_ context.Context, batchID string) (int, bool, error) {
	next, ok := r.m.batches[batchID]
	return next, ok, nil
}

// memoryTx overlays staged writes on the committed maps
type memoryTx struct {
	base      *Memory
	producers map[string]models.Producer
	consumers map[string]models.Consumer
	purchases map[pairKey]models.Purchase
	batches   map[string]int
}

func (tx *memoryTx) Producer(ctx context.Context, id string) (models.Producer, bool, error) {
	if p, ok := tx.producers[id]; ok {
		return p, true, nil
	}
	return memoryReader{tx.base}.Producer(ctx, id)
}

func (tx *memoryTx) Consumer(ctx context.Context, id string) (models.Consumer, bool, error) {
	if c, ok := tx.consumers[id]; ok {
		return c, true, nil
	}
	return memoryReader{tx.base}.Consumer(ctx, id)
}

func (tx *memoryTx) Purchase(ctx context.Context, consumerID, producerID string) (models.Purchase, bool, error) {
	if pur, ok := tx.purchases[pairKey{consumerID, producerID}]; ok {
		return pur, true, nil
	}
	return memoryReader{tx.base}.Purchase(ctx, consumerID, producerID)
}

func (tx *memoryTx) PutProducer(_ context.Context, p models.Producer) error {
	tx.producers[p.ID] = p
	return nil
}

func (tx *memoryTx) PutConsumer(_ context.Context, c models.Consumer) error {
	tx.consumers[c.ID] = c
	return nil
}

func (tx *memoryTx) PutPurchase(_ context.Context, pur models.Purchase) error {
	tx.purchases[pairKey{pur.ConsumerID, pur.ProducerID}] = pur
	return nil
}

func (tx *memoryTx) BatchProgress(ctx context.Context, batchID string) (int, bool, error) {
	if next, ok := tx.batches[batchID]; ok {
		return next, true, nil
	}
	return memoryReader{tx.base}.BatchProgress(ctx, batchID)
}

func (tx *memoryTx) PutBatchProgress(_ context.Context, batchID string, next int) error {
	tx.batches[batchID] = next
	return nil
}
