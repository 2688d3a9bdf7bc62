package worker

import (
	"context"
	"testing"

	"energy-ledger/internal/ledger"
	"energy-ledger/internal/models"
	"energy-ledger/internal/service"
	"energy-ledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	entries  map[string]models.Producer
	versions map[string]int64
}

func newMapCache() *mapCache {
	return &mapCache{
		entries:  make(map[string]models.Producer),
		versions: make(map[string]int64),
	}
}

func (c *mapCache) ProducerVersion(_ context.Context, id string) (int64, error) {
	return c.versions[id], nil
}

func (c *mapCache) CacheProducer(_ context.Context, p models.Producer, version int64) (bool, error) {
	if c.versions[p.ID] != version {
		return false, nil
	}
	c.entries[p.ID] = p
	return true, nil
}

func (c *mapCache) GetProducerInfo(_ context.Context, id string) (models.ProducerInfo, bool, error) {
	p, ok := c.entries[id]
	return p.Info(), ok, nil
}

func (c *mapCache) InvalidateProducer(_ context.Context, id string) error {
	c.versions[id]++
	delete(c.entries, id)
	return nil
}

func newService(opts ...service.Option) *service.LedgerService {
	engine := ledger.NewEngine(store.NewMemory(), ledger.NewAccessController("admin"), ledger.DefaultOptions(), nil)
	return service.NewLedgerService(engine, nil, opts...)
}

func TestHandleCommandBatch(t *testing.T) {
	svc := newService()
	w := NewCommandWorker(nil, svc)
	ctx := context.Background()

	err := w.HandleCommandBatch(ctx, &models.CommandBatchEvent{
		BatchID:  "b1",
		CallerID: "solar-farm",
		Commands: []models.CommandData{
			{Op: "registerProducer", Units: 100, Price: 10},
			{Op: "setEnergyPrice", ProducerID: "solar-farm", Price: 1},
			{Op: "updateEnergy", Units: 25},
		},
	})
	// the rejected admin command does not fail delivery
	require.NoError(t, err)

	info, found, err := svc.GetProducerInfo(ctx, "solar-farm")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.ProducerInfo{EnergyAvailable: 125, EnergyPrice: 10}, info)
}

func TestHandleCommandBatchRedelivery(t *testing.T) {
	svc := newService()
	w := NewCommandWorker(nil, svc)
	ctx := context.Background()
	require.NoError(t, svc.RegisterProducer(ctx, "p", 1000, 1))

	event := &models.CommandBatchEvent{
		BatchID:  "b1",
		CallerID: "c",
		Commands: []models.CommandData{{Op: "buyEnergy", ProducerID: "p", Units: 100}},
	}

	// kafka delivers at least once
	require.NoError(t, w.HandleCommandBatch(ctx, event))
	require.NoError(t, w.HandleCommandBatch(ctx, event))

	info, _, err := svc.GetProducerInfo(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, uint64(900), info.EnergyAvailable)

	purchased, err := svc.GetEnergyPurchased(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), purchased)
}

func TestHandleCommandBatchDropsOversizeBatch(t *testing.T) {
	svc := newService(service.WithMaxBatchCommands(1))
	w := NewCommandWorker(nil, svc)
	ctx := context.Background()

	err := w.HandleCommandBatch(ctx, &models.CommandBatchEvent{
		BatchID:  "b2",
		CallerID: "wind-farm",
		Commands: []models.CommandData{
			{Op: "registerProducer", Units: 100, Price: 10},
			{Op: "updateEnergy", Units: 25},
		},
	})
	require.NoError(t, err)

	// nothing from the batch was applied
	_, found, err := svc.GetProducerInfo(ctx, "wind-farm")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheRefresher(t *testing.T) {
	cache := newMapCache()
	svc := newService(service.WithProducerCache(cache))
	ctx := context.Background()

	require.NoError(t, svc.RegisterProducer(ctx, "p1", 10, 2))
	require.NoError(t, svc.RegisterProducer(ctx, "p2", 20, 3))
	assert.Empty(t, cache.entries)

	r, err := NewCacheRefresher(ctx, svc, "@every 1h")
	require.NoError(t, err)
	r.Refresh(ctx)

	assert.Len(t, cache.entries, 2)
	assert.Equal(t, uint64(20), cache.entries["p2"].EnergyAvailable)
}

func TestCacheRefresherRejectsBadSpec(t *testing.T) {
	_, err := NewCacheRefresher(context.Background(), newService(), "every so often")
	assert.Error(t, err)
}
