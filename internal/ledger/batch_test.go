package ledger_test

import (
	"context"
	"testing"

	"energy-ledger/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteBatchRunsInOrder(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	results := e.ExecuteBatch(ctx, []ledger.Command{
		{Op: ledger.OpRegisterProducer, Caller: producer, Units: 1000, Price: 10},
		{Op: ledger.OpRegisterConsumer, Caller: consumer},
		{Op: ledger.OpBuyEnergy, Caller: consumer, ProducerID: producer, Units: 200},
		{Op: ledger.OpRateProducer, Caller: consumer, ProducerID: producer, Rating: 5},
		{Op: ledger.OpRequestRefund, Caller: consumer, ProducerID: producer, Units: 50},
		{Op: ledger.OpUpdateEnergy, Caller: producer, Units: 500},
		{Op: ledger.OpWithdrawRevenue, Caller: producer},
	})

	require.Len(t, results, 7)
	require.NoError(t, ledger.FirstError(results))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.True(t, r.OK())
		assert.Empty(t, r.Code)
	}

	assert.Equal(t, uint64(2000), results[2].Value)
	assert.Equal(t, uint64(2), results[3].Value)
	assert.Equal(t, uint64(500), results[4].Value)
	assert.Equal(t, uint64(1300), results[5].Value)
	assert.Equal(t, uint64(2000), results[6].Value)
}

func TestExecuteBatchFailuresAreIndependent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 100, 10, 0)

	results := e.ExecuteBatch(ctx, []ledger.Command{
		{Op: ledger.OpBuyEnergy, Caller: consumer, ProducerID: producer, Units: 60},
		{Op: ledger.OpBuyEnergy, Caller: consumer, ProducerID: producer, Units: 60},
		{Op: ledger.OpBuyEnergy, Caller: consumer, ProducerID: producer, Units: 40},
		{Op: ledger.OpPauseProducer, Caller: consumer, ProducerID: producer},
		{Op: "mintEnergy", Caller: consumer},
	})

	assert.True(t, results[0].OK())
	assert.Equal(t, ledger.CodeInsufficientEnergy, results[1].Code)
	assert.True(t, results[2].OK())
	assert.Equal(t, ledger.CodeNotOwner, results[3].Code)
	assert.Equal(t, ledger.CodeUnknownOperation, results[4].Code)

	err := ledger.FirstError(results)
	assert.ErrorIs(t, err, ledger.ErrInsufficientEnergy)

	p := mustProducer(t, e, producer)
	assert.Zero(t, p.EnergyAvailable)
	assert.Equal(t, uint64(100), p.EnergySold)
	assert.False(t, p.Paused)
}

func TestExecuteAdminCommands(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 100, 10, 0)

	res := e.Execute(ctx, ledger.Command{Op: ledger.OpSetEnergyPrice, Caller: admin, ProducerID: producer, Price: 12})
	require.True(t, res.OK())
	assert.Equal(t, uint64(12), mustProducer(t, e, producer).EnergyPrice)

	res = e.Execute(ctx, ledger.Command{Op: ledger.OpPauseProducer, Caller: admin, ProducerID: producer})
	require.True(t, res.OK())
	assert.True(t, mustProducer(t, e, producer).Paused)
}

func TestBatchCommandsApplyOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 0)

	cmds := []ledger.Command{
		{Op: ledger.OpBuyEnergy, Caller: consumer, ProducerID: producer, Units: 100},
		{Op: ledger.OpRateProducer, Caller: consumer, ProducerID: producer, Rating: 9},
		{Op: ledger.OpBuyEnergy, Caller: consumer, ProducerID: producer, Units: 2000},
		{Op: ledger.OpWithdrawRevenue, Caller: producer},
	}

	first := runRecorded(ctx, e, "b1", cmds)
	assert.True(t, first[0].OK())
	assert.Equal(t, uint64(1000), first[0].Value)
	assert.Equal(t, ledger.CodeInvalidRating, first[1].Code)
	assert.Equal(t, ledger.CodeInsufficientEnergy, first[2].Code)
	assert.Equal(t, uint64(1000), first[3].Value)
	for _, r := range first {
		assert.False(t, r.Replayed)
	}

	again := runRecorded(ctx, e, "b1", cmds)
	require.Len(t, again, 4)
	for i, r := range again {
		assert.Equal(t, i, r.Index)
		assert.True(t, r.Replayed)
		assert.True(t, r.OK())
		assert.Zero(t, r.Value)
	}

	p := mustProducer(t, e, producer)
	assert.Equal(t, uint64(900), p.EnergyAvailable)
	assert.Equal(t, uint64(100), p.EnergySold)
	assert.Equal(t, uint64(100), mustConsumer(t, e, consumer).EnergyPurchased)

	// another batch id is a new batch
	other := runRecorded(ctx, e, "b2", cmds[:1])
	assert.False(t, other[0].Replayed)
	assert.Equal(t, uint64(800), mustProducer(t, e, producer).EnergyAvailable)
}

func TestBatchCommandsResumeAfterPartialDelivery(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	seed(t, e, 1000, 10, 0)

	buy := ledger.Command{Op: ledger.OpBuyEnergy, Caller: consumer, ProducerID: producer, Units: 10}

	// a delivery that stopped after the first command
	runRecorded(ctx, e, "b1", []ledger.Command{buy})

	results := runRecorded(ctx, e, "b1", []ledger.Command{buy, buy, buy})
	assert.True(t, results[0].Replayed)
	assert.False(t, results[1].Replayed)
	assert.False(t, results[2].Replayed)
	assert.Equal(t, uint64(30), mustProducer(t, e, producer).EnergySold)
}

// runRecorded runs cmds as the commands of batch batchID
func runRecorded(ctx context.Context, e *ledger.Engine, batchID string, cmds []ledger.Command) []ledger.Result {
	results := make([]ledger.Result, len(cmds))
	for i, cmd := range cmds {
		cmd.BatchID, cmd.Seq = batchID, i
		results[i] = e.Execute(ctx, cmd)
		results[i].Index = i
	}
	return results
}
