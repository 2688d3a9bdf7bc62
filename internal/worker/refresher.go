package worker

import (
	"context"
	"time"

	"energy-ledger/internal/service"
	"energy-ledger/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const refreshTimeout = 25 * time.Second

// CacheRefresher periodically rewrites every producer listing into the
// cache so entries evicted by TTL come back without a read miss.
type CacheRefresher struct {
	cron          *cron.Cron
	spec          string
	ledgerService *service.LedgerService
	logger        *zap.Logger
}

// NewCacheRefresher schedules a refresh on spec. spec accepts an optional
// seconds field and descriptors such as "@every 1m".
func NewCacheRefresher(ctx context.Context, ledgerService *service.LedgerService, spec string) (*CacheRefresher, error) {
	logger := util.GetLogger()
	r := &CacheRefresher{
		cron:          cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}))),
		spec:          spec,
		ledgerService: ledgerService,
		logger:        logger,
	}

	_, err := r.cron.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		r.Refresh(rctx)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh runs one sync
func (r *CacheRefresher) Refresh(ctx context.Context) {
	n, err := r.ledgerService.SyncProducersToCache(ctx)
	if err != nil {
		util.CacheRefreshesTotal.WithLabelValues("error").Inc()
		r.logger.Error("Producer cache refresh failed", zap.Int("synced", n), zap.Error(err))
		return
	}
	util.CacheRefreshesTotal.WithLabelValues("ok").Inc()
}

// Start starts the scheduler
func (r *CacheRefresher) Start() {
	r.cron.Start()
	r.logger.Info("Cache refresher started", zap.String("spec", r.spec))
}

// Stop waits for a running refresh to finish
func (r *CacheRefresher) Stop() {
	<-r.cron.Stop().Done()
}

// cronLogger routes cron's own logging into zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
