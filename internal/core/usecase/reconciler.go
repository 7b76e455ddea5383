package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/metrics"
)

// Reconciler retries provisioning for tenants left pending or failed, with
// the backoff recorded by the provisioner and a ceiling on attempts.
type Reconciler struct {
	directory   ports.TenantDirectory
	provisioner TenantProvisioner
	interval    time.Duration
	batchSize   int
	maxAttempts int
	metrics     *metrics.Collector
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconcileSuccessTotal atomic.Int64
	reconcileFailureTotal atomic.Int64
	reconcileGiveUpTotal  atomic.Int64
}

type ReconcilerMetrics struct {
	ReconcileSuccessTotal int64
	ReconcileFailureTotal int64
	ReconcileGiveUpTotal  int64
}

func NewReconciler(directory ports.TenantDirectory, provisioner TenantProvisioner, interval time.Duration, batchSize int, m *metrics.Collector, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		directory:   directory,
		provisioner: provisioner,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: 5,
		metrics:     m,
		logger:      logger.Named("reconciler"),
		now:         time.Now,
	}
}

func (r *Reconciler) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Reconciler) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.reconcileBatch(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconcile batch", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) reconcileBatch(ctx context.Context) error {
	tenants, err := r.directory.ListRetryable(ctx, r.now().UTC(), r.maxAttempts, r.batchSize)
	if err != nil {
		return err
	}

	for _, t := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.provisioner.Ensure(ctx, t); err != nil {
			r.reconcileFailureTotal.Add(1)
			r.metrics.Reconciled(false)
			if t.Attempts+1 >= r.maxAttempts {
				r.reconcileGiveUpTotal.Add(1)
				r.logger.Error("giving up on tenant",
					zap.Int64("tenant_id", int64(t.ID)),
					zap.Int("attempts", t.Attempts+1),
					zap.Error(err),
				)
			}
			continue
		}
		r.reconcileSuccessTotal.Add(1)
		r.metrics.Reconciled(true)
	}
	return nil
}

func (r *Reconciler) Metrics() ReconcilerMetrics {
	return ReconcilerMetrics{
		ReconcileSuccessTotal: r.reconcileSuccessTotal.Load(),
		ReconcileFailureTotal: r.reconcileFailureTotal.Load(),
		ReconcileGiveUpTotal:  r.reconcileGiveUpTotal.Load(),
	}
}
