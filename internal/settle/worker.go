package settle

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Worker drains the settlement queue in the background. Each worker
// goroutine pulls at most one job per tick; throughput scales with a
// shorter interval or more workers.
type Worker struct {
	queue    *Queue
	executor *Executor
	interval time.Duration
	workers  int
	// settleTimeout bounds each on-chain attempt.
	settleTimeout time.Duration
	log           *zap.Logger
}

func NewWorker(queue *Queue, executor *Executor, interval time.Duration, workers int, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		queue:         queue,
		executor:      executor,
		interval:      interval,
		workers:       workers,
		settleTimeout: 2 * time.Minute,
		log:           log,
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("settlement workers started",
		zap.Int("workers", w.workers),
		zap.Duration("interval", w.interval),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	w.log.Info("settlement workers stopped")
}

func (w *Worker) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx, id)
		}
	}
}

// tick dequeues one job, settles it, and reports the result back into the
// queue. Queue errors after close just end the tick quietly.
func (w *Worker) tick(ctx context.Context, id int) {
	job, err := w.queue.Dequeue()
	if err != nil || job == nil {
		return
	}

	settleCtx, cancel := context.WithTimeout(ctx, w.settleTimeout)
	receipt, err := w.executor.Settle(settleCtx, job.Payload, common.Address{})
	cancel()

	if err != nil {
		w.log.Warn("settlement attempt failed",
			zap.String("job", job.ID),
			zap.Int("worker", id),
			zap.Int("retryCount", job.RetryCount),
			zap.Error(err),
		)
		if ferr := w.queue.Fail(job.ID, err.Error()); ferr != nil {
			w.log.Error("report failure", zap.String("job", job.ID), zap.Error(ferr))
		}
		return
	}

	w.log.Info("job settled",
		zap.String("job", job.ID),
		zap.Int("worker", id),
		zap.String("tx", receipt.TxHash.Hex()),
	)
	if cerr := w.queue.Complete(job.ID, Result{Success: true, TxHash: receipt.TxHash.Hex()}); cerr != nil {
		w.log.Error("report completion", zap.String("job", job.ID), zap.Error(cerr))
	}
}
