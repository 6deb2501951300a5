// Package orchestrator runs trial plans in fixed-size concurrent batches.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/trial"
)

// Orchestrator dispatches trials to an Invoker.
type Orchestrator struct {
	invoker  trial.Invoker
	poolSize int
	limiter  *rate.Limiter
}

// New creates an Orchestrator. A non-positive poolSize runs serially; a
// positive launchInterval spaces process starts within a batch.
func New(inv trial.Invoker, poolSize int, launchInterval time.Duration) *Orchestrator {
	if poolSize < 1 {
		poolSize = 1
	}
	o := &Orchestrator{invoker: inv, poolSize: poolSize}
	if launchInterval > 0 {
		o.limiter = rate.NewLimiter(rate.Every(launchInterval), 1)
	}
	return o
}

// PoolSize returns the batch width.
func (o *Orchestrator) PoolSize() int { return o.poolSize }

// Plan builds one TrialConfig per seed sharing the same document count and
// environment overrides.
func Plan(seeds []int64, documents int, env map[string]string) []model.TrialConfig {
	plan := make([]model.TrialConfig, len(seeds))
	for i, s := range seeds {
		plan[i] = model.TrialConfig{Seed: s, DocumentCount: documents, Env: env}
	}
	return plan
}

// Run executes plan in consecutive batches of PoolSize. Every trial of a
// batch finishes before the next batch starts, and one trial failing never
// cancels its batch mates. Results come back in plan order. An error is
// returned only when ctx is canceled between batches.
func (o *Orchestrator) Run(ctx context.Context, plan []model.TrialConfig) (model.TrialSet, error) {
	results := make([]model.TrialResult, len(plan))
	var succeeded, failed atomic.Int64

	batches := (len(plan) + o.poolSize - 1) / o.poolSize
	zap.L().Info("orchestrator: starting",
		zap.Int("trials", len(plan)),
		zap.Int("pool_size", o.poolSize),
		zap.Int("batches", batches),
	)

	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return collect(results[:b*o.poolSize], &succeeded, &failed), eris.Wrap(err, "orchestrator: run canceled")
		}

		lo := b * o.poolSize
		hi := min(lo+o.poolSize, len(plan))
		start := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			tc := plan[i]
			g.Go(func() error {
				res := o.invokeOne(gctx, tc)
				if res.Success {
					succeeded.Add(1)
				} else {
					failed.Add(1)
				}
				// Each goroutine owns its slot.
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()

		zap.L().Info("orchestrator: batch complete",
			zap.Int("batch", b+1),
			zap.Int("of", batches),
			zap.Int("trials", hi-lo),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	set := collect(results, &succeeded, &failed)
	zap.L().Info("orchestrator: complete",
		zap.Int("succeeded", set.Succeeded),
		zap.Int("failed", set.Failed),
	)
	return set, nil
}

func (o *Orchestrator) invokeOne(ctx context.Context, tc model.TrialConfig) model.TrialResult {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return model.TrialResult{Seed: tc.Seed, Error: eris.Wrap(err, "orchestrator: launch wait").Error()}
		}
	}
	res := o.invoker.Invoke(ctx, tc)
	res.Seed = tc.Seed
	if !res.Success && res.Error == "" {
		res.Error = "trial failed without an error message"
	}
	return res
}

func collect(results []model.TrialResult, succeeded, failed *atomic.Int64) model.TrialSet {
	return model.TrialSet{
		Results:   results,
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
}
