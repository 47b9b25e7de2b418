package task

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return p
}

// delay returns the backoff for the attempt that just failed (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + 2*p.Jitter*rand.Float64()
	}
	return time.Duration(d)
}

// Definition describes one runnable task kind. OnExhausted fires once
// when a run gives up, either permanently or after the attempt cap.
type Definition struct {
	ID          string
	Timeout     time.Duration
	Retry       RetryPolicy
	Handler     func(ctx context.Context, payload string) error
	OnExhausted func(ctx context.Context, payload string, err error)
}

type Runner struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	wg    sync.WaitGroup
	sem   chan struct{}
	stopc chan struct{}
	once  sync.Once
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(maxWorkers int) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	r := &Runner{
		defs:  make(map[string]Definition),
		sem:   make(chan struct{}, maxWorkers),
		stopc: make(chan struct{}),
	}
	r.sleep = r.waitRetry
	return r
}

func (r *Runner) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("task handler is required: %s", def.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.ID]; ok {
		return fmt.Errorf("task already registered: %s", def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

// Trigger starts an async run and returns its id. The run detaches from
// the caller's cancellation so an aborted request does not kill a half
// finished pipeline stage.
func (r *Runner) Trigger(ctx context.Context, id string, payload string) (string, error) {
	select {
	case <-r.stopc:
		return "", ErrRunnerClosed
	default:
	}
	r.mu.RLock()
	def, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown task: %s", id)
	}
	runID := uuid.NewString()
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		_ = r.execute(detached, def, runID, payload)
	}()
	return runID, nil
}

// Run executes a task inline and reports its final error.
func (r *Runner) Run(ctx context.Context, id string, payload string) error {
	r.mu.RLock()
	def, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	return r.execute(ctx, def, uuid.NewString(), payload)
}

// Shutdown stops accepting triggers and waits for in-flight runs. Runs
// parked in a retry backoff wake up immediately and bail out.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.once.Do(func() {
		close(r.stopc)
	})
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(ctx context.Context, def Definition, runID string, payload string) error {
	policy := def.Retry.normalize()
	logger := logutil.GetLogger(ctx).With(zap.String("task", def.ID), zap.String("run_id", runID))
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := r.runOnce(ctx, def, payload)
		if err == nil {
			if attempt > 1 {
				logger.Info("task recovered", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err
		if IsPermanent(err) {
			logger.Error("task failed permanently", zap.Int("attempt", attempt), zap.Error(err))
			break
		}
		if attempt == policy.MaxAttempts {
			logger.Error("task retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
			break
		}
		delay := policy.delay(attempt)
		logger.Warn("task attempt failed", zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))
		if err := r.sleep(ctx, delay); err != nil {
			// Shutdown or caller cancellation, not a task failure.
			return err
		}
	}
	if def.OnExhausted != nil {
		def.OnExhausted(ctx, payload, lastErr)
	}
	return lastErr
}

func (r *Runner) runOnce(ctx context.Context, def Definition, payload string) (err error) {
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panic: %v", rec)
		}
	}()
	return def.Handler(ctx, payload)
}

func (r *Runner) waitRetry(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopc:
		return ErrRunnerClosed
	}
}
