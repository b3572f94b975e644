// Package concurrency wraps alitto/pond into the bounded worker pool
// that fans out broadcast actions outside the grid's commit lock (spec
// §4.4 "Broadcast is outside the commit lock. Each action is attempted
// independently"). Unlike a generic reusable pool, every submission
// here is tagged with the action it backs, so a panicking broadcast
// task can be traced back to the slot/order it was placing instead of
// surfacing as an anonymous pool-level panic.
package concurrency

import (
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond"

	"gridmm/pkg/logging"
)

// PoolConfig holds configuration for a worker pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // If true, Submit() returns error instead of blocking when full
}

// WorkerPool wraps alitto/pond with monitoring, standardized config,
// and per-submission labeling.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger logging.Logger

	mu     sync.Mutex
	panics map[string]int // label -> panic count, surfaced via Stats
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg PoolConfig, logger logging.Logger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	wp := &WorkerPool{
		config: cfg,
		logger: logger.WithField("component", "worker_pool").WithField("pool", cfg.Name),
		panics: make(map[string]int),
	}

	wp.pool = pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		// Fallback only: Submit's own recover wraps every task with its
		// label before this ever sees a panic.
		pond.PanicHandler(func(p interface{}) {
			wp.recordPanic("unlabeled", p)
		}),
	)

	return wp
}

// Submit runs task in the pool under label (e.g. "CREATE slot-7"), so
// a recovered panic logs the broadcast action it was servicing rather
// than an anonymous pool-level failure.
func (wp *WorkerPool) Submit(label string, task func()) error {
	wrapped := func() {
		defer func() {
			if p := recover(); p != nil {
				wp.recordPanic(label, p)
			}
		}()
		task()
	}

	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(wrapped) {
			return fmt.Errorf("worker pool '%s' is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}

	wp.pool.Submit(wrapped)
	return nil
}

// SubmitAndWait submits a labeled task and waits for it to complete.
func (wp *WorkerPool) SubmitAndWait(label string, task func()) {
	done := make(chan struct{})
	_ = wp.Submit(label, func() {
		defer close(done)
		task()
	})
	<-done
}

func (wp *WorkerPool) recordPanic(label string, p interface{}) {
	wp.mu.Lock()
	wp.panics[label]++
	wp.mu.Unlock()
	wp.logger.Error("worker pool task panicked", "pool", wp.config.Name, "task", label, "panic", p)
}

// Stop stops the pool gracefully.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats returns pool statistics plus panic counts keyed by the labels
// passed to Submit.
func (wp *WorkerPool) Stats() map[string]interface{} {
	wp.mu.Lock()
	panics := make(map[string]int, len(wp.panics))
	for k, v := range wp.panics {
		panics[k] = v
	}
	wp.mu.Unlock()

	return map[string]interface{}{
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
		"panics_by_task":   panics,
	}
}
