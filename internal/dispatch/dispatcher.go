// Package dispatch runs the event processor off the request goroutine.
//
// A Dispatcher owns a fixed number of worker slots. Each Dispatch call waits
// for a slot, runs the processor in its own goroutine and hands the outcome
// back to the caller. If the caller stops waiting (client disconnect), the
// invocation still runs to completion and its result is dropped.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"hooky/internal/settings"

	"golang.org/x/sync/semaphore"
)

// Outcome is what the processor reports for a single event.
type Outcome struct {
	ActionTaken bool
	Message     string
}

// Processor handles one verified webhook body. Implementations must be safe
// for concurrent use.
type Processor interface {
	Process(ctx context.Context, body []byte, s *settings.Settings) (Outcome, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, body []byte, s *settings.Settings) (Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, body []byte, s *settings.Settings) (Outcome, error) {
	return f(ctx, body, s)
}

// ProcessorError wraps a failure inside the processor, including panics.
type ProcessorError struct {
	Err   error
	Panic any
	Stack []byte
}

func (e *ProcessorError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("event processor panicked: %v", e.Panic)
	}
	return fmt.Sprintf("event processor failed: %v", e.Err)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// Dispatcher bounds concurrent processor invocations.
type Dispatcher struct {
	processor Processor
	sem       *semaphore.Weighted
	workers   int
	logger    *slog.Logger
	wg        sync.WaitGroup
}

type result struct {
	outcome Outcome
	err     error
}

// New creates a dispatcher with the given number of worker slots.
func New(workers int, processor Processor, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		processor: processor,
		sem:       semaphore.NewWeighted(int64(workers)),
		workers:   workers,
		logger:    logger,
	}
}

// Workers returns the size of the pool.
func (d *Dispatcher) Workers() int {
	return d.workers
}

// Dispatch runs the processor for body and waits for its outcome.
//
// ctx only governs waiting: for a free slot and for the result. The processor
// itself receives a context that is not cancelled with ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte, s *settings.Settings) (Outcome, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, fmt.Errorf("waiting for a free worker: %w", err)
	}

	// buffered so the worker never blocks on an abandoned caller
	done := make(chan result, 1)
	workCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		done <- d.run(workCtx, body, s)
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-ctx.Done():
		d.logger.Warn("caller went away, event processing continues in background", "error", ctx.Err())
		return Outcome{}, ctx.Err()
	}
}

// run invokes the processor, turning panics and errors into *ProcessorError.
func (d *Dispatcher) run(ctx context.Context, body []byte, s *settings.Settings) (r result) {
	defer func() {
		if p := recover(); p != nil {
			r = result{err: &ProcessorError{Panic: p, Stack: debug.Stack()}}
		}
	}()

	outcome, err := d.processor.Process(ctx, body, s)
	if err != nil {
		return result{err: &ProcessorError{Err: err}}
	}
	return result{outcome: outcome}
}

// Wait blocks until all in-flight invocations have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
