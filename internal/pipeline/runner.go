package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
)

var ErrRunnerClosed = errors.New("pipeline runner is closed")

type job struct {
	ctx  context.Context
	req  Request
	done func(*Decision, error)
}

// Runner evaluates different symbols in parallel on a bounded worker pool
// while requests for the same symbol run one at a time in submission order.
type Runner struct {
	p    *Pipeline
	pool *ants.Pool
	log  zerolog.Logger

	mu     sync.Mutex
	queues map[string][]job // a present key means a drainer owns the symbol
	closed bool
	wg     sync.WaitGroup
}

func NewRunner(p *Pipeline, workers int) (*Runner, error) {
	if workers <= 0 {
		return nil, boterrors.NewConfigurationError(component, "new_runner",
			fmt.Sprintf("workers must be positive, got %d", workers))
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, boterrors.WrapError(err, boterrors.ErrorCategoryFatal, component, "new_runner")
	}
	return &Runner{
		p:      p,
		pool:   pool,
		log:    logger.Component("runner"),
		queues: make(map[string][]job),
	}, nil
}

// Submit queues req behind any pending request for the same symbol. done,
// if set, receives the evaluation result on a worker goroutine.
func (r *Runner) Submit(ctx context.Context, req Request, done func(*Decision, error)) error {
	if req.Symbol == "" {
		return boterrors.NewInvalidInputError(component, "submit", "symbol is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	q, draining := r.queues[req.Symbol]
	r.queues[req.Symbol] = append(q, job{ctx: ctx, req: req, done: done})
	r.wg.Add(1)
	r.mu.Unlock()

	if draining {
		return nil
	}

	symbol := req.Symbol
	if err := r.pool.Submit(func() { r.drain(symbol) }); err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("runner pool unavailable, evaluating synchronously")
		r.drain(symbol)
	}
	return nil
}

func (r *Runner) drain(symbol string) {
	for {
		r.mu.Lock()
		q := r.queues[symbol]
		if len(q) == 0 {
			delete(r.queues, symbol)
			r.mu.Unlock()
			return
		}
		j := q[0]
		r.queues[symbol] = q[1:]
		r.mu.Unlock()

		r.run(j)
	}
}

func (r *Runner) run(j job) {
	defer r.wg.Done()

	var (
		d   *Decision
		err error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = boterrors.NewBotError(boterrors.ErrorCategoryFatal, component, "evaluate",
					fmt.Sprintf("panic: %v", rec)).WithContext("symbol", j.req.Symbol)
				r.log.Error().Err(err).Str("symbol", j.req.Symbol).Msg("evaluation panicked")
			}
		}()
		if cerr := j.ctx.Err(); cerr != nil {
			err = cerr
			return
		}
		d, err = r.p.Evaluate(j.ctx, j.req)
	}()

	if j.done != nil {
		j.done(d, err)
	}
}

// Wait blocks until every submitted request has been evaluated
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting requests, waits for queued ones and releases the pool
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
	r.pool.Release()
}

// Pending returns the number of queued requests per symbol
func (r *Runner) Pending() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.queues))
	for sym, q := range r.queues {
		if len(q) > 0 {
			out[sym] = len(q)
		}
	}
	return out
}
