package taskqueue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rzbill/tradepost/pkg/log"
)

// Dispatcher delivers a ready task to its destination. Any error is treated
// as retryable: the task stays in the priority set for a later cycle.
// Dispatch may be called more than once for one task id.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, task Task) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, task Task) error { return f(ctx, task) }

// poller is one cooperative background loop. Stop is not preemptive: the
// flag is checked between iterations, and an in-flight store call or
// dispatch runs to completion.
type poller struct {
	name     string
	interval time.Duration
	logger   log.Logger
	step     func(ctx context.Context) (bool, error)
	timeout  time.Duration

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// Start spawns the loop. Starting a running poller is a no-op.
func (p *poller) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run()
	p.logger.Info("poller started", log.F("poller", p.name))
}

// Stop flips the flag and waits for the current iteration to finish.
// Stopping a stopped poller is a no-op.
func (p *poller) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stop)
	<-p.done
	p.logger.Info("poller stopped", log.F("poller", p.name))
}

// Running reports whether the loop is active.
func (p *poller) Running() bool { return p.running.Load() }

func (p *poller) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		busy, err := p.step(ctx)
		cancel()
		if err != nil {
			// a failed iteration never stops the loop
			p.logger.Error("poll iteration failed", log.F("poller", p.name), log.Err(err))
			busy = false
		}
		if busy {
			continue
		}
		select {
		case <-p.stop:
			return
		case <-time.After(p.interval):
		}
	}
}

// DelayPoller promotes due tasks from the delay set into the priority set.
type DelayPoller struct{ poller }

// NewDelayPoller builds the promotion loop for q.
func NewDelayPoller(q *Queue) *DelayPoller {
	return &DelayPoller{poller{
		name:     "delay",
		interval: q.opts.PollInterval,
		timeout:  q.opts.OpTimeout,
		logger:   q.logger,
		step:     q.promoteDue,
	}}
}

// DispatchPoller hands ready tasks to the dispatcher, highest weight first.
type DispatchPoller struct{ poller }

// NewDispatchPoller builds the dispatch loop for q.
func NewDispatchPoller(q *Queue, d Dispatcher) *DispatchPoller {
	return &DispatchPoller{poller{
		name:     "dispatch",
		interval: q.opts.PollInterval,
		timeout:  q.opts.OpTimeout,
		logger:   q.logger,
		step: func(ctx context.Context) (bool, error) {
			return q.dispatchOne(ctx, d)
		},
	}}
}

// Pollers bundles a queue's two background loops. Each queue instance owns
// its own pair, so independent instances can run side by side in tests and
// in multi-queue deployments.
type Pollers struct {
	Delay    *DelayPoller
	Dispatch *DispatchPoller
}

// NewPollers builds both loops for q.
func NewPollers(q *Queue, d Dispatcher) *Pollers {
	return &Pollers{
		Delay:    NewDelayPoller(q),
		Dispatch: NewDispatchPoller(q, d),
	}
}

// Start starts both loops.
func (p *Pollers) Start() {
	p.Delay.Start()
	p.Dispatch.Start()
}

// Stop stops both loops, waiting for in-flight iterations.
func (p *Pollers) Stop() {
	p.Delay.Stop()
	p.Dispatch.Stop()
}
