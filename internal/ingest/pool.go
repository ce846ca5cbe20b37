package ingest

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Dispatch after Stop.
var ErrPoolClosed = errors.New("ingest pool is closed")

// Processor handles one message. *Pipeline is the production implementation.
type Processor interface {
	Process(ctx context.Context, msg RawMessage) (*Result, error)
}

// Pool runs messages through a Processor on a fixed set of workers. Messages
// for the same device may be processed concurrently and in any order.
type Pool struct {
	size   int
	jobs   chan RawMessage
	proc   Processor
	logger *zap.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new worker pool with a queue of the given capacity.
func NewPool(size, queue int, proc Processor, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	return &Pool{
		size:   size,
		jobs:   make(chan RawMessage, queue),
		proc:   proc,
		logger: logger.Named("pool"),
	}
}

// Start launches the worker goroutines. ctx is handed to the processor for
// each message; cancelling it does not stop the workers. They exit only
// once Stop has closed the queue and everything queued has been processed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Int("worker", id))
	for msg := range p.jobs {
		p.run(ctx, msg)
	}
	p.logger.Debug("worker drained", zap.Int("worker", id))
}

// run isolates one message so a panic in processing never kills the worker.
func (p *Pool) run(ctx context.Context, msg RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing message", zap.String("topic", msg.Topic), zap.Any("panic", r))
		}
	}()
	if _, err := p.proc.Process(ctx, msg); err != nil {
		p.logger.Error("message dropped", zap.String("topic", msg.Topic), zap.Error(err))
	}
}

// Dispatch queues msg, blocking while the queue is full until ctx is done.
func (p *Pool) Dispatch(ctx context.Context, msg RawMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new messages, lets the workers finish what is queued and
// waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
