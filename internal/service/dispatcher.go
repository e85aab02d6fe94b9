package service

import (
	"context"
	"log"
	"runtime/debug"
	"sync"

	"purchase-settlement-api/internal/metrics"
)

// Processor runs a delivery to completion.
type Processor interface {
	Process(ctx context.Context, d Delivery) Result
}

// Dispatcher runs pipelines detached from the HTTP request that delivered
// them. A semaphore bounds how many run at once and a backlog bounds how
// many may wait for a slot; deliveries beyond that are dropped and left to
// the provider's redelivery or operator reprocessing.
type Dispatcher struct {
	processor Processor
	sem       chan struct{}
	backlog   chan struct{}
	onResult  func(Delivery, Result)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher running at most workers pipelines at
// once with up to queueSize more waiting.
func NewDispatcher(p Processor, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		processor: p,
		sem:       make(chan struct{}, workers),
		backlog:   make(chan struct{}, workers+queueSize),
	}
}

// OnResult registers a callback invoked after every run. Set it before the
// first Submit.
func (d *Dispatcher) OnResult(fn func(Delivery, Result)) {
	d.onResult = fn
}

// Submit hands a delivery to a background pipeline. It returns false once
// the dispatcher is closed or when the backlog is full.
func (d *Dispatcher) Submit(del Delivery) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	select {
	case d.backlog <- struct{}{}:
	default:
		d.mu.Unlock()
		metrics.DeliveriesDroppedTotal.Inc()
		log.Printf("[Dispatcher] HIGH: backlog full (%d), dropping delivery req=%s", cap(d.backlog), del.RequestID)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(del)
	return true
}

func (d *Dispatcher) run(del Delivery) {
	defer d.wg.Done()
	defer func() { <-d.backlog }()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	metrics.PipelinesInFlight.Inc()
	defer metrics.PipelinesInFlight.Dec()

	defer func() {
		if err := recover(); err != nil {
			log.Printf("[Dispatcher] PANIC in pipeline req=%s: %v\n%s", del.RequestID, err, debug.Stack())
		}
	}()

	// Detached from the request: the provider already has its 200.
	res := d.processor.Process(context.Background(), del)
	if d.onResult != nil {
		d.onResult(del, res)
	}
}

// Close stops accepting deliveries and waits for in-flight pipelines until ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Dispatcher] All pipelines drained")
		return nil
	case <-ctx.Done():
		log.Printf("[Dispatcher] Shutdown deadline hit with pipelines still running")
		return ctx.Err()
	}
}
