package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProcessor struct {
	running atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	delay   time.Duration
	panicOn string
}

func (p *countingProcessor) Process(ctx context.Context, d Delivery) Result {
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.calls.Add(1)
	if d.RequestID == p.panicOn {
		panic("boom")
	}
	time.Sleep(p.delay)
	return Result{Outcome: OutcomeSettled, TxID: d.RequestID}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	proc := &countingProcessor{delay: 10 * time.Millisecond}
	d := NewDispatcher(proc, 3, 32)

	var mu sync.Mutex
	var results []Result
	d.OnResult(func(_ Delivery, r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	for i := 0; i < 20; i++ {
		require.True(t, d.Submit(Delivery{RequestID: "req"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, int32(20), proc.calls.Load())
	assert.LessOrEqual(t, proc.peak.Load(), int32(3))
	assert.Len(t, results, 20)
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(&countingProcessor{}, 1, 0)
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Submit(Delivery{RequestID: "late"}))
}

func TestDispatcherCloseHonoursDeadline(t *testing.T) {
	d := NewDispatcher(&countingProcessor{delay: 200 * time.Millisecond}, 1, 0)
	require.True(t, d.Submit(Delivery{RequestID: "slow"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestDispatcherSurvivesPanics(t *testing.T) {
	proc := &countingProcessor{panicOn: "bad"}
	d := NewDispatcher(proc, 2, 0)

	d.Submit(Delivery{RequestID: "bad"})
	d.Submit(Delivery{RequestID: "good"})

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(2), proc.calls.Load())
}

type blockingProcessor struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingProcessor) Process(ctx context.Context, d Delivery) Result {
	p.calls.Add(1)
	<-p.release
	return Result{Outcome: OutcomeSettled, TxID: d.RequestID}
}

func TestDispatcherDropsWhenBacklogFull(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(proc, 1, 1)

	require.True(t, d.Submit(Delivery{RequestID: "running"}))
	require.True(t, d.Submit(Delivery{RequestID: "waiting"}))
	assert.False(t, d.Submit(Delivery{RequestID: "overflow"}))

	close(proc.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, int32(2), proc.calls.Load())
}

func TestDispatcherAcceptsAgainAfterBacklogDrains(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(proc, 1, 0)

	done := make(chan struct{}, 2)
	d.OnResult(func(Delivery, Result) { done <- struct{}{} })

	require.True(t, d.Submit(Delivery{RequestID: "first"}))
	assert.False(t, d.Submit(Delivery{RequestID: "second"}))

	close(proc.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery never finished")
	}

	assert.Eventually(t, func() bool {
		return d.Submit(Delivery{RequestID: "third"})
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close(context.Background()))
}
