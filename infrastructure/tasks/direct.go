package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"post-mirror/infrastructure/logger"
)

// DirectTransport runs tasks in-process. Each queue gets its own Gate, and
// failed executions are retried per the queue's RetryPolicy. Tasks still
// waiting on a delay, backoff or gate are dropped on Close; running ones
// drain.
type DirectTransport struct {
	executor    Executor
	gates       *Gates
	ctx         context.Context
	cancel      context.CancelFunc
	waiting     context.Context
	stopWaiting context.CancelFunc
	wg          sync.WaitGroup
	closed      bool
	mu          sync.Mutex
}

func NewDirectTransport(executor Executor) *DirectTransport {
	ctx, cancel := context.WithCancel(context.Background())
	waiting, stopWaiting := context.WithCancel(ctx)
	return &DirectTransport{
		executor:    executor,
		gates:       NewGates(executor.Options),
		ctx:         ctx,
		cancel:      cancel,
		waiting:     waiting,
		stopWaiting: stopWaiting,
	}
}

var ErrTransportClosed = errors.New("transport closed")

// Send schedules the task and returns immediately. The task outlives ctx.
func (t *DirectTransport) Send(ctx context.Context, task Task, delay time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.wg.Add(1)
	go t.run(task, delay)
	return nil
}

func (t *DirectTransport) run(task Task, delay time.Duration) {
	defer t.wg.Done()
	if !sleep(t.waiting, delay) {
		t.dropped(task)
		return
	}

	opts := t.executor.Options(task.Name)
	gate := t.gates.For(task.Name)
	for {
		release, err := gate.Acquire(t.waiting)
		if err != nil {
			t.dropped(task)
			return
		}
		err = t.executor.Execute(t.ctx, task)
		release()
		if err == nil {
			return
		}
		if !opts.Retry.CanRetry(task.Attempt) {
			logger.GetLogger().WithFields(map[string]interface{}{
				"task":    task.Name,
				"attempt": task.Attempt,
				"error":   err,
			}).Error("task exhausted its attempts")
			return
		}
		if !sleep(t.waiting, opts.Retry.Backoff(task.Attempt)) {
			t.dropped(task)
			return
		}
		task.Attempt++
	}
}

func (t *DirectTransport) dropped(task Task) {
	logger.GetLogger().WithFields(map[string]interface{}{
		"task":    task.Name,
		"attempt": task.Attempt,
	}).Debug("pending task dropped at shutdown")
}

// Close stops accepting tasks, drops pending ones and waits for running ones
// until ctx ends, then cancels what is left.
func (t *DirectTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.stopWaiting()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		<-done
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
