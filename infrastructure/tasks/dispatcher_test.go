package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/infrastructure/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu     sync.Mutex
	sent   []tasks.Task
	delays []time.Duration
}

func (r *recordingTransport) Send(ctx context.Context, task tasks.Task, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, task)
	r.delays = append(r.delays, delay)
	return nil
}

func (r *recordingTransport) Close(ctx context.Context) error { return nil }

type memoryClaimer struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryClaimer) Claim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memoryClaimer) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

func TestDispatcher_EnqueueEncodesPayload(t *testing.T) {
	d := tasks.NewDispatcher(nil)
	tr := &recordingTransport{}
	d.UseTransport(tr)
	d.Register(tasks.TaskParsePost, func(ctx context.Context, data json.RawMessage) error { return nil })

	err := d.Enqueue(context.Background(), tasks.TaskParsePost, map[string]string{"postId": "p1"}, tasks.WithDelay(time.Minute))
	require.NoError(t, err)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, tasks.TaskParsePost, tr.sent[0].Name)
	assert.JSONEq(t, `{"postId":"p1"}`, string(tr.sent[0].Data))
	assert.Equal(t, 1, tr.sent[0].Attempt)
	assert.Equal(t, time.Minute, tr.delays[0])
}

func TestDispatcher_EnqueueUnknownTask(t *testing.T) {
	d := tasks.NewDispatcher(nil)
	d.UseTransport(&recordingTransport{})
	err := d.Enqueue(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, tasks.ErrUnknownTask)
}

func TestDispatcher_EnqueueDropsDuplicateKeys(t *testing.T) {
	d := tasks.NewDispatcher(nil)
	tr := &recordingTransport{}
	d.UseTransport(tr)
	d.UseClaimer(&memoryClaimer{})
	d.Register(tasks.TaskParsePost, func(ctx context.Context, data json.RawMessage) error { return nil })

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(context.Background(), tasks.TaskParsePost, map[string]string{"postId": "p1"}, tasks.WithKey("p1")))
	}
	require.NoError(t, d.Enqueue(context.Background(), tasks.TaskParsePost, map[string]string{"postId": "p2"}, tasks.WithKey("p2")))
	assert.Len(t, tr.sent, 2)
}

func TestDispatcher_ExecuteSwallowsTransientErrors(t *testing.T) {
	d := tasks.NewDispatcher(nil)
	d.Register("transient", func(ctx context.Context, data json.RawMessage) error {
		return apperror.Transient(model.PlatformTwitter, errors.New("429"))
	})
	d.Register("fatal", func(ctx context.Context, data json.RawMessage) error {
		return apperror.Fatal(model.PlatformTwitter, errors.New("401"))
	})

	assert.NoError(t, d.Execute(context.Background(), tasks.Task{Name: "transient", Attempt: 1}))
	err := d.Execute(context.Background(), tasks.Task{Name: "fatal", Attempt: 1})
	assert.True(t, apperror.IsFatal(err))
}

func testOptions() map[string]tasks.Options {
	return map[string]tasks.Options{
		"flaky": {
			Retry:   tasks.RetryPolicy{MaxAttempts: 3, MinBackoff: time.Millisecond},
			Rate:    tasks.RateLimit{MaxDispatchesPerSecond: 1000, MaxConcurrentDispatches: 2},
			Timeout: time.Second,
		},
	}
}

func TestDirectTransport_RetriesUntilSuccess(t *testing.T) {
	d := tasks.NewDispatcher(testOptions())
	var calls int32
	done := make(chan struct{})
	d.Register("flaky", func(ctx context.Context, data json.RawMessage) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("store unavailable")
		}
		close(done)
		return nil
	})
	transport := tasks.NewDirectTransport(d)
	d.UseTransport(transport)

	require.NoError(t, d.Enqueue(context.Background(), "flaky", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not succeed")
	}
	require.NoError(t, transport.Close(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDirectTransport_StopsAfterMaxAttempts(t *testing.T) {
	d := tasks.NewDispatcher(testOptions())
	var calls int32
	d.Register("flaky", func(ctx context.Context, data json.RawMessage) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always")
	})
	transport := tasks.NewDirectTransport(d)
	d.UseTransport(transport)

	require.NoError(t, d.Enqueue(context.Background(), "flaky", nil))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, transport.Close(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDirectTransport_CloseDropsDelayedAndDrainsRunning(t *testing.T) {
	d := tasks.NewDispatcher(testOptions())
	var delayed, finished int32
	started := make(chan struct{})
	d.Register("later", func(ctx context.Context, data json.RawMessage) error {
		atomic.AddInt32(&delayed, 1)
		return nil
	})
	d.Register("busy", func(ctx context.Context, data json.RawMessage) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&finished, 1)
		return nil
	})
	transport := tasks.NewDirectTransport(d)
	d.UseTransport(transport)

	require.NoError(t, d.Enqueue(context.Background(), "later", nil, tasks.WithDelay(time.Hour)))
	require.NoError(t, d.Enqueue(context.Background(), "busy", nil))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, transport.Close(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(0), atomic.LoadInt32(&delayed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestDirectTransport_RejectsAfterClose(t *testing.T) {
	d := tasks.NewDispatcher(testOptions())
	d.Register("flaky", func(ctx context.Context, data json.RawMessage) error { return nil })
	transport := tasks.NewDirectTransport(d)
	d.UseTransport(transport)
	require.NoError(t, transport.Close(context.Background()))

	err := d.Enqueue(context.Background(), "flaky", nil)
	assert.ErrorIs(t, err, tasks.ErrTransportClosed)
}

func TestGate_LimitsConcurrency(t *testing.T) {
	gate := tasks.NewGate(tasks.RateLimit{MaxConcurrentDispatches: 1})
	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = gate.Acquire(ctx)
	assert.Error(t, err)

	release()
	release2, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGate_TryAcquireReportsWaitWithoutBlocking(t *testing.T) {
	gate := tasks.NewGate(tasks.RateLimit{MaxDispatchesPerSecond: 1.0 / 180, MaxConcurrentDispatches: 1})
	release, wait, ok := gate.TryAcquire()
	require.True(t, ok)
	assert.Zero(t, wait)
	release()

	_, wait, ok = gate.TryAcquire()
	assert.False(t, ok)
	assert.InDelta(t, (180 * time.Second).Seconds(), wait.Seconds(), 2)

	_, again, ok := gate.TryAcquire()
	assert.False(t, ok)
	assert.InDelta(t, wait.Seconds(), again.Seconds(), 2)
}

func TestGate_TryAcquireBusy(t *testing.T) {
	gate := tasks.NewGate(tasks.RateLimit{MaxConcurrentDispatches: 1})
	release, _, ok := gate.TryAcquire()
	require.True(t, ok)

	_, wait, ok := gate.TryAcquire()
	assert.False(t, ok)
	assert.Positive(t, wait)

	release()
	_, _, ok = gate.TryAcquire()
	assert.True(t, ok)
}

type failingTransport struct{ recordingTransport }

func (f *failingTransport) Send(ctx context.Context, task tasks.Task, delay time.Duration) error {
	return errors.New("queue unavailable")
}

func TestDispatcher_SendFailureReleasesClaim(t *testing.T) {
	d := tasks.NewDispatcher(nil)
	claimer := &memoryClaimer{}
	d.UseClaimer(claimer)
	d.UseTransport(&failingTransport{})
	d.Register(tasks.TaskParsePost, func(ctx context.Context, data json.RawMessage) error { return nil })

	err := d.Enqueue(context.Background(), tasks.TaskParsePost, map[string]string{"postId": "p1"}, tasks.WithKey("p1"))
	require.Error(t, err)

	tr := &recordingTransport{}
	d.UseTransport(tr)
	require.NoError(t, d.Enqueue(context.Background(), tasks.TaskParsePost, map[string]string{"postId": "p1"}, tasks.WithKey("p1")))
	assert.Len(t, tr.sent, 1)
}
