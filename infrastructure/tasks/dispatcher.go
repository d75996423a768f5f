package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/infrastructure/logger"
)

// Task is the envelope a transport carries. Data is the handler payload.
type Task struct {
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data"`
	Key     string          `json:"key,omitempty"`
	Attempt int             `json:"attempt"`
	// Deferred counts re-sends caused by the queue's rate, not by failures.
	Deferred int `json:"deferred,omitempty"`
}

// Handler executes one task payload.
type Handler func(ctx context.Context, data json.RawMessage) error

// Transport moves tasks from Enqueue to Dispatcher.Execute, applying the
// queue's rate limit, retry policy and delay.
type Transport interface {
	Send(ctx context.Context, task Task, delay time.Duration) error
	Close(ctx context.Context) error
}

// Claimer suppresses duplicate enqueues of the same task key.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Executor is what transports call back into.
type Executor interface {
	Execute(ctx context.Context, task Task) error
	Options(name string) Options
}

var ErrUnknownTask = errors.New("unknown task")

type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	options   map[string]Options
	transport Transport
	claimer   Claimer
}

func NewDispatcher(options map[string]Options) *Dispatcher {
	if options == nil {
		options = DefaultOptions()
	}
	return &Dispatcher{handlers: make(map[string]Handler), options: options}
}

func (d *Dispatcher) UseTransport(t Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transport = t
}

func (d *Dispatcher) UseClaimer(c Claimer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimer = c
}

func (d *Dispatcher) Register(name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = handler
}

// Names lists registered tasks in order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) Options(name string) Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if o, ok := d.options[name]; ok {
		return o
	}
	return defaultOptions
}

type enqueueConfig struct {
	delay time.Duration
	key   string
}

type EnqueueOption func(*enqueueConfig)

func WithDelay(delay time.Duration) EnqueueOption {
	return func(c *enqueueConfig) { c.delay = delay }
}

// WithKey deduplicates enqueues sharing the same key.
func WithKey(key string) EnqueueOption {
	return func(c *enqueueConfig) { c.key = key }
}

// Enqueue hands a task to the transport. A duplicate key is dropped silently.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, payload interface{}, opts ...EnqueueOption) error {
	cfg := enqueueConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	d.mu.RLock()
	_, known := d.handlers[name]
	transport := d.transport
	claimer := d.claimer
	d.mu.RUnlock()

	if !known {
		return fmt.Errorf("enqueue %s: %w", name, ErrUnknownTask)
	}
	if transport == nil {
		return fmt.Errorf("enqueue %s: no transport configured", name)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}

	claimKey := ""
	if cfg.key != "" && claimer != nil {
		first, err := claimer.Claim(ctx, name+":"+cfg.key)
		if err != nil {
			logger.GetLogger().WithFields(map[string]interface{}{
				"task":  name,
				"key":   cfg.key,
				"error": err,
			}).Warn("task dedup unavailable, enqueueing anyway")
		} else if !first {
			logger.GetLogger().WithFields(map[string]interface{}{
				"task": name,
				"key":  cfg.key,
			}).Debug("duplicate task dropped")
			return nil
		} else {
			claimKey = name + ":" + cfg.key
		}
	}

	task := Task{Name: name, Data: data, Key: cfg.key, Attempt: 1}
	if err := transport.Send(ctx, task, cfg.delay); err != nil {
		if claimKey != "" {
			if releaseErr := claimer.Release(ctx, claimKey); releaseErr != nil {
				logger.GetLogger().WithField("error", releaseErr).Warn("release task claim")
			}
		}
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

// Execute runs the handler of a task under the queue timeout. Transient
// platform errors are logged and swallowed; any other error is returned so
// the transport retries.
func (d *Dispatcher) Execute(ctx context.Context, task Task) error {
	d.mu.RLock()
	handler, ok := d.handlers[task.Name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execute %s: %w", task.Name, ErrUnknownTask)
	}

	opts := d.Options(task.Name)
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	log := logger.GetLogger().WithFields(map[string]interface{}{
		"task":    task.Name,
		"attempt": task.Attempt,
	})
	start := time.Now()
	err := handler(ctx, task.Data)
	if err == nil {
		log.WithField("elapsed", time.Since(start).String()).Debug("task done")
		return nil
	}
	if apperror.IsTransient(err) {
		log.WithField("error", err).Warn("task hit a transient platform error, waiting for the next trigger")
		return nil
	}
	log.WithField("error", err).Error("task failed")
	return err
}
