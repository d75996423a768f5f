package servicebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"golang.org/x/sync/errgroup"

	"post-mirror/infrastructure/logger"
	"post-mirror/infrastructure/tasks"
)

type messageReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
	RenewMessageLock(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.RenewMessageLockOptions) error
	Close(ctx context.Context) error
}

// Worker drains the task queue into an Executor. A failed task is re-sent
// with its backoff as a scheduled message and the original completed; once
// the queue's attempts are spent it is dead-lettered instead. A task whose
// queue has no free dispatch slot is re-sent for when one frees up, so no
// message lock is held while waiting on the rate.
type Worker struct {
	receiver  messageReceiver
	transport *Transport
	executor  tasks.Executor
	gates     *tasks.Gates
	batch     int
	renewEach time.Duration
}

func NewWorker(client *azservicebus.Client, queue string, transport *Transport, executor tasks.Executor) (*Worker, error) {
	receiver, err := client.NewReceiverForQueue(queue, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new receiver service bus.")
		return nil, err
	}
	return newWorker(receiver, transport, executor), nil
}

func newWorker(receiver messageReceiver, transport *Transport, executor tasks.Executor) *Worker {
	return &Worker{
		receiver:  receiver,
		transport: transport,
		executor:  executor,
		gates:     tasks.NewGates(executor.Options),
		batch:     10,
		renewEach: 20 * time.Second,
	}
}

// Run receives until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		if err := w.receiver.Close(context.Background()); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing receiver.")
		}
	}()
	for {
		if err := w.ReceiveOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.GetLogger().WithField("error", err).Error("Error while receiving messages.")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// ReceiveOnce handles one batch of messages.
func (w *Worker) ReceiveOnce(ctx context.Context) error {
	messages, err := w.receiver.ReceiveMessages(ctx, w.batch, nil)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range messages {
		m := m
		g.Go(func() error {
			w.handle(gctx, m)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) handle(ctx context.Context, m *azservicebus.ReceivedMessage) {
	log := logger.GetLogger().WithField("messageId", m.MessageID)

	var task tasks.Task
	if err := json.Unmarshal(m.Body, &task); err != nil || task.Name == "" {
		if err == nil {
			err = errors.New("task name is empty")
		}
		w.deadLetter(ctx, m, "malformed", err)
		return
	}
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	log = log.WithField("task", task.Name)

	release, wait, ok := w.gates.For(task.Name).TryAcquire()
	if !ok {
		w.postpone(ctx, m, task, wait)
		return
	}
	execErr := w.execute(ctx, m, task)
	release()

	if execErr == nil {
		if err := w.receiver.CompleteMessage(ctx, m, nil); err != nil {
			log.WithField("error", err).Error("Error while completing message.")
		}
		return
	}

	if errors.Is(execErr, tasks.ErrUnknownTask) {
		w.deadLetter(ctx, m, "unknown task", execErr)
		return
	}
	policy := w.executor.Options(task.Name).Retry
	if !policy.CanRetry(task.Attempt) {
		w.deadLetter(ctx, m, "max attempts", execErr)
		return
	}

	retry := task
	retry.Attempt++
	if err := w.transport.Send(ctx, retry, policy.Backoff(task.Attempt)); err != nil {
		// leave the message locked; the broker redelivers it after the lock expires
		log.WithField("error", err).Error("Error while rescheduling task.")
		return
	}
	if err := w.receiver.CompleteMessage(ctx, m, nil); err != nil {
		log.WithField("error", err).Error("Error while completing message.")
	}
}

// execute runs the task while renewing the message lock.
func (w *Worker) execute(ctx context.Context, m *azservicebus.ReceivedMessage, task tasks.Task) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(w.renewEach)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.receiver.RenewMessageLock(ctx, m, nil); err != nil {
					logger.GetLogger().WithFields(map[string]interface{}{
						"messageId": m.MessageID,
						"error":     err,
					}).Warn("Error while renewing message lock.")
				}
			}
		}
	}()
	return w.executor.Execute(ctx, task)
}

func (w *Worker) postpone(ctx context.Context, m *azservicebus.ReceivedMessage, task tasks.Task, wait time.Duration) {
	log := logger.GetLogger().WithFields(map[string]interface{}{
		"messageId": m.MessageID,
		"task":      task.Name,
		"wait":      wait.String(),
	})
	later := task
	later.Deferred++
	if err := w.transport.Send(ctx, later, wait); err != nil {
		log.WithField("error", err).Error("Error while deferring task.")
		return
	}
	if err := w.receiver.CompleteMessage(ctx, m, nil); err != nil {
		log.WithField("error", err).Error("Error while completing message.")
		return
	}
	log.Debug("task deferred until its queue has a free slot")
}

func (w *Worker) deadLetter(ctx context.Context, m *azservicebus.ReceivedMessage, reason string, cause error) {
	description := fmt.Sprint(cause)
	if err := w.receiver.DeadLetterMessage(ctx, m, &azservicebus.DeadLetterOptions{
		Reason:           &reason,
		ErrorDescription: &description,
	}); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while dead-lettering message.")
	}
}
