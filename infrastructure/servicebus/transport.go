package servicebus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"post-mirror/infrastructure/logger"
	"post-mirror/infrastructure/tasks"
)

const taskNameProperty = "task"

type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// Transport enqueues tasks on a Service Bus queue. Delays become scheduled
// enqueue times and task keys become message ids, so the queue's duplicate
// detection drops repeats.
type Transport struct {
	sender messageSender
	now    func() time.Time
}

func NewTransport(client *azservicebus.Client, queue string) (*Transport, error) {
	sender, err := client.NewSender(queue, nil)
	if err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while making new sender service bus.")
		return nil, err
	}
	return newTransport(sender), nil
}

func newTransport(sender messageSender) *Transport {
	return &Transport{sender: sender, now: time.Now}
}

func (t *Transport) Send(ctx context.Context, task tasks.Task, delay time.Duration) error {
	msg, err := t.message(task, delay)
	if err != nil {
		return err
	}
	if err := t.sender.SendMessage(ctx, msg, nil); err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"task":  task.Name,
			"error": err,
		}).Error("Error while sending message.")
		return err
	}
	return nil
}

func (t *Transport) message(task tasks.Task, delay time.Duration) (*azservicebus.Message, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", task.Name, err)
	}
	subject := task.Name
	msg := &azservicebus.Message{
		Body:                  body,
		Subject:               &subject,
		ApplicationProperties: map[string]interface{}{taskNameProperty: task.Name},
	}
	if task.Key != "" {
		id := fmt.Sprintf("%s:%s:%d", task.Name, task.Key, task.Attempt)
		if task.Deferred > 0 {
			id = fmt.Sprintf("%s:%d", id, task.Deferred)
		}
		msg.MessageID = &id
	}
	if delay > 0 {
		at := t.now().Add(delay).UTC()
		msg.ScheduledEnqueueTime = &at
	}
	return msg, nil
}

func (t *Transport) Close(ctx context.Context) error {
	return t.sender.Close(ctx)
}
