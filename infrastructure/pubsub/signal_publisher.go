package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"post-mirror/domain/model"
	"post-mirror/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

// SignalPublisher feeds change signals into the notification pipeline topic.
type SignalPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewSignalPublisher creates the topic when it does not exist.
func NewSignalPublisher(ctx context.Context, client *pubsub.Client, topicName string) (*SignalPublisher, error) {
	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicName, err)
	}
	if !exists {
		logger.GetLogger().WithField("topic", topicName).Info("Topic doesn't exist - creating it")
		topic, err = client.CreateTopic(ctx, topicName)
		if err != nil {
			return nil, fmt.Errorf("create topic %s: %w", topicName, err)
		}
	}
	return &SignalPublisher{client: client, topic: topic}, nil
}

func (p *SignalPublisher) Signal(ctx context.Context, sig model.ChangeSignal) {
	payload, err := json.Marshal(sig)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("encode change signal")
		return
	}
	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"entityKind": string(sig.EntityKind),
			"entityId":   sig.EntityID,
		},
	}
	serverID, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"error":    err,
			"entityId": sig.EntityID,
		}).Warn("publish change signal failed")
		return
	}
	logger.GetLogger().WithField("server ID", serverID).Debug("Change signal published")
}

// Stop flushes pending messages.
func (p *SignalPublisher) Stop() {
	p.topic.Stop()
}
