package cache

import (
	"context"
	"encoding/json"

	"post-mirror/domain/model"
	"post-mirror/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

// SignalPublisher publishes change signals on a Redis channel so every API
// instance can refresh its SSE clients.
type SignalPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewSignalPublisher(client redis.UniversalClient, channel string) *SignalPublisher {
	return &SignalPublisher{client: client, channel: channel}
}

func (p *SignalPublisher) Signal(ctx context.Context, sig model.ChangeSignal) {
	payload, err := json.Marshal(sig)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("encode change signal")
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"error":    err,
			"entityId": sig.EntityID,
		}).Warn("publish change signal failed")
	}
}

// Subscribe relays signals published by other instances to local listeners
// until ctx is done.
func (p *SignalPublisher) Subscribe(ctx context.Context, deliver func(ctx context.Context, sig model.ChangeSignal)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var sig model.ChangeSignal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				logger.GetLogger().WithField("error", err).Warn("decode change signal")
				continue
			}
			deliver(ctx, sig)
		}
	}
}
