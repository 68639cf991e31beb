// Package notify fans out committed workflow events to the notification
// dispatcher. Delivery is best-effort; the engine logs and moves on when a
// publish fails.
package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"civicflow-be/models"
)

// RedisNotifier publishes events on a Redis pub/sub channel that the
// notification dispatcher subscribes to.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

type event struct {
	Kind       string                      `json:"kind"`
	Transition *models.LifecycleTransition `json:"transition,omitempty"`
	Escalation *models.EscalationEvent     `json:"escalation,omitempty"`
}

func (n *RedisNotifier) publish(ctx context.Context, ev event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

func (n *RedisNotifier) PublishTransition(ctx context.Context, tr models.LifecycleTransition) error {
	return n.publish(ctx, event{Kind: "transition", Transition: &tr})
}

func (n *RedisNotifier) PublishEscalation(ctx context.Context, ev models.EscalationEvent) error {
	return n.publish(ctx, event{Kind: "escalation", Escalation: &ev})
}

// LogNotifier is the fallback when no Redis is configured; events only hit
// the service log.
type LogNotifier struct{}

func (LogNotifier) PublishTransition(ctx context.Context, tr models.LifecycleTransition) error {
	logrus.WithFields(logrus.Fields{
		"issue":  tr.Issue.Hex(),
		"action": tr.Action,
		"to":     tr.To,
	}).Info("transition")
	return nil
}

func (LogNotifier) PublishEscalation(ctx context.Context, ev models.EscalationEvent) error {
	logrus.WithFields(logrus.Fields{
		"issue": ev.Issue.Hex(),
		"stage": ev.Stage,
	}).Warn("escalation")
	return nil
}
