package payment

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// PendingChannel carries session ids a verifier saw paid-but-pending, so a
// reconcile worker can look again before its next tick.
const PendingChannel = "payments:pending"

type Notifier interface {
	NotifyPending(ctx context.Context, sessionID string) error
}

// RedisNotifier publishes on PendingChannel.
type RedisNotifier struct {
	cli *redis.Client
}

func NewRedisNotifier(c *redis.Client) *RedisNotifier {
	return &RedisNotifier{cli: c}
}

func (n *RedisNotifier) NotifyPending(ctx context.Context, sessionID string) error {
	return n.cli.Publish(ctx, PendingChannel, sessionID).Err()
}

// NoopNotifier is used when Redis is not configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyPending(context.Context, string) error { return nil }
