package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Notifier receives the single change-notification event emitted whenever
// the rating record set changes. Presentation-layer consumers refresh their
// overlays off this signal.
type Notifier interface {
	RatingsChanged(ctx context.Context, userSlug string)
}

// NoopNotifier discards notifications.
type NoopNotifier struct{}

func (NoopNotifier) RatingsChanged(context.Context, string) {}

// RedisNotifier broadcasts change events on a Redis pub/sub channel so other
// processes watching the store can refresh. Publish failures are logged and
// swallowed; a lost notification must never fail the mutation that caused it.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	logger  *logrus.Logger
}

func NewRedisNotifier(rdb *redis.Client, channel string, logger *logrus.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, logger: logger}
}

type changeEvent struct {
	UserSlug  string    `json:"userSlug"`
	ChangedAt time.Time `json:"changedAt"`
}

func (n *RedisNotifier) RatingsChanged(ctx context.Context, userSlug string) {
	payload, err := json.Marshal(changeEvent{UserSlug: userSlug, ChangedAt: time.Now().UTC()})
	if err != nil {
		n.logger.WithError(err).Warn("Failed to marshal change notification")
		return
	}

	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.WithError(err).WithField("user_slug", userSlug).Warn("Failed to publish change notification")
		return
	}

	n.logger.WithField("user_slug", userSlug).Debug("Change notification published")
}
