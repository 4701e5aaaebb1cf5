package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxsocial/notifygw/internal/logger"
	"github.com/voxsocial/notifygw/internal/model"
)

const deliverChannel = "notifygw.deliver"

// Broker bridges delivery workers and connection gateways over Redis
// pub/sub. Workers publish deliver commands; every gateway subscribes and
// pushes to whichever of the recipient's connections it holds locally.
// Subscriber state is ephemeral, like the presence it serves.
type Broker struct {
	rdb *redis.Client
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Deliver publishes one notification for live push and returns the number
// of gateway processes that received the command. Zero means no gateway is
// up; the caller leaves the notification on the offline path.
func (b *Broker) Deliver(ctx context.Context, n model.Notification) (int64, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("marshal deliver command: %w", err)
	}
	return b.rdb.Publish(ctx, deliverChannel, payload).Result()
}

// Subscribe consumes deliver commands until ctx is cancelled. The handler
// runs inline; it must be quick and never block on the client socket.
func (b *Broker) Subscribe(ctx context.Context, handle func(model.Notification)) error {
	sub := b.rdb.Subscribe(ctx, deliverChannel)
	defer func() { _ = sub.Close() }()

	// force the subscription before reporting readiness
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", deliverChannel, err)
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
			var n model.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				logger.Log.Warn("push: bad deliver payload", zap.Error(err))
				continue
			}
			handle(n)
		}
	}
}
