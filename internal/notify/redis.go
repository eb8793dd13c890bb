// Package notify hands match events to the delivery pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobwatch/watcher-service/internal/model"
)

// Channel carrying match events to the delivery workers.
const MatchEventChannel = "EVENT_POSTING_MATCHED"

// Redis publishes match events on a Redis pub/sub channel, one message
// per event. Downstream delivery workers own rendering and retry.
type Redis struct {
	rdb *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (n *Redis) Deliver(ctx context.Context, events []model.MatchEvent) error {
	for _, event := range events {
		payload, err := json.Marshal(map[string]string{
			"type":      MatchEventChannel,
			"alertId":   event.AlertID,
			"postingId": event.PostingID,
			"matchedAt": event.MatchedAt.Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("marshal match event: %w", err)
		}
		if err := n.rdb.Publish(ctx, MatchEventChannel, payload).Err(); err != nil {
			return fmt.Errorf("publish match event (%s, %s): %w", event.AlertID, event.PostingID, err)
		}
	}
	return nil
}
