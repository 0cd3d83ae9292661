package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/paypass/wash-service/internal/infrastructure/redis"
	"github.com/segmentio/kafka-go"
)

// WashEvent is the payload published for every successful redemption.
type WashEvent struct {
	UserPackageID int64  `json:"user_package_id"`
	LocationID    string `json:"location_id"`
	Credits       int32  `json:"credits"`
	RedeemedAt    string `json:"redeemed_at"`
}

// StatsConsumer aggregates wash events into per-location daily counters so
// the stats endpoints never touch the hot redemption path.
type StatsConsumer struct {
	reader      *kafka.Reader
	redisClient redis.RedisClient
}

const dailyCounterTTL = 48 * time.Hour

func NewStatsConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *StatsConsumer {
	return &StatsConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

// DailyCounterKey names the Redis counter for a location and day.
func DailyCounterKey(locationID string, day time.Time) string {
	return fmt.Sprintf("location:%s:washes:%s", locationID, day.UTC().Format("2006-01-02"))
}

func (c *StatsConsumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event WashEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal wash event", "error", err)
			continue
		}
		if event.LocationID == "" {
			slog.Error("invalid wash event: missing location_id")
			continue
		}

		redeemedAt, err := time.Parse(time.RFC3339, event.RedeemedAt)
		if err != nil {
			slog.Error("invalid redeemed_at format", "value", event.RedeemedAt, "error", err)
			continue
		}

		key := DailyCounterKey(event.LocationID, redeemedAt)
		count, err := c.redisClient.IncrBy(ctx, key, 1)
		if err != nil {
			slog.Error("failed to bump wash counter", "key", key, "error", err)
			continue
		}
		if err := c.redisClient.Expire(ctx, key, dailyCounterTTL); err != nil {
			slog.Error("failed to set counter expiry", "key", key, "error", err)
		}

		slog.Info("wash counted", "location_id", event.LocationID, "day", redeemedAt.UTC().Format("2006-01-02"), "count", count)
	}
}

func (c *StatsConsumer) Close() error {
	return c.reader.Close()
}
