package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const punchQueueKey = "attendance:punches"

// Punch is the event pushed to downstream consumers for every accepted
// attendance log.
type Punch struct {
	DeviceSerialNo string    `json:"deviceSerialNo"`
	UserID         string    `json:"userId"`
	LogTime        time.Time `json:"logTime"`
	Action         string    `json:"action,omitempty"`
	AttendStat     string    `json:"attendStat,omitempty"`
	HasPhoto       bool      `json:"hasPhoto"`
}

// Publisher pushes punch events onto a Redis list for downstream consumers.
// A nil Publisher is valid and drops everything, which is how deployments
// without Redis run.
type Publisher struct {
	client *redis.Client
	logger *logrus.Entry
}

// NewPublisher connects to Redis. A failed ping is logged but not fatal; the
// client retries on use.
func NewPublisher(addr, password string, db int, logger *logrus.Entry) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redis not reachable, punch publishing will retry on use")
	} else {
		logger.WithField("addr", addr).Info("Connected to Redis")
	}

	return &Publisher{client: client, logger: logger}
}

// Publish pushes one punch event. Publishing is best effort: the punch is
// already durable in the gateway database before this is called.
func (p *Publisher) Publish(ctx context.Context, punch *Punch) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(punch)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal punch event")
		return
	}
	if err := p.client.LPush(ctx, punchQueueKey, payload).Err(); err != nil {
		p.logger.WithError(err).WithField("serial", punch.DeviceSerialNo).Warn("Failed to publish punch event")
	}
}

// Close releases the Redis connection
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
