package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const AccountEventsChannel = "account_events"

// AccountEvent is published for downstream mailers and audit consumers.
type AccountEvent struct {
	EventType string            `json:"event_type"` // account.pending_deletion
	SubjectID string            `json:"subject_id"`
	Template  string            `json:"template"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Params    map[string]string `json:"params,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// RedisNotifier publishes the rendered message as a JSON event.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	logger  *zap.SugaredLogger
}

func NewRedisNotifier(rdb *redis.Client, channel string, logger *zap.SugaredLogger) *RedisNotifier {
	if channel == "" {
		channel = AccountEventsChannel
	}
	return &RedisNotifier{rdb: rdb, channel: channel, logger: logger}
}

func (n *RedisNotifier) Send(ctx context.Context, subjectID, tmpl string, params map[string]string) error {
	msg, err := Render(tmpl, params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(AccountEvent{
		EventType: "account." + tmpl,
		SubjectID: subjectID,
		Template:  tmpl,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Params:    params,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	n.logger.Debugw("account event published", "subject_id", subjectID, "channel", n.channel)
	return nil
}
