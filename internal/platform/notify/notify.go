// Package notify delivers case workflow notifications to the people who have
// to act on them next.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message kinds.
const (
	KindEscalation    = "escalation"
	KindDecision      = "decision"
	KindClarification = "clarification_response"
	KindEmergency     = "emergency_flag"
)

const (
	keyPrefix = "phcwatch:"
	// EventsChannel receives every message for live dashboards.
	EventsChannel = keyPrefix + "events"
	inboxLimit    = 200
)

// Message is one notification about a case.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	Facility   string    `json:"facility,omitempty"`
	Recipient  string    `json:"recipient"`
	VisitID    uuid.UUID `json:"visit_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Status     string    `json:"status"`
	RiskLevel  string    `json:"risk_level,omitempty"`
	TotalScore int       `json:"total_score"`
	Emergency  bool      `json:"emergency"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier publishes messages.
type Notifier interface {
	Publish(ctx context.Context, msg Message) error
}

// Nop discards every message. It is used when no redis is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }

// Redis keeps a bounded inbox list per recipient and fans every message out on
// EventsChannel.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the redis server at addr, which may be a host:port pair
// or a redis:// URL.
func NewRedis(addr string) (*Redis, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// RoleRecipient addresses everyone holding role at a facility.
func RoleRecipient(facility, role string) string {
	return facility + ":role:" + role
}

// UserRecipient addresses one user at a facility.
func UserRecipient(facility, userID string) string {
	return facility + ":user:" + userID
}

// InboxKey is the list holding a recipient's most recent messages.
func InboxKey(recipient string) string {
	return keyPrefix + "inbox:" + recipient
}

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := InboxKey(msg.Recipient)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, inboxLimit-1)
	pipe.Publish(ctx, EventsChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notification to %s: %w", key, err)
	}
	return nil
}

// Inbox returns up to limit of the recipient's newest messages, newest first.
func (r *Redis) Inbox(ctx context.Context, recipient string, limit int) ([]Message, error) {
	if limit <= 0 || limit > inboxLimit {
		limit = inboxLimit
	}
	raw, err := r.client.LRange(ctx, InboxKey(recipient), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
