package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bouclier/residence-access/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// NoopPublisher drops every event. Used when the broker is unreachable at
// startup and in tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Subjects other parts of the platform (notifications, audit, dashboards)
// subscribe to.
const (
	IdentityActivated = "identity.activated"

	VisitorGroupCreated = "visitor.group.created"
	VisitorRedeemed     = "visitor.redeemed"
	VisitorsExpired     = "visitor.expired"
)

type IdentityActivatedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type VisitorGroupCreatedEvent struct {
	GroupID    string   `json:"group_id"`
	CreatedBy  string   `json:"created_by"`
	BuildingID string   `json:"building_id"`
	AccessIDs  []string `json:"access_ids"`
}

type VisitorRedeemedEvent struct {
	AccessID   string    `json:"access_id"`
	GroupID    string    `json:"group_id"`
	BuildingID string    `json:"building_id"`
	RedeemedBy string    `json:"redeemed_by"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

type VisitorsExpiredEvent struct {
	Count     int64     `json:"count"`
	SweptAt   time.Time `json:"swept_at"`
	Triggered string    `json:"triggered"` // "sweep" or "manual"
}
