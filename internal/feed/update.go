// Package feed carries order status changes from the outbox publisher to live
// SSE subscribers through Redis pub/sub. It is a refresh signal only; it never
// originates a transition.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// Update is one status change as seen by feed subscribers.
type Update struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	BuyerUserID   *uuid.UUID          `json:"buyer_user_id,omitempty"`
	Action        enums.AuditAction   `json:"action"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Version       int                 `json:"version"`
	ChangedAt     time.Time           `json:"changed_at"`
}

// FromStatusChange maps the outbox payload to a feed update.
func FromStatusChange(event payloads.OrderStatusChangedEvent) Update {
	return Update{
		OrderID:       event.OrderID,
		OrderNumber:   event.OrderNumber,
		BuyerUserID:   event.BuyerUserID,
		Action:        event.Action,
		Status:        event.ToStatus,
		PaymentStatus: event.ToPaymentStatus,
		Version:       event.OrderVersion,
		ChangedAt:     event.ChangedAt,
	}
}

func decodeUpdate(payload []byte) (Update, error) {
	var update Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return Update{}, fmt.Errorf("decode feed update: %w", err)
	}
	if update.OrderID == uuid.Nil {
		return Update{}, errors.New("feed update missing order id")
	}
	return update, nil
}

type channelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Publisher pushes updates onto the feed channel.
type Publisher struct {
	client  channelPublisher
	channel string
}

func NewPublisher(client channelPublisher, channel string) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("feed publisher client required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("feed channel required")
	}
	return &Publisher{client: client, channel: channel}, nil
}

// Publish encodes update and sends it to every API instance.
func (p *Publisher) Publish(ctx context.Context, update Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode feed update: %w", err)
	}
	return p.client.Publish(ctx, p.channel, payload)
}
