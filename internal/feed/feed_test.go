package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

type capturePublisher struct {
	channel string
	payload []byte
}

func (c *capturePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	c.channel = channel
	c.payload = payload
	return nil
}

func sampleUpdate(orderID uuid.UUID) Update {
	return FromStatusChange(payloads.OrderStatusChangedEvent{
		OrderID:         orderID,
		OrderNumber:     "ORD-20260401-AAAAAA",
		Action:          enums.AuditActionPaymentOutcomeApplied,
		FromStatus:      enums.OrderStatusPending,
		ToStatus:        enums.OrderStatusProcessing,
		ToPaymentStatus: enums.PaymentStatusPaid,
		OrderVersion:    2,
		ChangedAt:       time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	})
}

func TestPublisherRoundTripsThroughHub(t *testing.T) {
	capture := &capturePublisher{}
	pub, err := NewPublisher(capture, "order-status")
	require.NoError(t, err)

	orderID := uuid.New()
	require.NoError(t, pub.Publish(context.Background(), sampleUpdate(orderID)))
	assert.Equal(t, "order-status", capture.channel)

	hub := NewHub(nil)
	sub := hub.Subscribe(nil)
	defer sub.Close()
	hub.dispatch(context.Background(), capture.payload)

	select {
	case got := <-sub.C:
		assert.Equal(t, orderID, got.OrderID)
		assert.Equal(t, enums.OrderStatusProcessing, got.Status)
		assert.Equal(t, enums.PaymentStatusPaid, got.PaymentStatus)
		assert.Equal(t, 2, got.Version)
	default:
		t.Fatalf("expected update to be delivered")
	}
}

func TestHubFiltersByOrder(t *testing.T) {
	hub := NewHub(nil)
	mine := uuid.New()
	sub := hub.Subscribe(ForOrder(mine))
	all := hub.Subscribe(nil)

	hub.Broadcast(context.Background(), sampleUpdate(uuid.New()))
	hub.Broadcast(context.Background(), sampleUpdate(mine))

	got := <-sub.C
	assert.Equal(t, mine, got.OrderID)
	assert.Len(t, sub.C, 0)
	assert.Len(t, all.C, 2)

	sub.Close()
	all.Close()
	assert.Equal(t, 0, hub.Subscribers())
	_, open := <-sub.C
	assert.False(t, open)
}

func TestHubDropsForLaggingSubscriber(t *testing.T) {
	hub := NewHub(nil)
	slow := hub.Subscribe(nil)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Broadcast(context.Background(), sampleUpdate(uuid.New()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a full subscriber")
	}
	assert.Len(t, slow.C, subscriberBuffer)
}

func TestHubIgnoresMalformedMessages(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(nil)
	defer sub.Close()

	hub.dispatch(context.Background(), []byte("not json"))
	hub.dispatch(context.Background(), []byte(`{"status":"paid"}`))
	assert.Len(t, sub.C, 0)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(nil)
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestStreamWritesEvents(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(nil)
	orderID := uuid.New()
	hub.Broadcast(context.Background(), sampleUpdate(orderID))
	sub.Close()

	rec := httptest.NewRecorder()
	require.NoError(t, Stream(context.Background(), rec, sub, time.Minute))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, ": connected\n\n"))
	assert.Contains(t, body, "event: order_status\n")
	assert.Contains(t, body, "id: "+orderID.String()+":2\n")
	assert.Contains(t, body, `"payment_status":"paid"`)
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(nil)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	require.NoError(t, Stream(ctx, rec, sub, time.Minute))
	assert.NotContains(t, rec.Body.String(), "event:")
}
