package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "demo"}
	if got := c.topicResourceName("settlement-order-events"); got != "projects/demo/topics/settlement-order-events" {
		t.Fatalf("unexpected resource name %s", got)
	}
	full := "projects/other/topics/x"
	if got := c.topicResourceName(full); got != full {
		t.Fatalf("full names should pass through, got %s", got)
	}
	if got := c.topicResourceName("  "); got != "" {
		t.Fatalf("blank topic should resolve to empty, got %s", got)
	}
	if got := (&Client{}).topicResourceName("x"); got != "" {
		t.Fatalf("missing project should resolve to empty, got %s", got)
	}
}

func TestNewClientValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{OrdersTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); err != errTopicRequired {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatal("nil client should not hand out publishers")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
