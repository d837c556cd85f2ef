package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/services"
)

func TestPubSubEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "request-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	msg := services.RequestEventMessage{
		RequestID:  "REQ-1",
		Type:       domain.RequestTypeSpecialOrder,
		Action:     domain.EventStatusChange,
		FromStatus: domain.StatusNew,
		ToStatus:   domain.StatusOrdered,
		ActorID:    "staff-1",
		Fields:     map[string]string{"order_number": "12345"},
		OccurredAt: occurredAt,
	}

	if err := publisher.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.RequestEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.RequestID != msg.RequestID || payload.ToStatus != msg.ToStatus {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["action"]; attr != string(domain.EventStatusChange) {
		t.Fatalf("expected action attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["requestType"]; attr != string(domain.RequestTypeSpecialOrder) {
		t.Fatalf("expected requestType attribute, got %q", attr)
	}
}
