package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(0)
	id1, err := pub.Publish(context.Background(), "notices-refreshed", map[string]int{"fetched": 2})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "other", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "notices-refreshed" || msgs[1].Topic != "other" || msgs[1].ID != "memory-2" {
		t.Fatalf("messages not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherDropsOldest(t *testing.T) {
	t.Parallel()

	pub := New(2)
	for i := 0; i < 5; i++ {
		if _, err := pub.Publish(context.Background(), "t", i); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 retained messages, got %d", len(msgs))
	}
	if msgs[0].Payload != 3 || msgs[1].Payload != 4 {
		t.Fatalf("expected newest payloads 3 and 4, got %+v", msgs)
	}
	if pub.Total() != 5 {
		t.Fatalf("expected total 5, got %d", pub.Total())
	}
}
