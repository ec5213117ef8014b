package sse

import (
	"testing"

	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewHub(log)
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	userID := uuid.New()
	client := h.NewClient(userID)
	other := h.NewClient(uuid.New())
	h.Subscribe(client, UserChannel(userID))
	h.Subscribe(other, UserChannel(other.UserID))

	h.Broadcast(Message{Channel: UserChannel(userID), Event: EventNotification, Data: "hello"})

	select {
	case msg := <-client.Outbound:
		if msg.Event != EventNotification || msg.Data != "hello" {
			t.Fatalf("message: got=%+v", msg)
		}
	default:
		t.Fatalf("subscribed client received nothing")
	}
	select {
	case msg := <-other.Outbound:
		t.Fatalf("unrelated client received %+v", msg)
	default:
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	userID := uuid.New()
	client := h.NewClient(userID)
	h.Subscribe(client, UserChannel(userID))

	// One more than the outbound buffer; the overflow must not block.
	for i := 0; i < cap(client.Outbound)+1; i++ {
		h.Broadcast(Message{Channel: UserChannel(userID), Event: EventUnreadCount, Data: i})
	}

	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered messages: got=%d want=%d", got, cap(client.Outbound))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	userID := uuid.New()
	client := h.NewClient(userID)
	h.Subscribe(client, UserChannel(userID))
	h.Unsubscribe(client, UserChannel(userID))

	h.Broadcast(Message{Channel: UserChannel(userID), Event: EventNotification})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("unsubscribed client received %+v", msg)
	default:
	}
}

func TestRemoveClientClearsAllChannels(t *testing.T) {
	t.Parallel()
	h := testHub(t)
	client := h.NewClient(uuid.New())
	h.Subscribe(client, UserChannel(client.UserID))
	h.Subscribe(client, "broadcast:all")

	h.RemoveClient(client)

	if len(client.Channels) != 0 {
		t.Fatalf("channels after removal: got=%v", client.Channels)
	}
	h.Broadcast(Message{Channel: "broadcast:all", Event: EventNotification})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("removed client received %+v", msg)
	default:
	}
}
