package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Trickybutshruti/Connect-Dev/internal/session"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventSessionStarted, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventSessionEnded, EventPaymentReleased},
	}}

	ended := &Event{Type: EventSessionEnded}
	released := &Event{Type: EventPaymentReleased}
	requested := &Event{Type: EventSessionRequested}

	if !h.shouldSend(client, ended) {
		t.Error("Should receive session_ended events")
	}
	if !h.shouldSend(client, released) {
		t.Error("Should receive payment_released events")
	}
	if h.shouldSend(client, requested) {
		t.Error("Should NOT receive session_requested events")
	}
}

func TestShouldSend_SessionFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		SessionIDs: []string{"sess-1"},
	}}

	matching := &Event{
		Type: EventSessionStarted,
		Data: map[string]interface{}{"sessionId": "sess-1"},
	}
	notMatching := &Event{
		Type: EventSessionStarted,
		Data: map[string]interface{}{"sessionId": "sess-2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on session id")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other sessions")
	}
}

func TestShouldSend_ParticipantFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Participants: []string{"dev-1"},
	}}

	asDeveloper := &Event{
		Type: EventSessionRequested,
		Data: map[string]interface{}{"clientId": "client-9", "developerId": "dev-1"},
	}
	asClient := &Event{
		Type: EventSessionRequested,
		Data: map[string]interface{}{"clientId": "dev-1", "developerId": "dev-2"},
	}
	unrelated := &Event{
		Type: EventSessionRequested,
		Data: map[string]interface{}{"clientId": "client-9", "developerId": "dev-2"},
	}

	if !h.shouldSend(client, asDeveloper) {
		t.Error("Should match on developerId")
	}
	if !h.shouldSend(client, asClient) {
		t.Error("Should match on clientId")
	}
	if h.shouldSend(client, unrelated) {
		t.Error("Should NOT match unrelated sessions")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventSessionStarted}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		SessionIDs: []string{"sess-1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventSessionEnded,
		Data: "string data not a map",
	}

	if h.shouldSend(client, event) {
		t.Error("Session filter cannot match non-map data")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventSessionStarted, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastSessionToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastSession(EventSessionEnded, &session.Session{
		ID:          "sess-1",
		ClientID:    "client-1",
		DeveloperID: "dev-1",
		Status:      session.StatusCompleted,
		EndReason:   session.EndReasonTimeout,
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants payment releases
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventPaymentReleased}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a start event (should be filtered out)
	h.Broadcast(&Event{Type: EventSessionStarted, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive session_started event")
	default:
		// Good - filtered out
	}

	// Send a payment event (should be received)
	h.Broadcast(&Event{Type: EventPaymentReleased, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive payment_released event")
	}
}
