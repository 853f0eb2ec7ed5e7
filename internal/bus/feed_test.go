package bus

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/fraudpipeline/internal/transaction"
)

func testFeedHub() *FeedHub {
	return NewFeedHub(discardLogger())
}

func TestFeedHub_RegisterUnregister(t *testing.T) {
	h := testFeedHub()
	b := New(4, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx, b)
	time.Sleep(50 * time.Millisecond)

	client := &feedClient{hub: h, send: make(chan []byte, 256)}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n != 1 {
		t.Errorf("expected 1 connected client, got %d", n)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	h.mu.RLock()
	n = len(h.clients)
	h.mu.RUnlock()
	if n != 0 {
		t.Errorf("expected 0 connected clients after unregister, got %d", n)
	}
}

func TestFeedHub_BroadcastsPublishedDecisions(t *testing.T) {
	h := testFeedHub()
	b := New(4, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx, b)
	time.Sleep(50 * time.Millisecond)

	client := &feedClient{hub: h, send: make(chan []byte, 256)}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	err := PublishDecision(context.Background(), b, transaction.Decision{
		TransactionID: "tx1",
		UserID:        "u1",
		Decision:      transaction.Block,
		Score:         90,
	})
	if err != nil {
		t.Fatalf("PublishDecision: %v", err)
	}

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision broadcast")
	}
}

func TestFeedHub_ContextCancellationStopsHub(t *testing.T) {
	h := testFeedHub()
	b := New(4, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx, b)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("feed hub did not stop after context cancellation")
	}
}
