package bus

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := New(4, discardLogger())
	msgs, cancel := b.Subscribe(Inbound)
	defer cancel()

	if err := b.Publish(context.Background(), Message{Topic: Inbound, Payload: []byte("hi")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-msgs:
		if string(m.Payload) != "hi" {
			t.Errorf("expected payload 'hi', got %q", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := New(4, discardLogger())
	err := b.Publish(context.Background(), Message{Topic: Outbound, Payload: []byte("x")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestMultipleSubscribersEachGetTheMessage(t *testing.T) {
	b := New(4, discardLogger())
	a, cancelA := b.Subscribe(Outbound)
	defer cancelA()
	c, cancelC := b.Subscribe(Outbound)
	defer cancelC()

	_ = b.Publish(context.Background(), Message{Topic: Outbound, Payload: []byte("fanout")})

	for _, ch := range []<-chan Message{a, c} {
		select {
		case m := <-ch:
			if string(m.Payload) != "fanout" {
				t.Errorf("unexpected payload %q", m.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fanout message")
		}
	}
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := New(1, discardLogger())
	ch, cancel := b.Subscribe(Inbound)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = b.Publish(context.Background(), Message{Topic: Inbound, Payload: []byte("x")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber instead of dropping")
	}
	<-ch // drain the one buffered message so the goroutine's sends don't leak
}

func TestCancelUnsubscribesAndClosesChannel(t *testing.T) {
	b := New(4, discardLogger())
	ch, cancel := b.Subscribe(Inbound)
	if got := b.SubscriberCount(Inbound); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
	cancel()
	if got := b.SubscriberCount(Inbound); got != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", got)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after cancel")
	}
}
