package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"mamabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestBus_PublishAndSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{MessageID: "m1", SenderID: "s1", Content: "hello"})

	select {
	case msg := <-b.Subscribe():
		if msg.MessageID != "m1" {
			t.Errorf("expected m1, got %s", msg.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestBus_Outbound(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	var count int32
	b.OnOutbound(func(msg domain.OutboundMessage) {
		atomic.AddInt32(&count, 1)
	})

	b.SendOutbound(domain.OutboundMessage{RecipientID: "254700000000", Content: "hi"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 outbound delivery, got %d", count)
	}
}

func TestBus_OutboundWithoutHandler(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	// Must not panic.
	b.SendOutbound(domain.OutboundMessage{RecipientID: "x", Content: "dropped"})
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()

	// Must not panic on a closed bus.
	b.Publish(domain.InboundMessage{MessageID: "m2"})
}
