package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"attendpay/internal/calendar"
)

func TestRecomputeRoundTrip(t *testing.T) {
	month := calendar.MonthKey{Year: 2024, Month: time.July}
	msg := Recompute(month)
	if msg.Type != TypePayrollRecompute {
		t.Fatalf("type = %q", msg.Type)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var back Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	got, err := RecomputeMonth(back)
	if err != nil {
		t.Fatal(err)
	}
	if got != month {
		t.Errorf("month = %v, want %v", got, month)
	}
}

func TestRecomputeMonthRejects(t *testing.T) {
	cases := []Message{
		{Type: "other", Body: json.RawMessage(`{"year":2024,"month":7}`)},
		{Type: TypePayrollRecompute, Body: json.RawMessage(`{"year":2024,"month":13}`)},
		{Type: TypePayrollRecompute, Body: json.RawMessage(`not json`)},
	}
	for _, msg := range cases {
		if _, err := RecomputeMonth(msg); err == nil {
			t.Errorf("accepted %s %s", msg.Type, msg.Body)
		}
	}
}

func TestInMemoryDelivers(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := Recompute(calendar.MonthKey{Year: 2025, Month: time.January})
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatal(err)
	}
	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
			t.Errorf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected message after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed after cancel")
	}
}

func TestRedisConsumeStopsDuringBackoff(t *testing.T) {
	// Nothing listens on port 1, so every pop fails.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	q := NewRedisQueue(client, "attendpay:test", zap.NewNop())
	q.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-messages:
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer kept sleeping after cancel")
	}
}
