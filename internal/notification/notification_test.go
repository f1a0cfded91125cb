package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type failing struct{ calls int }

func (f *failing) Send(context.Context, Message) error {
	f.calls++
	return errors.New("boom")
}

func TestRedisOutboxCapsList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	outbox := NewRedisOutbox(client, 2)
	for _, dest := range []string{"alice", "bob", "carol"} {
		if err := outbox.Send(context.Background(), Message{Kind: KindTransferCreated, Destination: dest}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	items, err := mr.List(OutboxKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 queued, got %d", len(items))
	}
	var last outboxEntry
	if err := json.Unmarshal([]byte(items[1]), &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Destination != "carol" || last.Kind != KindTransferCreated {
		t.Fatalf("unexpected entry %+v", last)
	}
}

func TestFanoutDeliversToAll(t *testing.T) {
	bad := &failing{}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := Fanout{bad, nil, NewRedisOutbox(client, 0), NewLoggerNotifier(nil)}
	if err := f.Send(context.Background(), Message{Kind: KindTransferSent, Destination: "xavier"}); err == nil {
		t.Fatal("expected first error to surface")
	}
	if bad.calls != 1 {
		t.Fatalf("expected failing notifier called once, got %d", bad.calls)
	}
	if items, _ := mr.List(OutboxKey); len(items) != 1 {
		t.Fatalf("later notifiers must still receive the message, got %d", len(items))
	}
}
