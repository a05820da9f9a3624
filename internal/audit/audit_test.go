package audit_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bouclier/residence-access/internal/audit"
	"github.com/bouclier/residence-access/pkg/events"
)

type fakeSubscriber struct {
	subject string
	queue   string
	handler func(msg *events.Message)
}

func (f *fakeSubscriber) Subscribe(subject string, handler func(msg *events.Message)) error {
	f.subject = subject
	f.handler = handler
	return nil
}

func (f *fakeSubscriber) QueueSubscribe(subject, queue string, handler func(msg *events.Message)) error {
	f.subject = subject
	f.queue = queue
	f.handler = handler
	return nil
}

func (f *fakeSubscriber) Close() error { return nil }

func TestRegister_SubscribesToRedemptions(t *testing.T) {
	bus := &fakeSubscriber{}
	if err := audit.Register(bus); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	if bus.subject != events.VisitorRedeemed {
		t.Fatalf("expected subscription to %s, got %s", events.VisitorRedeemed, bus.subject)
	}
	if bus.queue == "" {
		t.Fatal("expected a queue subscription so replicas share the log")
	}
	if bus.handler == nil {
		t.Fatal("expected a handler")
	}

	// A well-formed event and a malformed payload are both handled without
	// panicking; the handler only logs.
	payload, _ := json.Marshal(events.VisitorRedeemedEvent{
		AccessID:   "access-1",
		GroupID:    "group-1",
		BuildingID: "bld-1",
		RedeemedBy: "guard-1",
		RedeemedAt: time.Now().UTC(),
	})
	bus.handler(&events.Message{Subject: events.VisitorRedeemed, Data: payload})
	bus.handler(&events.Message{Subject: events.VisitorRedeemed, Data: []byte("not json")})
}
