package busclient

import (
	"context"
	"sync"

	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/message"
)

// TestBus is an in-memory Bus for unit tests: no server, no sockets.
// Publish delivers asynchronously on fresh goroutines, matching NATS
// delivery semantics closely enough for protocol tests.
type TestBus struct {
	mu   sync.Mutex
	subs map[string][]*testSubscription
	next int
}

// NewTestBus creates an empty in-memory bus.
func NewTestBus() *TestBus {
	return &TestBus{subs: make(map[string][]*testSubscription)}
}

// Publish delivers msg to every current subscriber of its type. Each
// handler runs on its own goroutine.
func (b *TestBus) Publish(_ context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	// Deep-copy through the wire format so subscribers never share maps
	// with the publisher, same as a real bus round trip.
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[msg.Type]))
	for _, sub := range b.subs[msg.Type] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		delivered, err := message.Decode(data)
		if err != nil {
			return err
		}
		go handler(delivered)
	}
	return nil
}

// Subscribe registers handler for subject.
func (b *TestBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	if !message.IsValidSubject(subject) {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "TestBus", "Subscribe", "subject validation")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &testSubscription{bus: b, subject: subject, id: b.next, handler: handler}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

// SubscriberCount reports current subscriptions on a subject. Tests use it
// to verify scoped subscriptions are released.
func (b *TestBus) SubscriberCount(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[subject])
}

type testSubscription struct {
	bus     *TestBus
	subject string
	id      int
	handler Handler
}

func (s *testSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
