// Package busclient provides the message bus client for IntentStream: NATS
// connection management, publish/subscribe on message types, and a
// synchronous request/correlated-response primitive with caller-specified
// timeout.
package busclient

import (
	"context"

	"github.com/c360/intentstream/message"
)

// Handler is invoked for every message delivered on a subscription.
// Handlers run on bus delivery goroutines and must not block indefinitely.
type Handler func(msg *message.Message)

// Subscription is a scoped interest in one subject. Callers own the
// subscription and must release it; broadcast-scoped subscriptions are
// released on every exit path.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the transport contract the routing core depends on. Client
// implements it over NATS; TestBus implements it in-memory for tests.
type Bus interface {
	// Publish emits msg on the subject named by its type.
	Publish(ctx context.Context, msg *message.Message) error
	// Subscribe registers handler for every message on subject.
	Subscribe(subject string, handler Handler) (Subscription, error)
}
