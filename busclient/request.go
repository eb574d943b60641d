package busclient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/message"
)

// WaitForResponse publishes msg and blocks until a reply arrives on
// replyType, the timeout expires, or ctx is cancelled. The reply is matched
// through a correlation id placed in the request context: responders that
// build their reply with message.Reply echo it back automatically. Replies
// without any correlation id are accepted too, which is what keeps the
// legacy single-handler protocol working.
//
// The reply interest is a call-local subscription released on every exit
// path, so concurrent waits never cross-deliver. Only the calling goroutine
// blocks.
func WaitForResponse(
	ctx context.Context, bus Bus, msg *message.Message, replyType string, timeout time.Duration,
) (*message.Message, error) {
	correlationID, ok := msg.Context[message.KeyCorrelationID].(string)
	if !ok || correlationID == "" {
		correlationID = uuid.New().String()
		msg.Context[message.KeyCorrelationID] = correlationID
	}

	// Buffered so a late delivery never blocks the bus callback.
	future := make(chan *message.Message, 1)

	sub, err := bus.Subscribe(replyType, func(reply *message.Message) {
		if cid, ok := reply.Context[message.KeyCorrelationID].(string); ok && cid != "" && cid != correlationID {
			return // somebody else's reply
		}
		select {
		case future <- reply:
		default:
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "busclient", "WaitForResponse", "subscribe reply subject")
	}
	defer sub.Unsubscribe() //nolint:errcheck // release on every exit path

	if err := bus.Publish(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "busclient", "WaitForResponse", "publish request")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-future:
		return reply, nil
	case <-timer.C:
		return nil, errors.WrapTransient(errors.ErrResponseTimeout, "busclient", "WaitForResponse", "await "+replyType)
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "busclient", "WaitForResponse", "await "+replyType)
	}
}
