// Package match defines the outcome record of utterance routing and the
// contract every matching capability implements.
package match

import (
	"context"

	"github.com/c360/intentstream/message"
)

// Service names for the built-in capabilities.
const (
	ServiceConverse    = "converse"
	ServiceStatistical = "statistical"
	ServiceKeyword     = "keyword"
	ServiceQA          = "qa"
	ServiceFallback    = "fallback"
)

// Match records which capability claimed an utterance and with what data.
// A nil *Match means "declined". Matches are created transiently inside one
// routing call and discarded after dispatch; they are never cached or
// retried.
type Match struct {
	// Service names the capability that matched (converse, statistical,
	// keyword, qa, fallback).
	Service string `json:"service"`
	// IntentType, when set, is the subject the invocation event is emitted
	// on. Capabilities that dispatch internally (converse, fallback) leave
	// it empty.
	IntentType string `json:"intent_type,omitempty"`
	// IntentData is the opaque data the capability attached to the match.
	IntentData map[string]any `json:"intent_data,omitempty"`
	// SkillID attributes the match to an owning skill, when the capability
	// reports one. The router activates that skill in the session.
	SkillID string `json:"skill_id,omitempty"`
}

// NewFallback builds the match a successful fallback band yields. The
// responding handler's identity is deliberately not surfaced; it already
// handled the utterance itself.
func NewFallback() *Match {
	return &Match{Service: ServiceFallback, IntentData: map[string]any{}}
}

// Matcher is one matching capability: given the transcript variants, the
// resolved language, and the originating message, return a Match or nil to
// decline. Errors are treated by the router as a decline for that stage
// only.
type Matcher interface {
	Attempt(ctx context.Context, utterances []string, lang string, msg *message.Message) (*Match, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, utterances []string, lang string, msg *message.Message) (*Match, error)

// Attempt implements Matcher.
func (f MatcherFunc) Attempt(
	ctx context.Context, utterances []string, lang string, msg *message.Message,
) (*Match, error) {
	return f(ctx, utterances, lang, msg)
}
