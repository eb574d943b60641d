// Package transformer runs the configured chain of utterance and metadata
// transformers over an incoming message before any matching begins.
// Transformers are external capabilities: a failing one is logged and
// skipped, and the pipeline continues with the best data available.
package transformer

import (
	"log/slog"
	"slices"

	"github.com/c360/intentstream/message"
)

// Utterance rewrites transcript variants and may tag the context (for
// example with a detected language).
type Utterance interface {
	Name() string
	Transform(utterances []string, context map[string]any) ([]string, map[string]any, error)
}

// Metadata enriches the context only; transcripts are out of its reach.
type Metadata interface {
	Name() string
	Transform(context map[string]any) (map[string]any, error)
}

// Chain applies utterance transformers, then metadata transformers, in
// registration order.
type Chain struct {
	utterance []Utterance
	metadata  []Metadata
	logger    *slog.Logger
}

// NewChain builds a transformer chain. A nil logger falls back to
// slog.Default().
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger}
}

// AddUtterance appends an utterance transformer to the chain.
func (c *Chain) AddUtterance(t Utterance) {
	c.utterance = append(c.utterance, t)
}

// AddMetadata appends a metadata transformer to the chain.
func (c *Chain) AddMetadata(t Metadata) {
	c.metadata = append(c.metadata, t)
}

// Apply mutates msg in place: transcripts may be rewritten and context keys
// added or overwritten. A single broken transformer never aborts the chain.
func (c *Chain) Apply(msg *message.Message) {
	utterances := msg.Utterances()
	original := slices.Clone(utterances)

	for _, t := range c.utterance {
		transformed, context, err := t.Transform(utterances, msg.Context)
		if err != nil {
			c.logger.Warn("utterance transformer failed, skipping",
				"transformer", t.Name(), "error", err)
			continue
		}
		if transformed != nil {
			utterances = transformed
		}
		if context != nil {
			msg.Context = context
		}
	}

	if !slices.Equal(original, utterances) {
		msg.Data["utterances"] = utterances
		c.logger.Debug("utterances transformed", "original", original, "transformed", utterances)
	}

	for _, t := range c.metadata {
		context, err := t.Transform(msg.Context)
		if err != nil {
			c.logger.Warn("metadata transformer failed, skipping",
				"transformer", t.Name(), "error", err)
			continue
		}
		if context != nil {
			msg.Context = context
		}
	}
}
