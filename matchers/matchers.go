// Package matchers adapts the external matching capabilities (statistical,
// keyword, question-answering) to the capability contract. Each one is a
// separate process reached over the bus: a query goes out on its configured
// subject and the decoded reply becomes a Match or a decline.
package matchers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/match"
	"github.com/c360/intentstream/message"
)

// ReplySubject derives the reply subject for a matcher endpoint: a trailing
// ".get" token becomes ".reply", any other subject gets ".reply" appended.
func ReplySubject(subject string) string {
	if trimmed, ok := strings.CutSuffix(subject, ".get"); ok {
		return trimmed + ".reply"
	}
	return subject + ".reply"
}

// Remote is one bus-backed matching capability.
type Remote struct {
	bus     busclient.Bus
	service string
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// NewStatistical builds the adapter for the statistical (confidence-scored)
// matcher. Its confidence tiers come from AtConfidence.
func NewStatistical(bus busclient.Bus, endpoint config.MatcherEndpoint, logger *slog.Logger) *Remote {
	return newRemote(bus, match.ServiceStatistical, endpoint, logger)
}

// NewKeyword builds the adapter for the keyword/grammar matcher.
func NewKeyword(bus busclient.Bus, endpoint config.MatcherEndpoint, logger *slog.Logger) *Remote {
	return newRemote(bus, match.ServiceKeyword, endpoint, logger)
}

// NewQA builds the adapter for the question-answering aggregator.
func NewQA(bus busclient.Bus, endpoint config.MatcherEndpoint, logger *slog.Logger) *Remote {
	return newRemote(bus, match.ServiceQA, endpoint, logger)
}

func newRemote(bus busclient.Bus, service string, endpoint config.MatcherEndpoint, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		bus:     bus,
		service: service,
		subject: endpoint.Subject,
		timeout: endpoint.Timeout.Std(),
		logger:  logger,
	}
}

// wireReply is the decoded matcher response: a null match means decline.
type wireReply struct {
	Match      *wireMatch `json:"match"`
	Confidence float64    `json:"confidence"`
}

type wireMatch struct {
	IntentType string         `json:"intent_type"`
	IntentData map[string]any `json:"intent_data"`
	SkillID    string         `json:"skill_id"`
}

// Attempt implements the capability contract: query the remote matcher and
// return its match, or nil when it declines.
func (r *Remote) Attempt(
	ctx context.Context, utterances []string, lang string, msg *message.Message,
) (*match.Match, error) {
	reply, err := r.query(ctx, utterances, lang, msg)
	if err != nil {
		return nil, err
	}
	return r.toMatch(reply), nil
}

// AtConfidence returns a matcher that accepts the remote's match only above
// the given confidence. The statistical stages run the same capability at
// descending thresholds.
func (r *Remote) AtConfidence(min float64) match.Matcher {
	return match.MatcherFunc(func(
		ctx context.Context, utterances []string, lang string, msg *message.Message,
	) (*match.Match, error) {
		reply, err := r.query(ctx, utterances, lang, msg)
		if err != nil {
			return nil, err
		}
		if reply.Match == nil {
			return nil, nil
		}
		if reply.Confidence <= min {
			r.logger.Debug("match below confidence threshold",
				"service", r.service, "confidence", reply.Confidence, "threshold", min)
			return nil, nil
		}
		return r.toMatch(reply), nil
	})
}

func (r *Remote) query(
	ctx context.Context, utterances []string, lang string, msg *message.Message,
) (*wireReply, error) {
	request := msg.Reply(r.subject, map[string]any{
		"utterances": utterances,
		"lang":       lang,
	})
	request.Context[message.KeyCorrelationID] = uuid.New().String()

	resp, err := busclient.WaitForResponse(
		ctx, r.bus, request, ReplySubject(r.subject), r.timeout)
	if err != nil {
		return nil, errors.WrapTransient(err, "matchers", "query", "await "+r.service+" reply")
	}

	// The reply data is a generic map off the wire; round-trip it through
	// JSON into the typed form.
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "matchers", "query", "re-encode reply data")
	}
	var reply wireReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, errors.WrapInvalid(err, "matchers", "query", "decode "+r.service+" reply")
	}
	return &reply, nil
}

func (r *Remote) toMatch(reply *wireReply) *match.Match {
	if reply.Match == nil {
		return nil
	}
	data := reply.Match.IntentData
	if data == nil {
		data = map[string]any{}
	}
	return &match.Match{
		Service:    r.service,
		IntentType: reply.Match.IntentType,
		IntentData: data,
		SkillID:    reply.Match.SkillID,
	}
}
