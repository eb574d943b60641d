// Package router runs the ordered attempt sequence that routes one utterance
// to exactly one handler. Stages are tried strictly in order and the first
// match wins; capability errors and panics degrade to a decline for that
// stage only, so a broken capability costs its slot, never the pipeline.
package router

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/converse"
	"github.com/c360/intentstream/fallback"
	"github.com/c360/intentstream/match"
	"github.com/c360/intentstream/matchers"
	"github.com/c360/intentstream/message"
	"github.com/c360/intentstream/metric"
	"github.com/c360/intentstream/transformer"
)

// SubjectIntentFailure carries the terminal no-match signal. Exactly one is
// emitted per exhausted routing call.
const SubjectIntentFailure = "intent.failure"

// Statistical confidence tiers. Thresholds are strict lower bounds.
const (
	HighConfidence   = 0.95
	MediumConfidence = 0.80
	LowConfidence    = 0.50
)

// Stage pairs a capability with the name it is logged and measured under.
type Stage struct {
	Name    string
	Matcher match.Matcher
}

// Deps bundles everything the router needs.
type Deps struct {
	Bus          busclient.Bus
	Config       *config.Config
	Converse     *converse.Service
	Fallback     *fallback.Broadcaster
	Statistical  *matchers.Remote
	Keyword      *matchers.Remote
	QA           *matchers.Remote
	Transformers *transformer.Chain
	Logger       *slog.Logger
	Metrics      *metric.Metrics
}

// Router holds the fixed stage sequence. It is stateless across calls:
// everything per-utterance lives on the call stack.
type Router struct {
	bus         busclient.Bus
	converse    *converse.Service
	chain       *transformer.Chain
	stages      []Stage
	preview     []Stage
	validLangs  map[string]struct{}
	defaultLang string
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// New builds the router with the canonical stage order: conversation first
// refusal, then matchers interleaved with the three fallback bands at
// descending confidence.
func New(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chain := deps.Transformers
	if chain == nil {
		chain = transformer.NewChain(logger)
	}

	statHigh := deps.Statistical.AtConfidence(HighConfidence)
	statMedium := deps.Statistical.AtConfidence(MediumConfidence)
	statLow := deps.Statistical.AtConfidence(LowConfidence)

	stages := []Stage{
		{"converse", deps.Converse},
		{"statistical-high", statHigh},
		{"keyword", deps.Keyword},
		{"qa", deps.QA},
		{"fallback-high", deps.Fallback.Matcher(fallback.HighBand)},
		{"statistical-medium", statMedium},
		{"fallback-medium", deps.Fallback.Matcher(fallback.MediumBand)},
		{"statistical-low", statLow},
		{"fallback-low", deps.Fallback.Matcher(fallback.LowBand)},
	}

	// Preview skips every stage with side effects: conversations, fallback
	// handlers and the QA aggregator all do work when offered an utterance.
	preview := []Stage{
		{"statistical-high", statHigh},
		{"keyword", deps.Keyword},
		{"statistical-medium", statMedium},
		{"statistical-low", statLow},
	}

	return &Router{
		bus:         deps.Bus,
		converse:    deps.Converse,
		chain:       chain,
		stages:      stages,
		preview:     preview,
		validLangs:  deps.Config.ValidLangs(),
		defaultLang: deps.Config.Lang,
		logger:      logger,
		metrics:     deps.Metrics,
	}
}

// Route runs the full attempt sequence for one utterance message. It returns
// the winning match (nil when every stage declined), the transformed message
// the stages saw, and the wall-clock time the sequence took. On a match the
// owning skill is activated and, when the match names an intent type, the
// invocation event is emitted; on exhaustion exactly one terminal failure
// signal goes out.
func (r *Router) Route(ctx context.Context, msg *message.Message) (*match.Match, *message.Message, time.Duration) {
	started := time.Now()
	r.metrics.RecordUtterance()

	r.chain.Apply(msg)
	lang := ResolveLanguage(msg, r.validLangs, r.defaultLang, r.logger)
	utterances := msg.Utterances()

	m := r.run(ctx, r.stages, utterances, lang, msg)
	if m != nil {
		r.dispatch(ctx, m, msg)
	} else {
		r.fail(ctx, utterances, lang, msg)
	}

	elapsed := time.Since(started)
	r.metrics.RecordRoutingDuration(elapsed)
	r.logger.Info("routing complete",
		"matched", m != nil, "lang", lang, "elapsed", elapsed)
	return m, msg, elapsed
}

// Preview answers "which intent would this match" without causing anything
// to happen: no conversation offers, no fallback attempts, no activation, no
// events. Only the query-safe stages run.
func (r *Router) Preview(ctx context.Context, msg *message.Message) *match.Match {
	r.chain.Apply(msg)
	lang := ResolveLanguage(msg, r.validLangs, r.defaultLang, r.logger)
	return r.run(ctx, r.preview, msg.Utterances(), lang, msg)
}

func (r *Router) run(
	ctx context.Context, stages []Stage, utterances []string, lang string, msg *message.Message,
) *match.Match {
	for _, stage := range stages {
		m := r.attemptStage(ctx, stage, utterances, lang, msg)
		if m != nil {
			r.metrics.RecordStageWin(stage.Name)
			r.logger.Debug("stage matched", "stage", stage.Name, "service", m.Service)
			return m
		}
	}
	return nil
}

func (r *Router) attemptStage(
	ctx context.Context, stage Stage, utterances []string, lang string, msg *message.Message,
) (m *match.Match) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordStageError(stage.Name)
			r.logger.Error("stage panicked, treating as decline",
				"stage", stage.Name, "panic", rec)
			m = nil
		}
	}()

	r.metrics.RecordStageAttempt(stage.Name)
	got, err := stage.Matcher.Attempt(ctx, utterances, lang, msg)
	if err != nil {
		r.metrics.RecordStageError(stage.Name)
		r.logger.Warn("stage failed, treating as decline",
			"stage", stage.Name, "error", err)
		return nil
	}
	return got
}

// dispatch carries out a match: the owning skill (if reported) enters the
// active set, and a named intent is invoked with the union of the original
// request data and the match data.
func (r *Router) dispatch(ctx context.Context, m *match.Match, msg *message.Message) {
	if m.SkillID != "" {
		r.converse.Activate(m.SkillID)
	}
	if m.IntentType == "" {
		return
	}

	data := maps.Clone(msg.Data)
	if data == nil {
		data = map[string]any{}
	}
	maps.Copy(data, m.IntentData)

	event := msg.Reply(m.IntentType, data)
	if m.SkillID != "" {
		event.Context[message.KeySkillID] = m.SkillID
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Error("intent event publish failed",
			"intent_type", m.IntentType, "error", err)
	}
}

func (r *Router) fail(ctx context.Context, utterances []string, lang string, msg *message.Message) {
	r.metrics.RecordNoMatch()
	failure := msg.Forward(SubjectIntentFailure, map[string]any{
		"utterances": utterances,
		"lang":       lang,
	})
	if err := r.bus.Publish(ctx, failure); err != nil {
		r.logger.Error("intent failure publish failed", "error", err)
	}
	r.logger.Info("no stage matched utterance", "lang", lang)
}
