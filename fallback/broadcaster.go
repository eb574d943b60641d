package fallback

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/match"
	"github.com/c360/intentstream/message"
	"github.com/c360/intentstream/metric"
)

// Bus subjects of the fallback protocol.
const (
	// SubjectRegister and SubjectDeregister carry handler lifecycle
	// announcements with a skill_id and optional priority in the data.
	SubjectRegister   = "skills.fallback.register"
	SubjectDeregister = "skills.fallback.deregister"

	// SubjectPing is the discovery broadcast; willing handlers answer on
	// SubjectPong with skill_id and can_handle.
	SubjectPing = "skills.fallback.ping"
	SubjectPong = "skills.fallback.pong"

	// SubjectLegacy is the single-handler compatibility broadcast. Whichever
	// legacy handler claims the utterance answers on SubjectLegacyResponse.
	SubjectLegacy         = "skills.fallback"
	SubjectLegacyResponse = "skills.fallback.response"
)

// pollInterval is how often discovery re-checks whether every expected
// handler has answered its ping.
const pollInterval = 20 * time.Millisecond

// RequestSubject returns the direct attempt subject for a handler.
func RequestSubject(skillID string) string {
	return "skills.fallback." + skillID + ".request"
}

// ResponseSubject returns the reply subject for a handler's direct attempt.
func ResponseSubject(skillID string) string {
	return "skills.fallback." + skillID + ".response"
}

// Broadcaster runs the band protocol: discover willing in-band handlers,
// attempt them one at a time in priority order, then fall through to the
// legacy single-handler broadcast.
type Broadcaster struct {
	bus      busclient.Bus
	registry *Registry

	discoveryTimeout time.Duration
	handlerTimeout   time.Duration
	legacyTimeout    time.Duration

	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewBroadcaster wires a broadcaster over the bus and registry with the
// configured protocol deadlines.
func NewBroadcaster(
	bus busclient.Bus, registry *Registry, cfg config.FallbackConfig,
	logger *slog.Logger, metrics *metric.Metrics,
) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		bus:              bus,
		registry:         registry,
		discoveryTimeout: cfg.DiscoveryTimeout.Std(),
		handlerTimeout:   cfg.HandlerTimeout.Std(),
		legacyTimeout:    cfg.LegacyTimeout.Std(),
		logger:           logger,
		metrics:          metrics,
	}
}

// Matcher adapts one band to the capability contract the router stages use.
func (b *Broadcaster) Matcher(band Band) match.Matcher {
	return match.MatcherFunc(func(
		ctx context.Context, utterances []string, lang string, msg *message.Message,
	) (*match.Match, error) {
		return b.AttemptBand(ctx, band, utterances, lang, msg)
	})
}

// AttemptBand tries every willing handler whose priority falls inside band,
// best priority first, stopping at the first one that reports handled. When
// none does, the legacy broadcast gets one shot. A nil match means the band
// declined; the error return exists to satisfy the capability contract and
// is always nil, because a failed band is a decline, not a routing error.
func (b *Broadcaster) AttemptBand(
	ctx context.Context, band Band, utterances []string, lang string, msg *message.Message,
) (*match.Match, error) {
	candidates := b.candidates(band)

	if len(candidates) > 0 {
		willing := b.collectWilling(ctx, band, candidates, utterances, msg)
		for _, reg := range willing {
			if b.attemptHandler(ctx, band, reg, utterances, lang, msg) {
				b.logger.Info("fallback handled",
					"skill_id", reg.SkillID, "priority", reg.Priority, "band", band.String())
				return match.NewFallback(), nil
			}
		}
	}

	if b.attemptLegacy(ctx, band, utterances, lang, msg) {
		b.logger.Info("fallback handled by legacy handler", "band", band.String())
		return match.NewFallback(), nil
	}

	return nil, nil
}

// candidates returns the policy-permitted in-band registrations sorted by
// priority. The sort is stable over the registry's arrival order, so equal
// priorities are attempted in registration order.
func (b *Broadcaster) candidates(band Band) []Registration {
	var in []Registration
	for _, reg := range b.registry.InBand(band) {
		if !b.registry.Allowed(reg.SkillID) {
			b.logger.Debug("fallback handler blocked by policy", "skill_id", reg.SkillID)
			continue
		}
		in = append(in, reg)
	}
	sort.SliceStable(in, func(i, j int) bool {
		return in[i].Priority < in[j].Priority
	})
	return in
}

// collectWilling pings the bus and waits until every in-band candidate has
// answered or the discovery deadline passes, polling between deliveries.
// Only candidates that answered with can_handle true are returned, in the
// order candidates arrived in.
func (b *Broadcaster) collectWilling(
	ctx context.Context, band Band, candidates []Registration, utterances []string, msg *message.Message,
) []Registration {
	started := time.Now()

	expected := make(map[string]bool, len(candidates))
	for _, reg := range candidates {
		expected[reg.SkillID] = true
	}

	correlationID := uuid.New().String()

	var mu sync.Mutex
	answered := make(map[string]bool, len(candidates))

	sub, err := b.bus.Subscribe(SubjectPong, func(pong *message.Message) {
		if cid := pong.ContextString(message.KeyCorrelationID); cid != "" && cid != correlationID {
			return
		}
		skillID := pong.DataString("skill_id")
		if skillID == "" || !expected[skillID] {
			return // out-of-band or unknown handlers never extend the wait
		}
		canHandle, _ := pong.Data["can_handle"].(bool)
		mu.Lock()
		answered[skillID] = canHandle
		mu.Unlock()
	})
	if err != nil {
		b.logger.Warn("fallback discovery subscribe failed", "error", err)
		return nil
	}
	defer sub.Unsubscribe() //nolint:errcheck // call-scoped interest

	ping := msg.Reply(SubjectPing, map[string]any{
		"utterances": utterances,
		"band":       band.Bounds(),
	})
	ping.Context[message.KeyCorrelationID] = correlationID
	if err := b.bus.Publish(ctx, ping); err != nil {
		b.logger.Warn("fallback discovery ping failed", "error", err)
		return nil
	}

	deadline := time.NewTimer(b.discoveryTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

wait:
	for {
		mu.Lock()
		done := len(answered) == len(expected)
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	b.metrics.RecordFallbackDiscovery(band.String(), time.Since(started))

	mu.Lock()
	defer mu.Unlock()
	var willing []Registration
	for _, reg := range candidates {
		if answered[reg.SkillID] {
			willing = append(willing, reg)
		}
	}
	b.logger.Debug("fallback discovery complete", "band", band.String(),
		"candidates", len(candidates), "answered", len(answered), "willing", len(willing),
		"elapsed", time.Since(started))
	return willing
}

// attemptHandler sends one handler its direct request and reports whether it
// handled the utterance. Timeouts, error replies and explicit declines all
// come back false.
func (b *Broadcaster) attemptHandler(
	ctx context.Context, band Band, reg Registration, utterances []string, lang string, msg *message.Message,
) bool {
	data := map[string]any{
		"skill_id":   reg.SkillID,
		"utterances": utterances,
		"lang":       lang,
	}
	if len(utterances) > 0 {
		data["utterance"] = utterances[0]
	}
	request := msg.Reply(RequestSubject(reg.SkillID), data)
	request.Context[message.KeyCorrelationID] = uuid.New().String()

	reply, err := busclient.WaitForResponse(
		ctx, b.bus, request, ResponseSubject(reg.SkillID), b.handlerTimeout)
	if err != nil {
		b.metrics.RecordFallbackAttempt(band.String(), "timeout")
		b.logger.Warn("fallback attempt got no response",
			"skill_id", reg.SkillID, "error", err)
		return false
	}

	if errStr := reply.DataString("error"); errStr != "" {
		b.metrics.RecordFallbackAttempt(band.String(), "error")
		b.logger.Warn("fallback attempt failed in handler",
			"skill_id", reg.SkillID, "error", errStr)
		return false
	}

	handled, _ := reply.Data["handled"].(bool)
	if handled {
		b.metrics.RecordFallbackAttempt(band.String(), "handled")
		return true
	}
	b.metrics.RecordFallbackAttempt(band.String(), "declined")
	return false
}

// attemptLegacy gives the single-handler compatibility path one shot at the
// band. Legacy handlers share one broadcast subject and decide themselves
// from fallback_range whether they are being addressed; the first (and only)
// claimant answers with handled true.
func (b *Broadcaster) attemptLegacy(
	ctx context.Context, band Band, utterances []string, lang string, msg *message.Message,
) bool {
	data := map[string]any{
		"lang":           lang,
		"fallback_range": band.Bounds(),
	}
	if len(utterances) > 0 {
		data["utterance"] = utterances[0]
	}
	request := msg.Reply(SubjectLegacy, data)
	request.Context[message.KeyCorrelationID] = uuid.New().String()

	reply, err := busclient.WaitForResponse(
		ctx, b.bus, request, SubjectLegacyResponse, b.legacyTimeout)
	if err != nil {
		b.metrics.RecordFallbackAttempt(band.String(), "legacy_timeout")
		b.logger.Debug("no legacy fallback response", "band", band.String())
		return false
	}

	handled, _ := reply.Data["handled"].(bool)
	if handled {
		b.metrics.RecordFallbackAttempt(band.String(), "legacy_handled")
		return true
	}
	b.metrics.RecordFallbackAttempt(band.String(), "legacy_declined")
	return false
}
