// Package service wires the routing core to the bus: it owns the standing
// subscriptions for utterances, handler lifecycle, activation requests and
// the query endpoints, and manages their start/stop lifecycle.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/converse"
	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/fallback"
	"github.com/c360/intentstream/message"
	"github.com/c360/intentstream/router"
)

// Standing subjects the service listens on.
const (
	// SubjectUtterance carries recognized speech into the router.
	SubjectUtterance = "recognizer.utterance"
	// SubjectUnknown signals unrecognizable speech; active conversations get
	// a reset offer.
	SubjectUnknown = "recognizer.unknown"

	// SubjectIntentGet answers "which intent would this match" on
	// SubjectIntentReply without invoking anything.
	SubjectIntentGet   = "intent.service.intent.get"
	SubjectIntentReply = "intent.service.intent.reply"

	// SubjectActiveSkillsGet answers with the active-skill list on
	// SubjectActiveSkillsReply.
	SubjectActiveSkillsGet   = "intent.service.active_skills.get"
	SubjectActiveSkillsReply = "intent.service.active_skills.reply"
)

// IntentService is the bus-facing face of the routing core.
type IntentService struct {
	bus      busclient.Bus
	router   *router.Router
	registry *fallback.Registry
	converse *converse.Service
	cfg      *config.Config
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	subs    []busclient.Subscription
}

// New assembles the service around an already-built router and its parts.
func New(
	bus busclient.Bus,
	rt *router.Router,
	registry *fallback.Registry,
	conv *converse.Service,
	cfg *config.Config,
	logger *slog.Logger,
) *IntentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentService{
		bus:      bus,
		router:   rt,
		registry: registry,
		converse: conv,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start installs every standing subscription. Calling it on a started
// service returns ErrAlreadyStarted.
func (s *IntentService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Wrap(errors.ErrAlreadyStarted, "IntentService", "Start", "already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, binding := range []struct {
		subject string
		handler busclient.Handler
	}{
		{SubjectUtterance, s.onUtterance},
		{SubjectUnknown, s.onUnknown},
		{fallback.SubjectRegister, s.onRegister},
		{fallback.SubjectDeregister, s.onDeregister},
		{converse.SubjectActivate, s.onActivate},
		{converse.SubjectDeactivate, s.onDeactivate},
		{SubjectIntentGet, s.onIntentGet},
		{SubjectActiveSkillsGet, s.onActiveSkillsGet},
	} {
		sub, err := s.bus.Subscribe(binding.subject, binding.handler)
		if err != nil {
			s.teardownLocked()
			return errors.Wrap(err, "IntentService", "Start", "subscribe "+binding.subject)
		}
		s.subs = append(s.subs, sub)
	}

	s.started = true
	s.logger.Info("intent service started", "lang", s.cfg.Lang)
	return nil
}

// Stop releases every subscription. Calling it on a stopped service returns
// ErrNotStarted.
func (s *IntentService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.Wrap(errors.ErrNotStarted, "IntentService", "Stop", "not started")
	}

	s.teardownLocked()
	s.started = false
	s.logger.Info("intent service stopped")
	return nil
}

func (s *IntentService) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed during teardown", "error", err)
		}
	}
	s.subs = nil
}

func (s *IntentService) onUtterance(msg *message.Message) {
	m, _, elapsed := s.router.Route(s.ctx, msg)
	if m == nil {
		s.logger.Debug("utterance exhausted all stages", "elapsed", elapsed)
	}
}

func (s *IntentService) onUnknown(msg *message.Message) {
	lang := msg.Lang(s.cfg.Lang)
	s.converse.Reset(s.ctx, lang, msg)
}

func (s *IntentService) onRegister(msg *message.Message) {
	skillID := msg.DataString("skill_id")
	if skillID == "" {
		s.logger.Warn("fallback registration without skill_id dropped")
		return
	}
	s.registry.Register(skillID, dataInt(msg, "priority"))
}

func (s *IntentService) onDeregister(msg *message.Message) {
	s.registry.Deregister(msg.DataString("skill_id"))
}

func (s *IntentService) onActivate(msg *message.Message) {
	target := msg.DataString("skill_id")
	requester := msg.ContextString(message.KeySkillID)
	if err := s.converse.ActivateRequested(target, requester); err != nil {
		s.logger.Warn("activation request rejected",
			"target", target, "requester", requester, "error", err)
		return
	}
	s.announce(msg, converse.SubjectActivated, target)
}

func (s *IntentService) onDeactivate(msg *message.Message) {
	target := msg.DataString("skill_id")
	requester := msg.ContextString(message.KeySkillID)
	if err := s.converse.DeactivateRequested(target, requester); err != nil {
		s.logger.Warn("deactivation request rejected",
			"target", target, "requester", requester, "error", err)
		return
	}
	s.announce(msg, converse.SubjectDeactivated, target)
}

func (s *IntentService) announce(msg *message.Message, subject, skillID string) {
	event := msg.Reply(subject, map[string]any{"skill_id": skillID})
	if err := s.bus.Publish(s.ctx, event); err != nil {
		s.logger.Warn("activation announcement failed", "subject", subject, "error", err)
	}
}

func (s *IntentService) onIntentGet(msg *message.Message) {
	m := s.router.Preview(s.ctx, msg)

	data := map[string]any{"match": nil}
	if m != nil {
		data["match"] = m
	}
	reply := msg.Reply(SubjectIntentReply, data)
	if err := s.bus.Publish(s.ctx, reply); err != nil {
		s.logger.Warn("intent query reply failed", "error", err)
	}
}

func (s *IntentService) onActiveSkillsGet(msg *message.Message) {
	reply := msg.Reply(SubjectActiveSkillsReply, map[string]any{
		"skills": s.converse.ActiveSkills(),
	})
	if err := s.bus.Publish(s.ctx, reply); err != nil {
		s.logger.Warn("active skills reply failed", "error", err)
	}
}

// dataInt reads an integer data field that may arrive as a JSON number or a
// Go int.
func dataInt(msg *message.Message, key string) int {
	switch v := msg.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
