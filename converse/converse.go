// Package converse tracks which skills hold an active conversation and gives
// them first refusal on every new utterance. Activation is session state, not
// configuration: it lives in memory and is discarded on restart.
package converse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/match"
	"github.com/c360/intentstream/message"
)

// Bus subjects of the activation and converse protocol.
const (
	// SubjectActivate and SubjectDeactivate carry activation requests from
	// skills. The requesting skill's identity rides in the message context.
	SubjectActivate   = "intent.skills.activate"
	SubjectDeactivate = "intent.skills.deactivate"

	// SubjectActivated and SubjectDeactivated announce state changes.
	SubjectActivated   = "intent.skills.activated"
	SubjectDeactivated = "intent.skills.deactivated"
)

// RequestSubject returns the converse offer subject for a skill.
func RequestSubject(skillID string) string {
	return "skills." + skillID + ".converse.request"
}

// ResponseSubject returns the reply subject for a skill's converse offer.
func ResponseSubject(skillID string) string {
	return "skills." + skillID + ".converse.response"
}

// Service holds the active-skill list and offers utterances to it. The list
// is ordered most recently activated first, which is the order converse
// offers go out in.
type Service struct {
	bus     busclient.Bus
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	active []activeSkill
}

type activeSkill struct {
	skillID     string
	activatedAt time.Time
}

// New creates the converse service.
func New(bus busclient.Bus, cfg config.ConverseConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		bus:     bus,
		timeout: cfg.Timeout.Std(),
		logger:  logger,
	}
}

// Activate puts a skill at the front of the active list. Re-activating moves
// it back to the front and refreshes its timestamp.
func (s *Service) Activate(skillID string) {
	if skillID == "" {
		return
	}
	s.mu.Lock()
	s.removeLocked(skillID)
	s.active = append([]activeSkill{{skillID: skillID, activatedAt: time.Now()}}, s.active...)
	s.mu.Unlock()

	s.logger.Debug("skill activated", "skill_id", skillID)
}

// Deactivate removes a skill from the active list. Absent ids are a no-op.
func (s *Service) Deactivate(skillID string) {
	s.mu.Lock()
	removed := s.removeLocked(skillID)
	s.mu.Unlock()

	if removed {
		s.logger.Debug("skill deactivated", "skill_id", skillID)
	}
}

func (s *Service) removeLocked(skillID string) bool {
	for i, a := range s.active {
		if a.skillID == skillID {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return true
		}
	}
	return false
}

// ActiveSkills returns the active ids, most recently activated first.
func (s *Service) ActiveSkills() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.active))
	for i, a := range s.active {
		ids[i] = a.skillID
	}
	return ids
}

// IsActive reports whether a skill currently holds a conversation.
func (s *Service) IsActive(skillID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.active {
		if a.skillID == skillID {
			return true
		}
	}
	return false
}

// ActivateRequested handles an activation request arriving over the bus.
// Only the skill itself may change its own activation state: the requester
// id attributed in the message context must equal the target. The router
// activating a match winner calls Activate directly and is not subject to
// this check.
func (s *Service) ActivateRequested(targetID, requesterID string) error {
	if err := checkAuthority(targetID, requesterID); err != nil {
		return err
	}
	s.Activate(targetID)
	return nil
}

// DeactivateRequested handles a deactivation request arriving over the bus,
// under the same authority rule as ActivateRequested.
func (s *Service) DeactivateRequested(targetID, requesterID string) error {
	if err := checkAuthority(targetID, requesterID); err != nil {
		return err
	}
	s.Deactivate(targetID)
	return nil
}

func checkAuthority(targetID, requesterID string) error {
	if targetID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Converse", "checkAuthority", "empty target skill id")
	}
	if requesterID != targetID {
		return errors.WrapInvalid(
			fmt.Errorf("skill %q may not change activation of %q: %w",
				requesterID, targetID, errors.ErrNotAuthorized),
			"Converse", "checkAuthority", "authority check")
	}
	return nil
}

// Attempt offers the utterance to every active skill, most recently active
// first, and returns a match for the first one that claims it. It implements
// the capability contract; a nil match means no active skill wanted the
// utterance. Skills that time out or answer with anything but handled true
// are passed over.
func (s *Service) Attempt(
	ctx context.Context, utterances []string, lang string, msg *message.Message,
) (*match.Match, error) {
	for _, skillID := range s.ActiveSkills() {
		if s.offer(ctx, skillID, utterances, lang, msg) {
			s.logger.Info("utterance claimed in conversation", "skill_id", skillID)
			return &match.Match{Service: match.ServiceConverse, SkillID: skillID}, nil
		}
	}
	return nil, nil
}

// Reset tells every active skill the user said something unrecognizable, by
// offering an empty utterance list. Skills use it to wind down or re-prompt.
// No skill can claim a reset; replies are not awaited.
func (s *Service) Reset(ctx context.Context, lang string, msg *message.Message) {
	for _, skillID := range s.ActiveSkills() {
		request := msg.Reply(RequestSubject(skillID), map[string]any{
			"skill_id":   skillID,
			"utterances": []string{},
			"lang":       lang,
		})
		request.Context[message.KeyCorrelationID] = uuid.New().String()
		if err := s.bus.Publish(ctx, request); err != nil {
			s.logger.Warn("converse reset publish failed", "skill_id", skillID, "error", err)
		}
	}
}

func (s *Service) offer(
	ctx context.Context, skillID string, utterances []string, lang string, msg *message.Message,
) bool {
	request := msg.Reply(RequestSubject(skillID), map[string]any{
		"skill_id":   skillID,
		"utterances": utterances,
		"lang":       lang,
	})
	request.Context[message.KeyCorrelationID] = uuid.New().String()

	reply, err := busclient.WaitForResponse(
		ctx, s.bus, request, ResponseSubject(skillID), s.timeout)
	if err != nil {
		s.logger.Debug("converse offer got no response", "skill_id", skillID, "error", err)
		return false
	}

	handled, _ := reply.Data["handled"].(bool)
	return handled
}
