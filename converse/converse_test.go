package converse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/match"
	"github.com/c360/intentstream/message"
)

func testConverseConfig() config.ConverseConfig {
	return config.ConverseConfig{Timeout: config.Duration(200 * time.Millisecond)}
}

// serveConverse wires a fake skill that answers converse offers. Offered
// utterance lists are recorded so tests can inspect order and content.
func serveConverse(
	t *testing.T, bus busclient.Bus, id string, handled bool, offers *offerLog,
) {
	t.Helper()
	_, err := bus.Subscribe(RequestSubject(id), func(msg *message.Message) {
		if offers != nil {
			offers.add(id, msg.Utterances())
		}
		resp := msg.Reply(ResponseSubject(id), map[string]any{"handled": handled})
		_ = bus.Publish(context.Background(), resp)
	})
	require.NoError(t, err)
}

type offerLog struct {
	mu      sync.Mutex
	entries []offerEntry
}

type offerEntry struct {
	skillID    string
	utterances []string
}

func (l *offerLog) add(id string, utterances []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, offerEntry{skillID: id, utterances: utterances})
}

func (l *offerLog) skillIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, len(l.entries))
	for i, e := range l.entries {
		ids[i] = e.skillID
	}
	return ids
}

func newUtteranceMsg() *message.Message {
	return message.New("recognizer.utterance", map[string]any{
		"utterances": []string{"and what about tomorrow"},
	})
}

func TestService_ActivationOrder(t *testing.T) {
	s := New(busclient.NewTestBus(), testConverseConfig(), nil)

	s.Activate("skill-weather")
	s.Activate("skill-timer")
	assert.Equal(t, []string{"skill-timer", "skill-weather"}, s.ActiveSkills())

	// Re-activation moves a skill back to the front.
	s.Activate("skill-weather")
	assert.Equal(t, []string{"skill-weather", "skill-timer"}, s.ActiveSkills())
}

func TestService_Deactivate(t *testing.T) {
	s := New(busclient.NewTestBus(), testConverseConfig(), nil)

	s.Activate("skill-weather")
	s.Deactivate("skill-weather")
	assert.Empty(t, s.ActiveSkills())
	assert.False(t, s.IsActive("skill-weather"))

	assert.NotPanics(t, func() {
		s.Deactivate("skill-weather")
		s.Deactivate("never-active")
	})
}

func TestService_AuthorityCheck(t *testing.T) {
	s := New(busclient.NewTestBus(), testConverseConfig(), nil)

	// A skill may activate itself.
	require.NoError(t, s.ActivateRequested("skill-weather", "skill-weather"))
	assert.True(t, s.IsActive("skill-weather"))

	// Nobody may activate or deactivate somebody else.
	err := s.ActivateRequested("skill-timer", "skill-weather")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotAuthorized)
	assert.False(t, s.IsActive("skill-timer"))

	err = s.DeactivateRequested("skill-weather", "skill-timer")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotAuthorized)
	assert.True(t, s.IsActive("skill-weather"))

	require.NoError(t, s.DeactivateRequested("skill-weather", "skill-weather"))
	assert.False(t, s.IsActive("skill-weather"))
}

func TestService_AttemptMostRecentFirst(t *testing.T) {
	bus := busclient.NewTestBus()
	s := New(bus, testConverseConfig(), nil)

	offers := &offerLog{}
	serveConverse(t, bus, "skill-older", true, offers)
	serveConverse(t, bus, "skill-newer", false, offers)

	s.Activate("skill-older")
	s.Activate("skill-newer")

	msg := newUtteranceMsg()
	m, err := s.Attempt(context.Background(), msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	require.NotNil(t, m)

	// The newer activation was offered first; it declined, so the older one
	// got the utterance and claimed it.
	assert.Equal(t, []string{"skill-newer", "skill-older"}, offers.skillIDs())
	assert.Equal(t, match.ServiceConverse, m.Service)
	assert.Equal(t, "skill-older", m.SkillID)
}

func TestService_AttemptNoActiveSkills(t *testing.T) {
	s := New(busclient.NewTestBus(), testConverseConfig(), nil)

	msg := newUtteranceMsg()
	m, err := s.Attempt(context.Background(), msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestService_AttemptSilentSkillPassedOver(t *testing.T) {
	bus := busclient.NewTestBus()
	s := New(bus, testConverseConfig(), nil)

	offers := &offerLog{}
	serveConverse(t, bus, "skill-responsive", true, offers)
	// skill-silent has no responder on the bus.

	s.Activate("skill-responsive")
	s.Activate("skill-silent")

	msg := newUtteranceMsg()
	started := time.Now()
	m, err := s.Attempt(context.Background(), msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "skill-responsive", m.SkillID)
	assert.Less(t, time.Since(started), time.Second)
}

func TestService_Reset(t *testing.T) {
	bus := busclient.NewTestBus()
	s := New(bus, testConverseConfig(), nil)

	offers := &offerLog{}
	serveConverse(t, bus, "skill-weather", true, offers)
	s.Activate("skill-weather")

	msg := message.New("recognizer.unknown", map[string]any{})
	s.Reset(context.Background(), "en-us", msg)

	// Delivery is asynchronous on the in-memory bus.
	assert.Eventually(t, func() bool {
		offers.mu.Lock()
		defer offers.mu.Unlock()
		return len(offers.entries) == 1 && len(offers.entries[0].utterances) == 0
	}, time.Second, 10*time.Millisecond)

	// A reset can never claim the utterance: nothing is awaited and the
	// active list is untouched.
	assert.Equal(t, []string{"skill-weather"}, s.ActiveSkills())
}
