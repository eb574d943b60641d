package matchers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/match"
	"github.com/c360/intentstream/message"
)

func testEndpoint(subject string) config.MatcherEndpoint {
	return config.MatcherEndpoint{
		Subject: subject,
		Timeout: config.Duration(200 * time.Millisecond),
	}
}

// serveMatcher answers queries on subject with a fixed reply payload.
func serveMatcher(t *testing.T, bus busclient.Bus, subject string, reply map[string]any) {
	t.Helper()
	_, err := bus.Subscribe(subject, func(msg *message.Message) {
		resp := msg.Reply(ReplySubject(subject), reply)
		_ = bus.Publish(context.Background(), resp)
	})
	require.NoError(t, err)
}

func newUtteranceMsg() *message.Message {
	return message.New("recognizer.utterance", map[string]any{
		"utterances": []string{"set a timer for five minutes"},
	})
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "intent.service.keyword.reply", ReplySubject("intent.service.keyword.get"))
	assert.Equal(t, "custom.matcher.reply", ReplySubject("custom.matcher"))
}

func TestRemote_AttemptMatch(t *testing.T) {
	bus := busclient.NewTestBus()
	serveMatcher(t, bus, "intent.service.keyword.get", map[string]any{
		"match": map[string]any{
			"intent_type": "skill-timer.set",
			"intent_data": map[string]any{"duration": "five minutes"},
			"skill_id":    "skill-timer",
		},
		"confidence": 1.0,
	})

	r := NewKeyword(bus, testEndpoint("intent.service.keyword.get"), nil)
	msg := newUtteranceMsg()
	m, err := r.Attempt(context.Background(), msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, match.ServiceKeyword, m.Service)
	assert.Equal(t, "skill-timer.set", m.IntentType)
	assert.Equal(t, "skill-timer", m.SkillID)
	assert.Equal(t, "five minutes", m.IntentData["duration"])
}

func TestRemote_AttemptDecline(t *testing.T) {
	bus := busclient.NewTestBus()
	serveMatcher(t, bus, "intent.service.qa.get", map[string]any{
		"match":      nil,
		"confidence": 0.0,
	})

	r := NewQA(bus, testEndpoint("intent.service.qa.get"), nil)
	msg := newUtteranceMsg()
	m, err := r.Attempt(context.Background(), msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRemote_AttemptTimeout(t *testing.T) {
	bus := busclient.NewTestBus()
	// No responder on the bus.

	r := NewKeyword(bus, testEndpoint("intent.service.keyword.get"), nil)
	msg := newUtteranceMsg()
	m, err := r.Attempt(context.Background(), msg.Utterances(), "en-us", msg)
	require.Error(t, err)
	assert.Nil(t, m)
}

func TestRemote_AtConfidence(t *testing.T) {
	bus := busclient.NewTestBus()
	serveMatcher(t, bus, "intent.service.statistical.get", map[string]any{
		"match": map[string]any{
			"intent_type": "skill-weather.forecast",
			"skill_id":    "skill-weather",
		},
		"confidence": 0.85,
	})

	r := NewStatistical(bus, testEndpoint("intent.service.statistical.get"), nil)
	msg := newUtteranceMsg()
	ctx := context.Background()

	// Above the high tier's bar the match is rejected.
	m, err := r.AtConfidence(0.95).Attempt(ctx, msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	assert.Nil(t, m)

	// The medium tier accepts it.
	m, err = r.AtConfidence(0.80).Attempt(ctx, msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, match.ServiceStatistical, m.Service)
	assert.Equal(t, "skill-weather.forecast", m.IntentType)
	assert.NotNil(t, m.IntentData)
}

func TestRemote_AtConfidenceExactThresholdRejected(t *testing.T) {
	bus := busclient.NewTestBus()
	serveMatcher(t, bus, "intent.service.statistical.get", map[string]any{
		"match":      map[string]any{"intent_type": "x.y", "skill_id": "x"},
		"confidence": 0.95,
	})

	r := NewStatistical(bus, testEndpoint("intent.service.statistical.get"), nil)
	msg := newUtteranceMsg()

	// The threshold is strict: confidence must exceed it, not meet it.
	m, err := r.AtConfidence(0.95).Attempt(context.Background(), msg.Utterances(), "en-us", msg)
	require.NoError(t, err)
	assert.Nil(t, m)
}
