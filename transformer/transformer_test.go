package transformer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/intentstream/message"
)

type stubUtterance struct {
	name string
	fn   func([]string, map[string]any) ([]string, map[string]any, error)
}

func (s *stubUtterance) Name() string { return s.name }
func (s *stubUtterance) Transform(u []string, c map[string]any) ([]string, map[string]any, error) {
	return s.fn(u, c)
}

type stubMetadata struct {
	name string
	fn   func(map[string]any) (map[string]any, error)
}

func (s *stubMetadata) Name() string { return s.name }
func (s *stubMetadata) Transform(c map[string]any) (map[string]any, error) {
	return s.fn(c)
}

func newUtteranceMsg(utterances ...string) *message.Message {
	return message.New("recognizer.utterance", map[string]any{"utterances": utterances})
}

func TestChain_RewritesUtterances(t *testing.T) {
	chain := NewChain(nil)
	chain.AddUtterance(&stubUtterance{
		name: "normalizer",
		fn: func(u []string, c map[string]any) ([]string, map[string]any, error) {
			return []string{"normalized " + u[0]}, c, nil
		},
	})

	msg := newUtteranceMsg("TURN ON the light")
	chain.Apply(msg)

	assert.Equal(t, []string{"normalized TURN ON the light"}, msg.Utterances())
}

func TestChain_TagsContext(t *testing.T) {
	chain := NewChain(nil)
	chain.AddUtterance(&stubUtterance{
		name: "lang-detector",
		fn: func(u []string, c map[string]any) ([]string, map[string]any, error) {
			c[message.KeyDetectedLang] = "pt-pt"
			return u, c, nil
		},
	})
	chain.AddMetadata(&stubMetadata{
		name: "session-tagger",
		fn: func(c map[string]any) (map[string]any, error) {
			c["session"] = "s42"
			return c, nil
		},
	})

	msg := newUtteranceMsg("bom dia")
	chain.Apply(msg)

	assert.Equal(t, "pt-pt", msg.Context[message.KeyDetectedLang])
	assert.Equal(t, "s42", msg.Context["session"])
}

func TestChain_FailingTransformerIsSkipped(t *testing.T) {
	chain := NewChain(nil)
	chain.AddUtterance(&stubUtterance{
		name: "broken",
		fn: func(u []string, c map[string]any) ([]string, map[string]any, error) {
			return nil, nil, errors.New("plugin crashed")
		},
	})
	chain.AddUtterance(&stubUtterance{
		name: "suffixer",
		fn: func(u []string, c map[string]any) ([]string, map[string]any, error) {
			return []string{u[0] + "!"}, c, nil
		},
	})
	chain.AddMetadata(&stubMetadata{
		name: "also-broken",
		fn: func(c map[string]any) (map[string]any, error) {
			return nil, errors.New("nope")
		},
	})

	msg := newUtteranceMsg("hello")
	chain.Apply(msg)

	// broken transformer skipped, later one still ran
	assert.Equal(t, []string{"hello!"}, msg.Utterances())
}

func TestChain_Empty(t *testing.T) {
	chain := NewChain(nil)
	msg := newUtteranceMsg("unchanged")
	chain.Apply(msg)
	assert.Equal(t, []string{"unchanged"}, msg.Utterances())
}
