package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/intentstream/config"
)

func TestRegistry_DefaultPriority(t *testing.T) {
	r := NewRegistry(config.FallbackConfig{}, nil, nil)

	r.Register("skill-a", 0)
	r.Register("skill-b", -3)
	r.Register("skill-c", 150)

	for _, id := range []string{"skill-a", "skill-b", "skill-c"} {
		p, ok := r.Priority(id)
		assert.True(t, ok)
		assert.Equal(t, config.DefaultPriority, p, id)
	}
}

func TestRegistry_OverrideWins(t *testing.T) {
	cfg := config.FallbackConfig{Priorities: map[string]int{"skill-a": 3}}
	r := NewRegistry(cfg, nil, nil)

	// Reported priority loses to the static override no matter what it is.
	r.Register("skill-a", 77)
	p, _ := r.Priority("skill-a")
	assert.Equal(t, 3, p)

	// Re-registration cannot escape the override either.
	r.Register("skill-a", 95)
	p, _ = r.Priority("skill-a")
	assert.Equal(t, 3, p)
}

func TestRegistry_ReRegisterKeepsArrivalOrder(t *testing.T) {
	r := NewRegistry(config.FallbackConfig{}, nil, nil)

	r.Register("skill-a", 10)
	r.Register("skill-b", 10)
	r.Register("skill-a", 20) // priority updated, position kept

	snapshot := r.Snapshot()
	assert.Equal(t, []Registration{
		{SkillID: "skill-a", Priority: 20},
		{SkillID: "skill-b", Priority: 10},
	}, snapshot)
}

func TestRegistry_DeregisterIdempotent(t *testing.T) {
	r := NewRegistry(config.FallbackConfig{}, nil, nil)

	r.Register("skill-a", 10)
	assert.Equal(t, 1, r.Len())

	r.Deregister("skill-a")
	assert.Equal(t, 0, r.Len())

	assert.NotPanics(t, func() {
		r.Deregister("skill-a")
		r.Deregister("never-registered")
	})
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_EmptySkillIDIgnored(t *testing.T) {
	r := NewRegistry(config.FallbackConfig{}, nil, nil)
	r.Register("", 10)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_InBand(t *testing.T) {
	r := NewRegistry(config.FallbackConfig{}, nil, nil)

	r.Register("skill-high", 3)
	r.Register("skill-boundary", 5) // 5 is still high: bands are (start, stop]
	r.Register("skill-medium", 50)
	r.Register("skill-default", 0) // lands at 101, the low band

	assert.Equal(t, []Registration{
		{SkillID: "skill-high", Priority: 3},
		{SkillID: "skill-boundary", Priority: 5},
	}, r.InBand(HighBand))
	assert.Equal(t, []Registration{
		{SkillID: "skill-medium", Priority: 50},
	}, r.InBand(MediumBand))
	assert.Equal(t, []Registration{
		{SkillID: "skill-default", Priority: 101},
	}, r.InBand(LowBand))
}

func TestRegistry_Allowed(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.FallbackConfig
		skillID string
		want    bool
	}{
		{"accept all", config.FallbackConfig{Mode: config.ModeAcceptAll}, "anything", true},
		{"empty mode accepts all", config.FallbackConfig{}, "anything", true},
		{
			"blacklisted",
			config.FallbackConfig{Mode: config.ModeBlacklist, Blacklist: []string{"bad-skill"}},
			"bad-skill", false,
		},
		{
			"not blacklisted",
			config.FallbackConfig{Mode: config.ModeBlacklist, Blacklist: []string{"bad-skill"}},
			"good-skill", true,
		},
		{
			"whitelisted",
			config.FallbackConfig{Mode: config.ModeWhitelist, Whitelist: []string{"good-skill"}},
			"good-skill", true,
		},
		{
			"not whitelisted",
			config.FallbackConfig{Mode: config.ModeWhitelist, Whitelist: []string{"good-skill"}},
			"other-skill", false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.cfg, nil, nil)
			assert.Equal(t, tt.want, r.Allowed(tt.skillID))
		})
	}
}

func TestRegistry_BlockedHandlerStaysRegistered(t *testing.T) {
	cfg := config.FallbackConfig{Mode: config.ModeBlacklist, Blacklist: []string{"bad-skill"}}
	r := NewRegistry(cfg, nil, nil)

	r.Register("bad-skill", 10)
	assert.Equal(t, 1, r.Len())
	assert.False(t, r.Allowed("bad-skill"))
}
