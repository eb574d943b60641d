package fallback

import (
	"log/slog"
	"sync"

	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/metric"
)

// Registration is one handler's entry in the registry.
type Registration struct {
	SkillID  string
	Priority int
}

// Registry maps handler ids to priorities. It is the only state shared
// across concurrent routing calls; a single exclusive lock guards it and is
// held only for the duration of one read or mutation, never across a
// network round-trip.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64

	overrides map[string]int
	mode      string
	blacklist map[string]struct{}
	whitelist map[string]struct{}

	logger  *slog.Logger
	metrics *metric.Metrics
}

type entry struct {
	priority int
	seq      uint64 // arrival order, stable across re-registration
}

// NewRegistry creates a registry with the static configuration's priority
// overrides and access policy.
func NewRegistry(cfg config.FallbackConfig, logger *slog.Logger, metrics *metric.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = config.ModeAcceptAll
	}
	return &Registry{
		entries:   make(map[string]*entry),
		overrides: cfg.Priorities,
		mode:      mode,
		blacklist: toSet(cfg.Blacklist),
		whitelist: toSet(cfg.Whitelist),
		logger:    logger,
		metrics:   metrics,
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Register records a handler with the given self-reported priority. A
// priority outside 1..100 (including the zero value of an omitted field)
// becomes the default 101. A static override for the id always wins,
// regardless of registration order. Re-registering overwrites the priority
// but keeps the handler's original arrival position.
func (r *Registry) Register(skillID string, priority int) {
	if skillID == "" {
		return
	}

	if priority < 1 || priority > 100 {
		priority = config.DefaultPriority
	}

	if override, ok := r.overrides[skillID]; ok {
		r.logger.Info("forcing fallback priority from static override",
			"skill_id", skillID, "reported", priority, "forced", override)
		priority = override
	}

	r.mu.Lock()
	if existing, ok := r.entries[skillID]; ok {
		existing.priority = priority
	} else {
		r.nextSeq++
		r.entries[skillID] = &entry{priority: priority, seq: r.nextSeq}
	}
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetRegisteredHandlers(count)
	r.logger.Debug("fallback handler registered", "skill_id", skillID, "priority", priority)
}

// Deregister removes a handler. Removing an absent id is a no-op.
func (r *Registry) Deregister(skillID string) {
	r.mu.Lock()
	_, existed := r.entries[skillID]
	delete(r.entries, skillID)
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetRegisteredHandlers(count)
	if existed {
		r.logger.Debug("fallback handler deregistered", "skill_id", skillID)
	}
}

// Len returns the current handler count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Priority returns a handler's effective priority.
func (r *Registry) Priority(skillID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[skillID]
	if !ok {
		return 0, false
	}
	return e.priority, true
}

// Snapshot returns the registrations in arrival order. The broadcaster
// sorts a snapshot by priority with a stable sort, so equal priorities keep
// their registration order.
func (r *Registry) Snapshot() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Registration, 0, len(r.entries))
	// collect then order by seq
	type seqEntry struct {
		reg Registration
		seq uint64
	}
	ordered := make([]seqEntry, 0, len(r.entries))
	for id, e := range r.entries {
		ordered = append(ordered, seqEntry{Registration{SkillID: id, Priority: e.priority}, e.seq})
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].seq > ordered[j].seq; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	for _, se := range ordered {
		snapshot = append(snapshot, se.reg)
	}
	return snapshot
}

// InBand returns the registrations whose priority falls inside band, in
// arrival order.
func (r *Registry) InBand(band Band) []Registration {
	var in []Registration
	for _, reg := range r.Snapshot() {
		if band.Contains(reg.Priority) {
			in = append(in, reg)
		}
	}
	return in
}

// Allowed reports whether the access policy permits attempting this id.
// The policy is independent of priority: a blacklisted handler stays
// registered but is never invoked.
func (r *Registry) Allowed(skillID string) bool {
	switch r.mode {
	case config.ModeBlacklist:
		_, listed := r.blacklist[skillID]
		return !listed
	case config.ModeWhitelist:
		_, listed := r.whitelist[skillID]
		return listed
	default:
		return true
	}
}
