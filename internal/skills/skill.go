// Package skills defines the capability interface every marketplace skill
// implements, plus the registry that maps skill ids to implementations.
// Adding a skill means registering an implementation; nothing in the runtime
// branches on skill id. Credit cost is an explicit return value of Execute,
// never a conventionally-named output field.
package skills

import (
	"context"
	"sort"
	"sync"

	"skillmarket/backend/internal/fault"
)

// Meta describes a skill implementation.
type Meta struct {
	SkillID       string `json:"skill_id"`
	Version       string `json:"version"`
	Category      string `json:"category"`
	RiskLevel     string `json:"risk_level"`
	Deterministic bool   `json:"deterministic"`
}

// Skill is an opaque capability unit with a declared input contract and an
// explicit credit cost.
type Skill interface {
	Meta() Meta
	// Validate rejects malformed input before execution.
	Validate(input map[string]any) error
	// Execute runs the skill. credits is the cost to charge on success.
	Execute(ctx context.Context, input map[string]any) (output map[string]any, credits int64, err error)
}

// Registry maps skill ids to implementations.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]Skill
}

// NewRegistry creates an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{impls: map[string]Skill{}}
}

// Register adds or replaces an implementation under its own skill id.
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[s.Meta().SkillID] = s
}

// Get returns the implementation for id, or a skill_not_found fault.
func (r *Registry) Get(id string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.impls[id]
	if !ok {
		return nil, fault.New(fault.KindSkillNotFound, "skill not registered: %s", id)
	}
	return s, nil
}

// List returns the metadata of every registered skill, sorted by id.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.impls))
	for _, s := range r.impls {
		out = append(out, s.Meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillID < out[j].SkillID })
	return out
}

// requireText pulls a non-empty "text" string out of input; the shared shape
// of most built-in contracts.
func requireText(input map[string]any) (string, error) {
	v, ok := input["text"]
	if !ok {
		return "", fault.New(fault.KindStepInputInvalid, "missing required field: text")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fault.New(fault.KindStepInputInvalid, "field text must be a non-empty string")
	}
	return s, nil
}

// textCredits estimates cost from input length: one credit per 500 chars,
// minimum one.
func textCredits(text string) int64 {
	c := int64(len(text) / 500)
	if c < 1 {
		c = 1
	}
	return c
}
