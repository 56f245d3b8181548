// Package tiers resolves which live analysis tiers a session enables.
package tiers

import (
	"fmt"
	"sort"
	"strings"
)

const (
	TierTranscript  = "transcript"
	TierQuestions   = "questions"
	TierActionItems = "action_items"
	TierSummary     = "summary"
)

var known = map[string]struct{}{
	TierTranscript:  {},
	TierQuestions:   {},
	TierActionItems: {},
	TierSummary:     {},
}

// Resolver holds the validated, deduplicated tier set for a runtime.
type Resolver struct {
	enabled []string
}

// NewResolver validates configured tier names against the known set.
func NewResolver(configured []string) (*Resolver, error) {
	seen := map[string]struct{}{}
	enabled := make([]string, 0, len(configured))
	for _, raw := range configured {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("unknown analysis tier %q (known: %s)", name, strings.Join(Known(), ", "))
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		enabled = append(enabled, name)
	}
	sort.Strings(enabled)
	return &Resolver{enabled: enabled}, nil
}

// EnabledTiers returns the tier names enabled for new sessions.
func (r *Resolver) EnabledTiers() []string {
	out := make([]string, len(r.enabled))
	copy(out, r.enabled)
	return out
}

// Known lists all recognized tier names in sorted order.
func Known() []string {
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
