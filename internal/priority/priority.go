// Package priority implements the pure mapping from agent identity to a
// review's fixed priority tier.
package priority

import (
	"strings"

	"github.com/gsd-project/review-broker/internal/store"
)

// Infer computes priority from (agentType, phase, task). It is called once
// at review creation; the result is frozen across revisions.
func Infer(agentType, phase, task string) store.Priority {
	if strings.Contains(strings.ToLower(agentType), "planner") {
		return store.PriorityCritical
	}
	if strings.Contains(strings.ToLower(phase), "verify") || strings.Contains(strings.ToLower(task), "verification") {
		return store.PriorityLow
	}
	return store.PriorityNormal
}
