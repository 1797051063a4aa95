package priority

import (
	"testing"

	"github.com/gsd-project/review-broker/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		name      string
		agentType string
		phase     string
		task      string
		expected  store.Priority
	}{
		{"planner type wins", "gsd-planner", "4", "2", store.PriorityCritical},
		{"case insensitive planner", "GSD-PLANNER", "4", "2", store.PriorityCritical},
		{"verify phase", "gsd-executor", "verify", "2", store.PriorityLow},
		{"verification task", "gsd-executor", "4", "final-verification", store.PriorityLow},
		{"planner beats verify", "gsd-planner", "verify", "2", store.PriorityCritical},
		{"default normal", "gsd-executor", "4", "2", store.PriorityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Infer(tt.agentType, tt.phase, tt.task))
		})
	}
}
