// Package projectconfig loads the per-project review settings file: a
// small nested YAML document (review.enabled, review.granularity,
// review.execution_mode, review.reviewer_pool) separate from the broker's
// own process config.
package projectconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Granularity controls whether reviews are opened per-task or per-plan.
type Granularity string

const (
	GranularityPerTask Granularity = "per_task"
	GranularityPerPlan Granularity = "per_plan"
)

// ExecutionMode controls whether the outer workflow blocks on a review's
// outcome or proceeds optimistically.
type ExecutionMode string

const (
	ExecutionModeBlocking  ExecutionMode = "blocking"
	ExecutionModeOptimistic ExecutionMode = "optimistic"
)

// Review is the review.* subsection of the project config file.
type Review struct {
	Enabled      bool          `yaml:"enabled"`
	Granularity  Granularity   `yaml:"granularity"`
	ExecutionMode ExecutionMode `yaml:"execution_mode"`
	ReviewerPool map[string]any `yaml:"reviewer_pool"`
}

// ProjectConfig is the root document.
type ProjectConfig struct {
	ReviewConfig Review `yaml:"review"`
}

// Default returns the configuration a project has if no file is present:
// review enabled, per-task granularity, blocking execution.
func Default() *ProjectConfig {
	return &ProjectConfig{
		ReviewConfig: Review{
			Enabled:       true,
			Granularity:   GranularityPerTask,
			ExecutionMode: ExecutionModeBlocking,
		},
	}
}

// Load reads and parses path. A missing file is not an error: Default is
// returned instead, since a project may not have opted into review
// configuration yet.
func Load(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read project config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse project config: %w", err)
	}
	return cfg, nil
}
