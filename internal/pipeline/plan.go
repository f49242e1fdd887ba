package pipeline

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autodev/internal/errors"
	"github.com/Iron-Ham/autodev/internal/scheduler"
)

// Plan is a task graph described in YAML.
//
//	name: shop
//	output_dir: out
//	defaults:
//	  max_retries: 2
//	  timeout: 30s
//	steps:
//	  - id: frontend
//	    kind: artifact
//	    params: {path: index.html}
//	  - id: tests
//	    kind: noop
//	    depends_on: [frontend]
type Plan struct {
	Name string `yaml:"name"`
	// OutputDir is where artifact steps write files, one subdirectory per
	// agent. Empty means artifacts are recorded without writing files.
	OutputDir string     `yaml:"output_dir,omitempty"`
	Defaults  StepLimits `yaml:"defaults,omitempty"`
	Steps     []Step     `yaml:"steps"`
}

// Step is one work unit of a plan.
type Step struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name,omitempty"`
	Kind      string         `yaml:"kind"`
	Agent     string         `yaml:"agent,omitempty"` // Defaults to ID
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`

	StepLimits `yaml:",inline"`
}

// StepLimits are optional retry and timeout overrides. Unset fields inherit
// from the level above: step from plan defaults, plan defaults from the
// orchestrator. An explicit max_retries of 0 disables retries and an
// explicit timeout of 0 disables the deadline.
type StepLimits struct {
	MaxRetries  *int           `yaml:"max_retries,omitempty"`
	Timeout     *time.Duration `yaml:"timeout,omitempty"`
	BaseBackoff time.Duration  `yaml:"base_backoff,omitempty"`
	MaxBackoff  time.Duration  `yaml:"max_backoff,omitempty"`
}

// AgentName returns the agent the step records artifacts under.
func (s *Step) AgentName() string {
	if s.Agent != "" {
		return s.Agent
	}
	return s.ID
}

// LoadPlan reads and parses a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// ParsePlan parses and validates a YAML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, errors.NewValidationError("malformed plan").WithCause(err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks the plan's own structure. Dependency references and
// cycles are checked by the scheduler when the plan runs.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return errors.NewValidationError("plan has no steps").WithField("steps")
	}
	if err := p.Defaults.validate("defaults"); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Steps))
	for i, step := range p.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(step.ID) == "" {
			return errors.NewValidationError("step id cannot be empty").WithField(field + ".id")
		}
		if seen[step.ID] {
			return errors.NewValidationError("duplicate step id").
				WithField(field + ".id").WithValue(step.ID).WithCause(errors.ErrDuplicateUnit)
		}
		seen[step.ID] = true
		if strings.TrimSpace(step.Kind) == "" {
			return errors.NewValidationError("step kind cannot be empty").
				WithField(field + ".kind").WithValue(step.ID)
		}
		if err := step.StepLimits.validate(field); err != nil {
			return err
		}
	}
	return nil
}

func (l StepLimits) validate(field string) error {
	if l.MaxRetries != nil && *l.MaxRetries < 0 {
		return errors.NewValidationError("max_retries must be non-negative").
			WithField(field + ".max_retries").WithValue(*l.MaxRetries)
	}
	if l.Timeout != nil && *l.Timeout < 0 {
		return errors.NewValidationError("timeout must be non-negative").
			WithField(field + ".timeout").WithValue(l.Timeout.String())
	}
	if l.BaseBackoff < 0 {
		return errors.NewValidationError("base_backoff must be non-negative").
			WithField(field + ".base_backoff").WithValue(l.BaseBackoff.String())
	}
	if l.MaxBackoff < 0 {
		return errors.NewValidationError("max_backoff must be non-negative").
			WithField(field + ".max_backoff").WithValue(l.MaxBackoff.String())
	}
	return nil
}

// over returns base with the fields set in l replacing it.
func (l StepLimits) over(base scheduler.Limits) scheduler.Limits {
	if l.MaxRetries != nil {
		base.MaxRetries = *l.MaxRetries
	}
	if l.Timeout != nil {
		base.Timeout = *l.Timeout
	}
	if l.BaseBackoff > 0 {
		base.BaseBackoff = l.BaseBackoff
	}
	if l.MaxBackoff > 0 {
		base.MaxBackoff = l.MaxBackoff
	}
	return base
}

// apply copies the overrides into spec using the scheduler's conventions
// for zero and negative values.
func (l StepLimits) apply(spec *scheduler.UnitSpec) {
	if l.MaxRetries != nil {
		spec.MaxRetries = *l.MaxRetries
		if spec.MaxRetries == 0 {
			spec.MaxRetries = scheduler.NoRetries
		}
	}
	if l.Timeout != nil {
		spec.Timeout = *l.Timeout
		if spec.Timeout == 0 {
			spec.Timeout = -1
		}
	}
	spec.BaseBackoff = l.BaseBackoff
	spec.MaxBackoff = l.MaxBackoff
}

// Encode renders the plan as YAML.
func (p *Plan) Encode() ([]byte, error) {
	return yaml.Marshal(p)
}
