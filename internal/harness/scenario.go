package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relance/internal/config"
	"github.com/roach88/relance/internal/ir"
)

// DefaultStart is the fake clock origin when a scenario sets none.
var DefaultStart = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// DefaultAdvance is how far the clock moves before a step that sets none.
const DefaultAdvance = time.Minute

// Step actions.
const (
	ActionReconcile = "reconcile"
	ActionSystem    = "system"
	ActionRepair    = "repair"
	ActionDelete    = "delete"
)

// Scenario defines a sequence of booking mutations and the passes they
// should produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the fake clock origin. Zero means DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Config overrides the default configuration. It is decoded with the
	// same strict rules as a configuration file.
	Config yaml.Node `yaml:"config,omitempty"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`
}

// Step is one mutation followed by one action.
type Step struct {
	Name string `yaml:"name"`

	// Advance moves the clock before the step ("0s" keeps it still).
	// Empty means DefaultAdvance.
	Advance string `yaml:"advance,omitempty"`

	// Booking is upserted when present. Later steps act on the last
	// booking written.
	Booking *ir.Booking `yaml:"booking,omitempty"`

	// Form and Contract set the status of the booking's sub-records.
	Form     ir.FormStatus     `yaml:"form,omitempty"`
	Contract ir.ContractStatus `yaml:"contract,omitempty"`

	// Action is one of reconcile (default), system, repair or delete.
	Action string `yaml:"action,omitempty"`

	// Expect is checked after the action. Nil checks nothing.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes what a step should have done. Rule lists are compared
// as sets; unset fields are not checked.
type Expect struct {
	Skipped   string   `yaml:"skipped,omitempty"`
	Created   []string `yaml:"created,omitempty"`
	Completed []string `yaml:"completed,omitempty"`

	// Open is the full set of open automatic tasks after the step.
	// Use an explicit empty list to assert that none remain.
	Open []string `yaml:"open"`

	Writes *int `yaml:"writes,omitempty"`

	// Due maps a rule id to the due date (YYYY-MM-DD) of the task created
	// for it by this step.
	Due map[string]string `yaml:"due,omitempty"`

	// Error is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`
}

// advance returns the parsed clock advance of the step.
func (s Step) advance() (time.Duration, error) {
	if s.Advance == "" {
		return DefaultAdvance, nil
	}
	return time.ParseDuration(s.Advance)
}

// action returns the step action with the default applied.
func (s Step) action() string {
	if s.Action == "" {
		return ActionReconcile
	}
	return s.Action
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "expects:" vs "expect:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// config returns the effective configuration of the scenario.
func (s *Scenario) config() (*config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config.Parse(data)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if _, err := s.config(); err != nil {
		return err
	}

	haveBooking := false
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		if _, err := step.advance(); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", i, err)
		}
		if step.Booking != nil {
			if step.Booking.ID == "" || step.Booking.TenantID == "" {
				return fmt.Errorf("steps[%d]: booking needs id and tenant_id", i)
			}
			haveBooking = true
		}
		if !haveBooking {
			return fmt.Errorf("steps[%d]: no booking written yet", i)
		}
		if err := validateStatuses(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		switch step.action() {
		case ActionReconcile, ActionSystem, ActionRepair, ActionDelete:
		default:
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		if step.Expect != nil {
			for rule, date := range step.Expect.Due {
				if _, err := time.Parse(time.DateOnly, date); err != nil {
					return fmt.Errorf("steps[%d].expect.due.%s: %w", i, rule, err)
				}
			}
		}
	}

	return nil
}

func validateStatuses(step Step) error {
	if step.Form != "" && !step.Form.Valid() {
		return fmt.Errorf("unknown form status %q", step.Form)
	}
	if step.Contract != "" && !step.Contract.Valid() {
		return fmt.Errorf("unknown contract status %q", step.Contract)
	}
	return nil
}
