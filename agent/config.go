package agent

import (
	"fmt"
	"time"

	"github.com/BaSui01/crewflow/config"
)

// Config describes one worker. Zero limits fall back to the crew defaults
// from config.CrewConfig.
type Config struct {
	ID               string        `yaml:"id" json:"id"`
	Role             string        `yaml:"role" json:"role"`
	Goal             string        `yaml:"goal" json:"goal"`
	Backstory        string        `yaml:"backstory" json:"backstory"`
	Tools            []string      `yaml:"tools" json:"tools,omitempty"`
	AllowDelegation  bool          `yaml:"allow_delegation" json:"allow_delegation"`
	MaxInFlight      int           `yaml:"max_in_flight" json:"max_in_flight"`
	MaxIterations    int           `yaml:"max_iter" json:"max_iter"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" json:"max_execution_time"`
	MaxRetryLimit    int           `yaml:"max_retry_limit" json:"max_retry_limit"`
	// MaxRPM 为 0 表示不限速
	MaxRPM int  `yaml:"max_rpm" json:"max_rpm"`
	Memory bool `yaml:"memory" json:"memory"`
}

// Task is the view of a work item handed to a worker.
type Task struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	ExpectedOutput string `json:"expected_output"`
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.Role == "" {
		return fmt.Errorf("%w: role is required", ErrConfigInvalid)
	}
	if c.MaxInFlight < 0 || c.MaxIterations < 0 || c.MaxRetryLimit < 0 || c.MaxRPM < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrConfigInvalid)
	}
	if c.MaxExecutionTime < 0 {
		return fmt.Errorf("%w: max_execution_time must not be negative", ErrConfigInvalid)
	}
	return nil
}

// WithDefaults fills unset limits from the crew defaults.
func (c Config) WithDefaults(d config.CrewConfig) Config {
	if c.ID == "" {
		c.ID = c.Role
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 1
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 1
	}
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = d.MaxExecutionTime
	}
	if c.MaxRetryLimit == 0 {
		c.MaxRetryLimit = d.MaxRetryLimit
	}
	if c.MaxRPM == 0 {
		c.MaxRPM = d.MaxRPM
	}
	return c
}
