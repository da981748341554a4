package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step groups the side-effecting stages a policy can address
type Step string

const (
	StepBuild       Step = "build"
	StepNetwork     Step = "network"
	StepAuth        Step = "auth"
	StepCredentials Step = "credentials"
	StepDirectories Step = "directories"
	StepReadiness   Step = "readiness"
	StepLaunch      Step = "launch"
)

// OnFailure is what the sequencer does when a step fails
type OnFailure string

const (
	OnFailureFatal  OnFailure = "fatal"
	OnFailureIgnore OnFailure = "ignore"
)

// steps maps every known step to whether it may be downgraded to ignore
var steps = map[Step]bool{
	StepBuild:       false,
	StepNetwork:     true,
	StepAuth:        true,
	StepCredentials: true,
	StepDirectories: false,
	StepReadiness:   false,
	StepLaunch:      false,
}

// Policy maps steps to failure handling. Steps not listed are fatal.
type Policy struct {
	Steps map[Step]OnFailure `yaml:"steps"`
}

// DefaultPolicy makes every step fatal
func DefaultPolicy() Policy {
	return Policy{Steps: map[Step]OnFailure{}}
}

// For returns the failure handling of step
func (p Policy) For(step Step) OnFailure {
	if v, ok := p.Steps[step]; ok {
		return v
	}
	return OnFailureFatal
}

// Validate rejects unknown steps, unknown values and ignore on always-fatal
// steps
func (p Policy) Validate() error {
	for step, v := range p.Steps {
		ignorable, known := steps[step]
		if !known {
			return fmt.Errorf("policy: unknown step %q", step)
		}
		switch v {
		case OnFailureFatal:
		case OnFailureIgnore:
			if !ignorable {
				return fmt.Errorf("policy: step %q cannot be ignored", step)
			}
		default:
			return fmt.Errorf("policy: step %q has unknown action %q", step, v)
		}
	}
	return nil
}

// ParsePolicy decodes a YAML policy document
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	if p.Steps == nil {
		p.Steps = map[Step]OnFailure{}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads and decodes a YAML policy file
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}
