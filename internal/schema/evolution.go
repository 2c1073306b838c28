package schema

import (
	"fmt"
)

// Evolution policies.
const (
	PolicyStrict   = "strict"
	PolicyAdditive = "additive"
)

// IncompatibilityError is the fatal outcome of an evolution check.
type IncompatibilityError struct {
	Policy string
	Reason string
}

func (e *IncompatibilityError) Error() string {
	return fmt.Sprintf("schema incompatible under %s policy: %s", e.Policy, e.Reason)
}

// Checker gates schema changes between runs under the configured policy.
type Checker struct {
	Policy string
}

// NewChecker builds a checker, defaulting to the additive policy.
func NewChecker(policy string) *Checker {
	if policy == "" {
		policy = PolicyAdditive
	}
	return &Checker{Policy: policy}
}

// CheckCompatibility compares the previous run's schema with the current
// one. No previous schema means a first run and always passes. Additive
// allows new columns but rejects removals and type changes; strict rejects
// any difference.
func (c *Checker) CheckCompatibility(previous, current *Snapshot) error {
	if previous == nil || len(previous.Columns) == 0 {
		return nil
	}
	if current == nil {
		return &IncompatibilityError{Policy: c.Policy, Reason: "current schema is empty"}
	}

	curTypes := make(map[string]string, len(current.Columns))
	for _, col := range current.Columns {
		curTypes[col.Name] = col.Type
	}

	for _, col := range previous.Columns {
		curType, ok := curTypes[col.Name]
		if !ok {
			return &IncompatibilityError{Policy: c.Policy, Reason: fmt.Sprintf("column %q removed", col.Name)}
		}
		if curType != col.Type {
			return &IncompatibilityError{
				Policy: c.Policy,
				Reason: fmt.Sprintf("column %q changed type %s -> %s", col.Name, col.Type, curType),
			}
		}
	}

	if c.Policy == PolicyStrict {
		prevNames := make(map[string]bool, len(previous.Columns))
		for _, col := range previous.Columns {
			prevNames[col.Name] = true
		}
		for _, col := range current.Columns {
			if !prevNames[col.Name] {
				return &IncompatibilityError{Policy: c.Policy, Reason: fmt.Sprintf("column %q added", col.Name)}
			}
		}
	}

	return nil
}

// ConfigSubset returns the checker settings for inclusion in run metadata.
func (c *Checker) ConfigSubset() map[string]any {
	return map[string]any{"evolution_policy": c.Policy}
}
