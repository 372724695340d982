package core

import "fmt"

// DefaultMaxSteps is the step budget applied when none is configured.
const DefaultMaxSteps = 10

// StepBudget enforces the hard cap on model invocations per turn. It is owned
// by a single orchestrator goroutine and needs no locking.
type StepBudget struct {
	max   int
	count int
}

// NewStepBudget creates a budget of max steps. Values <= 0 select
// DefaultMaxSteps; the loop is never unbounded.
func NewStepBudget(max int) *StepBudget {
	if max <= 0 {
		max = DefaultMaxSteps
	}
	return &StepBudget{max: max}
}

// Consume takes one step from the budget and returns its 1-based number.
func (b *StepBudget) Consume() (int, error) {
	if b.count >= b.max {
		return b.count, fmt.Errorf("step budget of %d exhausted", b.max)
	}
	b.count++
	return b.count, nil
}

// Used returns how many steps were consumed.
func (b *StepBudget) Used() int { return b.count }

// Remaining returns how many steps are left.
func (b *StepBudget) Remaining() int { return b.max - b.count }

// Max returns the configured cap.
func (b *StepBudget) Max() int { return b.max }
