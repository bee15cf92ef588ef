// Package workflow drives a verification through its pipeline steps.
package workflow

import (
	"errors"
	"fmt"

	"idverify/internal/model"
)

// ErrTerminalState is returned when a transition is requested from
// SUCCEEDED or FAILED.
var ErrTerminalState = errors.New("workflow: state is terminal")

// sequence is the fixed order of the pipeline. Any failed gate exits to FAILED.
var sequence = []model.Status{
	model.StatusStarted,
	model.StatusProcessing,
	model.StatusModerating,
	model.StatusComparing,
	model.StatusResizing,
	model.StatusSucceeded,
}

// Next returns the state that follows state given the outcome of the step
// executed in it.
func Next(state model.Status, success bool) (model.Status, error) {
	if state.Terminal() {
		return state, fmt.Errorf("%w: %s", ErrTerminalState, state)
	}
	for i, s := range sequence[:len(sequence)-1] {
		if s != state {
			continue
		}
		if !success {
			return model.StatusFailed, nil
		}
		return sequence[i+1], nil
	}
	return state, fmt.Errorf("workflow: unknown state %q", state)
}

// stepName is the pipeline step executed while in the given state.
func stepName(state model.Status) string {
	switch state {
	case model.StatusProcessing:
		return "extract"
	case model.StatusModerating:
		return "moderate"
	case model.StatusComparing:
		return "compare"
	case model.StatusResizing:
		return "resize"
	}
	return ""
}
