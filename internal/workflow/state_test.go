package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idverify/internal/model"
)

func TestNext(t *testing.T) {
	tests := []struct {
		state   model.Status
		success bool
		want    model.Status
	}{
		{model.StatusStarted, true, model.StatusProcessing},
		{model.StatusProcessing, true, model.StatusModerating},
		{model.StatusModerating, true, model.StatusComparing},
		{model.StatusComparing, true, model.StatusResizing},
		{model.StatusResizing, true, model.StatusSucceeded},
		{model.StatusStarted, false, model.StatusFailed},
		{model.StatusProcessing, false, model.StatusFailed},
		{model.StatusModerating, false, model.StatusFailed},
		{model.StatusComparing, false, model.StatusFailed},
		{model.StatusResizing, false, model.StatusFailed},
	}

	for _, tt := range tests {
		got, err := Next(tt.state, tt.success)
		require.NoError(t, err, tt.state)
		assert.Equal(t, tt.want, got, "%s success=%v", tt.state, tt.success)
	}
}

func TestNext_TerminalStatesReject(t *testing.T) {
	for _, s := range []model.Status{model.StatusSucceeded, model.StatusFailed} {
		for _, ok := range []bool{true, false} {
			got, err := Next(s, ok)
			assert.ErrorIs(t, err, ErrTerminalState)
			assert.Equal(t, s, got)
		}
	}
}

func TestNext_UnknownState(t *testing.T) {
	_, err := Next(model.Status("PAUSED"), true)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTerminalState)
}

// Every path through the machine ends in a terminal state within a bounded
// number of transitions and never revisits an earlier rank.
func TestNext_AlwaysTerminatesMonotonically(t *testing.T) {
	for mask := 0; mask < 1<<5; mask++ {
		state := model.StatusStarted
		for i := 0; !state.Terminal(); i++ {
			require.Less(t, i, len(sequence), "no terminal state reached")
			next, err := Next(state, mask&(1<<i) == 0)
			require.NoError(t, err)
			assert.Greater(t, next.Rank(), state.Rank())
			state = next
		}
	}
}
