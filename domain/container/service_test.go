package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldFinalize(t *testing.T) {
	tests := []struct {
		name          string
		runReason     RunReason
		status        Status
		hasNextAction bool
		want          bool
	}{
		{"dev server never finalizes", RunReasonDevServer, StatusCompleted, false, false},
		{"setup script with no next action does not finalize", RunReasonSetupScript, StatusCompleted, false, false},
		{"setup script with next action does not finalize here", RunReasonSetupScript, StatusCompleted, true, false},
		{"failed always finalizes", RunReasonCodingAgent, StatusFailed, true, true},
		{"killed always finalizes", RunReasonCodingAgent, StatusKilled, true, true},
		{"completed with no next action finalizes", RunReasonCodingAgent, StatusCompleted, false, true},
		{"completed with next action does not finalize", RunReasonCodingAgent, StatusCompleted, true, false},
		{"cleanup script completed with no next finalizes", RunReasonCleanupScript, StatusCompleted, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldFinalize(tt.runReason, tt.status, tt.hasNextAction))
		})
	}
}

func TestRunReasonForLeaf(t *testing.T) {
	assert.Equal(t, RunReasonSetupScript, runReasonForLeaf(&Action{Type: ActionScriptRequest}))
	assert.Equal(t, RunReasonCodingAgent, runReasonForLeaf(&Action{Type: ActionCodingAgentInitialRequest}))
	assert.Equal(t, RunReasonCodingAgent, runReasonForLeaf(&Action{Type: ActionReviewRequest}))
}

func TestExecutionProcess_IsDevServer(t *testing.T) {
	ep := &ExecutionProcess{RunReason: RunReasonDevServer}
	assert.True(t, ep.IsDevServer())

	ep = &ExecutionProcess{RunReason: RunReasonCodingAgent}
	assert.False(t, ep.IsDevServer())
}
