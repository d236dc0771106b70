package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCapabilities_KillExecution_TerminatesSpawnedProcess(t *testing.T) {
	c := NewLocalCapabilities(t.TempDir(), "")
	store := NewMsgStore()
	ep := &ExecutionProcess{ID: "ep-kill"}
	action := &Action{Type: ActionScriptRequest, Script: &ScriptRequest{Script: "sleep 30"}}

	require.NoError(t, c.StartExecutionInner(context.Background(), ep, action, t.TempDir(), store))

	c.mu.Lock()
	cmd, tracked := c.processes[ep.ID]
	c.mu.Unlock()
	require.True(t, tracked, "spawned process should be tracked under its execution id")
	require.NotNil(t, cmd.Process)

	require.NoError(t, c.KillExecution(context.Background(), ep))

	sub := store.HistoryPlusStream(context.Background())
	defer sub.Close()

	finished := false
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				break loop
			}
			if msg.Kind == LogKindFinished {
				finished = true
				break loop
			}
		case <-deadline:
			break loop
		}
	}
	assert.True(t, finished, "killed process should still push Finished once reaped")

	c.mu.Lock()
	_, stillTracked := c.processes[ep.ID]
	c.mu.Unlock()
	assert.False(t, stillTracked, "process should be untracked once its wait goroutine reaps it")
}

func TestLocalCapabilities_KillExecution_NoopWhenNotTracked(t *testing.T) {
	c := NewLocalCapabilities(t.TempDir(), "")
	err := c.KillExecution(context.Background(), &ExecutionProcess{ID: "never-started"})
	assert.NoError(t, err)
}
