package container

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(executors ExecutorRegistry) *Handler {
	return NewHandler(nil, nil, NewStoreRegistry(), executors, "", "", slog.Default())
}

func TestHandler_Renormalize_ReplaysStdoutThroughExecutor(t *testing.T) {
	executors := NewExecutorRegistry(nil, NewQaMockExecutor())
	h := newTestHandler(executors)

	ep := &ExecutionProcess{
		ID:             "ep-1",
		ExecutorAction: NewCodingAgentAction("do the thing", ExecutorConfig{}),
	}
	raw := []LogMsg{
		{Kind: LogKindStdout, Text: "line one"},
		{Kind: LogKindStderr, Text: "line two"},
		{Kind: LogKindFinished},
	}

	out := h.renormalize(context.Background(), ep, raw)

	require.NotEmpty(t, out)
	var patches, finished int
	for _, m := range out {
		switch m.Kind {
		case LogKindJsonPatch:
			patches++
		case LogKindFinished:
			finished++
		}
	}
	assert.Equal(t, 2, patches, "one JsonPatch per stdout/stderr line")
	assert.Equal(t, 1, finished)
}

func TestHandler_Renormalize_NoActionReturnsRawUnchanged(t *testing.T) {
	executors := NewExecutorRegistry(nil, NewQaMockExecutor())
	h := newTestHandler(executors)

	ep := &ExecutionProcess{ID: "ep-2"}
	raw := []LogMsg{{Kind: LogKindStdout, Text: "line"}, {Kind: LogKindFinished}}

	out := h.renormalize(context.Background(), ep, raw)
	assert.Equal(t, raw, out)
}

func TestHandler_Renormalize_ExecutorResolutionFailureReturnsRawUnchanged(t *testing.T) {
	executors := NewExecutorRegistry(nil, nil)
	h := newTestHandler(executors)

	ep := &ExecutionProcess{
		ID:             "ep-3",
		ExecutorAction: NewCodingAgentAction("do the thing", ExecutorConfig{}),
	}
	raw := []LogMsg{{Kind: LogKindStdout, Text: "line"}, {Kind: LogKindFinished}}

	out := h.renormalize(context.Background(), ep, raw)
	assert.Equal(t, raw, out)
}
