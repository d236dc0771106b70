package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct{ id string }

func (s *stubExecutor) NormalizeLogs(ctx context.Context, store *MsgStore, workingDir string) error {
	return nil
}

func (s *stubExecutor) DiscoverOptions(ctx context.Context, workdir, repoPath string) ([]DiscoverOption, error) {
	return nil, nil
}

func TestExecutorRegistry_ResolvesByProfileID(t *testing.T) {
	claude := &stubExecutor{id: "claude"}
	codex := &stubExecutor{id: "codex"}
	reg := NewExecutorRegistry(map[string]Executor{"claude": claude, "codex": codex}, nil)

	got, err := reg.GetCodingAgentOrDefault("codex")
	require.NoError(t, err)
	assert.Same(t, codex, got)
}

func TestExecutorRegistry_FallsBackToDefault(t *testing.T) {
	fallback := &stubExecutor{id: "default"}
	reg := NewExecutorRegistry(map[string]Executor{}, fallback)

	got, err := reg.GetCodingAgentOrDefault("")
	require.NoError(t, err)
	assert.Same(t, fallback, got)

	got, err = reg.GetCodingAgentOrDefault("unknown-profile")
	require.NoError(t, err)
	assert.Same(t, fallback, got)
}

func TestExecutorRegistry_NoFallbackReturnsExecutableNotFound(t *testing.T) {
	reg := NewExecutorRegistry(map[string]Executor{}, nil)

	_, err := reg.GetCodingAgentOrDefault("missing")
	require.Error(t, err)
	program, ok := IsExecutableNotFound(err)
	assert.True(t, ok)
	assert.Equal(t, "missing", program)
}

func TestQaMockExecutor_NormalizeLogsEchoesAsJsonPatch(t *testing.T) {
	store := NewMsgStore()
	store.Push(LogMsg{Kind: LogKindStdout, Text: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mock := NewQaMockExecutor()
	done := make(chan error, 1)
	go func() { done <- mock.NormalizeLogs(ctx, store, "/work") }()

	require.Eventually(t, func() bool {
		sub := store.HistoryPlusStream(ctx)
		defer sub.Close()
		for m := range sub.C {
			if m.Kind == LogKindJsonPatch {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "mock executor should have pushed a JsonPatch for the stdout line")

	store.PushFinished()
	require.NoError(t, <-done)
}

func TestQaMockExecutor_DiscoverOptions(t *testing.T) {
	mock := NewQaMockExecutor()
	opts, err := mock.DiscoverOptions(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "mock", opts[0].ID)
}
