package container

import (
	"context"
	"os"
)

// ExecutorConfig identifies which coding-agent profile an action should
// run under; opaque to the core beyond the profile id it resolves through
// ExecutorRegistry.
type ExecutorConfig struct {
	ProfileID string         `json:"profileId"`
	Options   map[string]any `json:"options,omitempty"`
}

// DiscoverOption is one entry of an Executor.DiscoverOptions result
// stream.
type DiscoverOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Executor is the abstract collaborator resolved by ExecutorRegistry for
// a given profile id — spec.md §6. The core never interprets coding-agent
// output semantically; NormalizeLogs and DiscoverOptions are the only two
// operations it calls.
type Executor interface {
	// NormalizeLogs drains store's history-then-live stream, parsing raw
	// stdout/stderr into JsonPatch entries pushed back onto the same
	// store, until Finished is observed.
	NormalizeLogs(ctx context.Context, store *MsgStore, workingDir string) error

	// DiscoverOptions reports executor-specific choices (e.g. available
	// models) given an optional working directory and/or repo path.
	DiscoverOptions(ctx context.Context, workdir, repoPath string) ([]DiscoverOption, error)
}

// ExecutorRegistry resolves an ExecutorConfig's profile id to a concrete
// Executor, falling back to a default when the profile is unset or
// unknown.
type ExecutorRegistry interface {
	GetCodingAgentOrDefault(profileID string) (Executor, error)
}

// registry is the default ExecutorRegistry. When QA_MOCK_EXECUTOR=1 is
// set it substitutes QaMockExecutor for every lookup — spec.md §6's
// build-time mock gate, expressed here as a runtime env check since Go
// has no compile-time feature-flag equivalent to Rust's #[cfg(feature)].
type registry struct {
	executors map[string]Executor
	fallback  Executor
}

// NewExecutorRegistry builds a registry keyed by profile id, with
// fallback used whenever a profile id is empty or unregistered.
func NewExecutorRegistry(executors map[string]Executor, fallback Executor) ExecutorRegistry {
	if os.Getenv("QA_MOCK_EXECUTOR") == "1" {
		mock := NewQaMockExecutor()
		return &registry{executors: map[string]Executor{}, fallback: mock}
	}
	return &registry{executors: executors, fallback: fallback}
}

func (r *registry) GetCodingAgentOrDefault(profileID string) (Executor, error) {
	if profileID != "" {
		if ex, ok := r.executors[profileID]; ok {
			return ex, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, ErrExecutableNotFound(profileID, nil)
}

// QaMockExecutor is the build-time substitute named in spec.md §6: it
// echoes raw stdout/stderr straight through as JsonPatch entries without
// invoking any real coding-agent binary, for use in test/QA environments.
type QaMockExecutor struct{}

// NewQaMockExecutor constructs the mock executor.
func NewQaMockExecutor() *QaMockExecutor { return &QaMockExecutor{} }

func (m *QaMockExecutor) NormalizeLogs(ctx context.Context, store *MsgStore, workingDir string) error {
	sub := store.HistoryPlusStream(ctx)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch msg.Kind {
			case LogKindStdout, LogKindStderr:
				store.Push(LogMsg{Kind: LogKindJsonPatch, Patch: map[string]any{
					"op":    "add",
					"path":  "/entries/-",
					"value": map[string]any{"type": "RawOutput", "text": msg.Text},
				}})
			case LogKindFinished:
				return nil
			}
		}
	}
}

func (m *QaMockExecutor) DiscoverOptions(ctx context.Context, workdir, repoPath string) ([]DiscoverOption, error) {
	return []DiscoverOption{{ID: "mock", Label: "QA Mock Executor"}}, nil
}
