package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoWithScripts(name, setup, cleanup, archive string, parallel bool) *Repo {
	r := &Repo{ID: name, Name: name, Path: "/repos/" + name}
	if setup != "" {
		r.SetupScript = &setup
	}
	if cleanup != "" {
		r.CleanupScript = &cleanup
	}
	if archive != "" {
		r.ArchiveScript = &archive
	}
	r.ParallelSetupScript = parallel
	return r
}

func TestAction_AppendAndLeafAndDepth(t *testing.T) {
	head := &Action{Type: ActionScriptRequest}
	assert.Equal(t, head, head.Leaf())
	assert.Equal(t, 1, head.Depth())

	child := &Action{Type: ActionCodingAgentInitialRequest}
	head.AppendAction(child)
	assert.Equal(t, child, head.Leaf())
	assert.Equal(t, 2, head.Depth())

	grandchild := &Action{Type: ActionScriptRequest}
	head.AppendAction(grandchild)
	assert.Equal(t, grandchild, head.Leaf())
	assert.Equal(t, 3, head.Depth())
}

func TestAction_IsPromptBearing(t *testing.T) {
	tests := []struct {
		name string
		typ  ActionType
		want bool
	}{
		{"script", ActionScriptRequest, false},
		{"initial", ActionCodingAgentInitialRequest, true},
		{"followup", ActionCodingAgentFollowUpRequest, true},
		{"review", ActionReviewRequest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Action{Type: tt.typ}
			assert.Equal(t, tt.want, a.IsPromptBearing())
			assert.Equal(t, tt.want, a.IsAgentOrReview())
		})
	}
}

func TestAction_PromptText(t *testing.T) {
	a := &Action{Type: ActionScriptRequest}
	assert.Nil(t, a.PromptText())

	a = NewCodingAgentAction("do the thing", ExecutorConfig{ProfileID: "claude"})
	require.NotNil(t, a.PromptText())
	assert.Equal(t, "do the thing", *a.PromptText())

	a = &Action{Type: ActionReviewRequest, Review: &ReviewRequest{Prompt: "review this"}}
	require.NotNil(t, a.PromptText())
	assert.Equal(t, "review this", *a.PromptText())
}

func TestBuildSetupCleanupArchiveChain_Sequential(t *testing.T) {
	repos := []*Repo{
		repoWithScripts("a", "setup-a", "cleanup-a", "", false),
		repoWithScripts("b", "setup-b", "", "", false),
	}
	cfg := ExecutorConfig{ProfileID: "claude"}
	chain := BuildSetupCleanupArchiveChain(repos, "prompt", cfg)

	require.NotNil(t, chain)
	assert.Equal(t, ActionScriptRequest, chain.Type)
	assert.Equal(t, "setup-a", chain.Script.Script)

	node := chain.NextAction
	require.NotNil(t, node)
	assert.Equal(t, "setup-b", node.Script.Script)

	node = node.NextAction
	require.NotNil(t, node)
	assert.Equal(t, ActionCodingAgentInitialRequest, node.Type)

	node = node.NextAction
	require.NotNil(t, node)
	assert.Equal(t, ScriptContextCleanup, node.Script.Context)
	assert.Equal(t, "cleanup-a", node.Script.Script)

	assert.Nil(t, node.NextAction)
}

func TestBuildSetupCleanupArchiveChain_AllParallelOmitsSetupPrefix(t *testing.T) {
	repos := []*Repo{
		repoWithScripts("a", "setup-a", "", "", true),
		repoWithScripts("b", "setup-b", "", "", true),
	}
	chain := BuildSetupCleanupArchiveChain(repos, "prompt", ExecutorConfig{})

	require.NotNil(t, chain)
	assert.Equal(t, ActionCodingAgentInitialRequest, chain.Type, "parallel mode should not prepend a sequential setup chain")
}

func TestBuildParallelSetupActions(t *testing.T) {
	repos := []*Repo{
		repoWithScripts("a", "setup-a", "", "", true),
		repoWithScripts("b", "", "", "", false),
		repoWithScripts("c", "setup-c", "", "", true),
	}
	actions := BuildParallelSetupActions(repos)
	require.Len(t, actions, 2)
	assert.Equal(t, "setup-a", actions[0].Script.Script)
	assert.Equal(t, "setup-c", actions[1].Script.Script)
	for _, a := range actions {
		assert.Nil(t, a.NextAction)
		assert.Equal(t, ScriptContextSetup, a.Script.Context)
	}
}

func TestReposWithSetup(t *testing.T) {
	repos := []*Repo{
		repoWithScripts("a", "setup-a", "", "", false),
		repoWithScripts("b", "", "", "", false),
	}
	out := ReposWithSetup(repos)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestAllParallel(t *testing.T) {
	tests := []struct {
		name  string
		repos []*Repo
		want  bool
	}{
		{
			name:  "no repos with setup",
			repos: []*Repo{repoWithScripts("a", "", "", "", false)},
			want:  false,
		},
		{
			name: "mixed parallel flags",
			repos: []*Repo{
				repoWithScripts("a", "setup-a", "", "", true),
				repoWithScripts("b", "setup-b", "", "", false),
			},
			want: false,
		},
		{
			name: "all parallel",
			repos: []*Repo{
				repoWithScripts("a", "setup-a", "", "", true),
				repoWithScripts("b", "setup-b", "", "", true),
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllParallel(ReposWithSetup(tt.repos)))
		})
	}
}

func TestBuildArchiveChain(t *testing.T) {
	repos := []*Repo{
		repoWithScripts("a", "", "", "archive-a", false),
		repoWithScripts("b", "", "", "", false),
		repoWithScripts("c", "", "", "archive-c", false),
	}
	chain := BuildArchiveChain(repos)
	require.NotNil(t, chain)
	assert.Equal(t, "archive-a", chain.Script.Script)
	require.NotNil(t, chain.NextAction)
	assert.Equal(t, "archive-c", chain.NextAction.Script.Script)
	assert.Nil(t, chain.NextAction.NextAction)

	assert.Nil(t, BuildArchiveChain([]*Repo{repoWithScripts("x", "", "", "", false)}))
}

func TestNextRunReason(t *testing.T) {
	script := &Action{Type: ActionScriptRequest}
	agent := &Action{Type: ActionCodingAgentInitialRequest}
	review := &Action{Type: ActionReviewRequest}

	assert.Equal(t, RunReasonCodingAgent, NextRunReason(script, agent))
	assert.Equal(t, RunReasonCodingAgent, NextRunReason(script, review))
	assert.Equal(t, RunReasonCleanupScript, NextRunReason(agent, script))
	assert.Equal(t, RunReasonSetupScript, NextRunReason(script, script))
}
