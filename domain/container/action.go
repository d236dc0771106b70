package container

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ActionType tags the variant carried by an Action node.
type ActionType string

const (
	ActionScriptRequest              ActionType = "ScriptRequest"
	ActionCodingAgentInitialRequest  ActionType = "CodingAgentInitialRequest"
	ActionCodingAgentFollowUpRequest ActionType = "CodingAgentFollowUpRequest"
	ActionReviewRequest              ActionType = "ReviewRequest"
)

// ScriptContext classifies which chain a ScriptRequest belongs to.
type ScriptContext string

const (
	ScriptContextSetup   ScriptContext = "SetupScript"
	ScriptContextCleanup ScriptContext = "CleanupScript"
	ScriptContextArchive ScriptContext = "ArchiveScript"
)

// Action is the immutable, recursive ExecutorAction node of spec.md §3.
// It is a tagged sum type serialized as a single JSON object; exactly one
// of the typed payload fields is populated according to Type. Depth is
// unbounded in representation but bounded in practice by the builder
// (setup count + 2). AppendAction, Leaf and Depth walk the right spine
// iteratively; Value and Scan go through encoding/json, which recurses
// once per NextAction level.
type Action struct {
	Type ActionType `json:"type"`

	Script              *ScriptRequest              `json:"script,omitempty"`
	CodingAgentInitial  *CodingAgentInitialRequest  `json:"codingAgentInitial,omitempty"`
	CodingAgentFollowUp *CodingAgentFollowUpRequest `json:"codingAgentFollowUp,omitempty"`
	Review              *ReviewRequest              `json:"review,omitempty"`

	NextAction *Action `json:"nextAction,omitempty"`
}

// ScriptRequest runs a user-supplied shell script for one repo.
type ScriptRequest struct {
	Script     string        `json:"script"`
	Language   string        `json:"language"`
	Context    ScriptContext `json:"context"`
	WorkingDir *string       `json:"workingDir,omitempty"`
}

// CodingAgentInitialRequest starts a fresh coding-agent turn.
type CodingAgentInitialRequest struct {
	Prompt         string         `json:"prompt"`
	ExecutorConfig ExecutorConfig `json:"executorConfig"`
	WorkingDir     *string        `json:"workingDir,omitempty"`
}

// CodingAgentFollowUpRequest continues an existing coding-agent session.
type CodingAgentFollowUpRequest struct {
	Prompt         string         `json:"prompt"`
	AgentSessionID string         `json:"agentSessionId"`
	ExecutorConfig ExecutorConfig `json:"executorConfig"`
	WorkingDir     *string        `json:"workingDir,omitempty"`
}

// ReviewRequest asks the coding agent to review a diff.
type ReviewRequest struct {
	Prompt         string         `json:"prompt"`
	ExecutorConfig ExecutorConfig `json:"executorConfig"`
	WorkingDir     *string        `json:"workingDir,omitempty"`
}

// IsPromptBearing reports whether this node's action type carries a prompt
// (and therefore requires a CodingAgentTurn row on start_execution).
func (a *Action) IsPromptBearing() bool {
	switch a.Type {
	case ActionCodingAgentInitialRequest, ActionCodingAgentFollowUpRequest, ActionReviewRequest:
		return true
	default:
		return false
	}
}

// IsAgentOrReview reports whether this is a coding-agent or review node,
// used by the (current, next) run-reason derivation table.
func (a *Action) IsAgentOrReview() bool { return a.IsPromptBearing() }

// AppendAction attaches child at the deepest node whose NextAction is nil
// (right-spine append), per spec.md §4.1.
func (a *Action) AppendAction(child *Action) {
	node := a
	for node.NextAction != nil {
		node = node.NextAction
	}
	node.NextAction = child
}

// Leaf walks the right spine and reports the final node.
func (a *Action) Leaf() *Action {
	node := a
	for node.NextAction != nil {
		node = node.NextAction
	}
	return node
}

// Depth counts nodes along the right spine, iteratively.
func (a *Action) Depth() int {
	n := 0
	for node := a; node != nil; node = node.NextAction {
		n++
	}
	return n
}

// PromptText returns the prompt string carried by this node, or nil if
// the node is not prompt-bearing.
func (a *Action) PromptText() *string {
	switch a.Type {
	case ActionCodingAgentInitialRequest:
		if a.CodingAgentInitial != nil {
			return &a.CodingAgentInitial.Prompt
		}
	case ActionCodingAgentFollowUpRequest:
		if a.CodingAgentFollowUp != nil {
			return &a.CodingAgentFollowUp.Prompt
		}
	case ActionReviewRequest:
		if a.Review != nil {
			return &a.Review.Prompt
		}
	}
	return nil
}

// Value implements driver.Valuer for storing Action as jsonb.
func (a *Action) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for reading Action back from jsonb.
func (a *Action) Scan(src any) error {
	if src == nil {
		return nil
	}
	var buf []byte
	switch v := src.(type) {
	case []byte:
		buf = v
	case string:
		buf = []byte(v)
	default:
		return fmt.Errorf("container: cannot scan %T into Action", src)
	}
	return json.Unmarshal(buf, a)
}

// NewScriptAction builds a leaf ScriptRequest action for one repo script.
func NewScriptAction(script, language string, ctx ScriptContext, workingDir string) *Action {
	wd := workingDir
	return &Action{
		Type: ActionScriptRequest,
		Script: &ScriptRequest{
			Script:     script,
			Language:   language,
			Context:    ctx,
			WorkingDir: &wd,
		},
	}
}

// NewCodingAgentAction builds a leaf CodingAgentInitialRequest action.
func NewCodingAgentAction(prompt string, cfg ExecutorConfig) *Action {
	return &Action{
		Type: ActionCodingAgentInitialRequest,
		CodingAgentInitial: &CodingAgentInitialRequest{
			Prompt:         prompt,
			ExecutorConfig: cfg,
		},
	}
}

// BuildSetupCleanupArchiveChain assembles the full action chain for
// starting a workspace per spec.md §4.1 and §4.7:
//
//	setup(repo0) -> setup(repo1) -> ... -> coding_agent -> cleanup0 -> cleanup1 -> ...
//
// in sequential mode, or coding_agent -> cleanup0 -> cleanup1 -> ... with no
// setup nodes in parallel mode (the caller is responsible for starting the
// parallel setup leaves separately via BuildParallelSetupActions).
func BuildSetupCleanupArchiveChain(repos []*Repo, prompt string, cfg ExecutorConfig) *Action {
	head := NewCodingAgentAction(prompt, cfg)
	tail := head

	for _, r := range repos {
		if !r.HasCleanupScript() {
			continue
		}
		cleanup := NewScriptAction(*r.CleanupScript, "bash", ScriptContextCleanup, r.Name)
		tail.AppendAction(cleanup)
		tail = cleanup
	}

	if !allSetupReposParallel(repos) {
		setupHead := buildSequentialSetupChain(repos)
		if setupHead != nil {
			setupHead.Leaf().AppendAction(head)
			return setupHead
		}
	}

	return head
}

// buildSequentialSetupChain chains ScriptRequest nodes for every repo with
// a setup script, in workspace order. Returns nil if none have one.
func buildSequentialSetupChain(repos []*Repo) *Action {
	var head, tail *Action
	for _, r := range repos {
		if !r.HasSetupScript() {
			continue
		}
		node := NewScriptAction(*r.SetupScript, "bash", ScriptContextSetup, r.Name)
		if head == nil {
			head = node
		} else {
			tail.AppendAction(node)
		}
		tail = node
	}
	return head
}

// BuildParallelSetupActions returns one standalone ScriptRequest action per
// repo with a setup script, for parallel-mode start_execution calls — each
// gets its own process with run_reason=SetupScript and no NextAction.
func BuildParallelSetupActions(repos []*Repo) []*Action {
	var actions []*Action
	for _, r := range repos {
		if !r.HasSetupScript() {
			continue
		}
		actions = append(actions, NewScriptAction(*r.SetupScript, "bash", ScriptContextSetup, r.Name))
	}
	return actions
}

// ReposWithSetup filters to repos carrying a non-empty setup script,
// preserving workspace order.
func ReposWithSetup(repos []*Repo) []*Repo {
	var out []*Repo
	for _, r := range repos {
		if r.HasSetupScript() {
			out = append(out, r)
		}
	}
	return out
}

// AllParallel reports whether every repo with a setup script is flagged
// parallel_setup_script — spec.md §4.1's "all_parallel" predicate.
func AllParallel(reposWithSetup []*Repo) bool {
	if len(reposWithSetup) == 0 {
		return false
	}
	return allSetupReposParallel(reposWithSetup) && allOf(reposWithSetup, func(r *Repo) bool { return r.ParallelSetupScript })
}

func allSetupReposParallel(repos []*Repo) bool {
	withSetup := ReposWithSetup(repos)
	if len(withSetup) == 0 {
		return false
	}
	return allOf(withSetup, func(r *Repo) bool { return r.ParallelSetupScript })
}

func allOf(repos []*Repo, pred func(*Repo) bool) bool {
	for _, r := range repos {
		if !pred(r) {
			return false
		}
	}
	return true
}

// BuildArchiveChain assembles a sequential ScriptRequest chain over every
// repo with an archive script, in workspace order. Returns nil if none
// have one.
func BuildArchiveChain(repos []*Repo) *Action {
	var head, tail *Action
	for _, r := range repos {
		if !r.HasArchiveScript() {
			continue
		}
		node := NewScriptAction(*r.ArchiveScript, "bash", ScriptContextArchive, r.Name)
		if head == nil {
			head = node
		} else {
			tail.AppendAction(node)
		}
		tail = node
	}
	return head
}

// NextRunReason derives the run_reason for the action started after
// "current" completes, per the table in spec.md §4.2.
func NextRunReason(current, next *Action) RunReason {
	switch {
	case next.IsAgentOrReview():
		return RunReasonCodingAgent
	case current.IsAgentOrReview() && next.Type == ActionScriptRequest:
		return RunReasonCleanupScript
	case current.Type == ActionScriptRequest && next.Type == ActionScriptRequest:
		return RunReasonSetupScript
	default:
		return RunReasonCleanupScript
	}
}
