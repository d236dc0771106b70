// Package container implements the Container Service: action chains,
// execution lifecycle, repo state recording, session reset, workspace
// lifecycle and startup reconciliation for the coding-agent orchestrator.
package container

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the lifecycle state of an ExecutionProcess.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusKilled    Status = "Killed"
)

// RunReason classifies why a process was started; it governs finalize and
// notification behavior.
type RunReason string

const (
	RunReasonSetupScript   RunReason = "SetupScript"
	RunReasonCodingAgent   RunReason = "CodingAgent"
	RunReasonCleanupScript RunReason = "CleanupScript"
	RunReasonArchiveScript RunReason = "ArchiveScript"
	RunReasonDevServer     RunReason = "DevServer"
)

// Workspace is a provisioned container: a directory holding one git
// worktree per associated Repo.
type Workspace struct {
	bun.BaseModel `bun:"table:container.workspaces,alias:w"`

	ID              string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Name            *string   `bun:"name" json:"name,omitempty"`
	Branch          string    `bun:"branch,notnull" json:"branch"`
	ContainerRef    *string   `bun:"container_ref" json:"container_ref,omitempty"`
	AgentWorkingDir *string   `bun:"agent_working_dir" json:"agent_working_dir,omitempty"`
	Archived        bool      `bun:"archived,notnull,default:false" json:"archived"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// Materialized reports whether the workspace's container directory has
// been provisioned on disk.
func (w *Workspace) Materialized() bool {
	return w.ContainerRef != nil && *w.ContainerRef != ""
}

// Repo is a git repository that can be checked out into a workspace
// container as one worktree, with optional setup/cleanup/archive scripts.
type Repo struct {
	bun.BaseModel `bun:"table:container.repos,alias:r"`

	ID                   string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Name                 string    `bun:"name,notnull" json:"name"`
	Path                 string    `bun:"path,notnull" json:"path"`
	SetupScript          *string   `bun:"setup_script" json:"setup_script,omitempty"`
	CleanupScript        *string   `bun:"cleanup_script" json:"cleanup_script,omitempty"`
	ArchiveScript        *string   `bun:"archive_script" json:"archive_script,omitempty"`
	ParallelSetupScript  bool      `bun:"parallel_setup_script,notnull,default:false" json:"parallel_setup_script"`
	CreatedAt            time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// HasSetupScript reports whether this repo has a non-empty setup script.
func (r *Repo) HasSetupScript() bool { return r.SetupScript != nil && *r.SetupScript != "" }

// HasCleanupScript reports whether this repo has a non-empty cleanup script.
func (r *Repo) HasCleanupScript() bool { return r.CleanupScript != nil && *r.CleanupScript != "" }

// HasArchiveScript reports whether this repo has a non-empty archive script.
func (r *Repo) HasArchiveScript() bool { return r.ArchiveScript != nil && *r.ArchiveScript != "" }

// WorkspaceRepo is the many-to-many link implying the set of repos
// materialized into a workspace, in workspace order.
type WorkspaceRepo struct {
	bun.BaseModel `bun:"table:container.workspace_repos,alias:wr"`

	WorkspaceID string `bun:"workspace_id,pk,type:uuid" json:"workspace_id"`
	RepoID      string `bun:"repo_id,pk,type:uuid" json:"repo_id"`
	Position    int    `bun:"position,notnull,default:0" json:"position"`
}

// Session groups a monotonically ordered sequence of execution processes
// for one workspace.
type Session struct {
	bun.BaseModel `bun:"table:container.sessions,alias:s"`

	ID          string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	WorkspaceID string    `bun:"workspace_id,notnull,type:uuid" json:"workspace_id"`
	Executor    *string   `bun:"executor" json:"executor,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// ExecutionProcess is one spawned child process within a session, running
// the action tree serialized in ExecutorAction.
type ExecutionProcess struct {
	bun.BaseModel `bun:"table:container.execution_processes,alias:ep"`

	ID             string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	SessionID      string    `bun:"session_id,notnull,type:uuid" json:"session_id"`
	Status         Status    `bun:"status,notnull" json:"status"`
	RunReason      RunReason `bun:"run_reason,notnull" json:"run_reason"`
	ExecutorAction *Action   `bun:"executor_action,type:jsonb,notnull" json:"executor_action"`
	ExitCode       *int      `bun:"exit_code" json:"exit_code,omitempty"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// IsDevServer reports whether this process was started as a dev server,
// which is excluded from the "at most one Running process" invariant.
func (p *ExecutionProcess) IsDevServer() bool { return p.RunReason == RunReasonDevServer }

// ExecutionProcessRepoState captures before/after HEAD commits for one
// (process, repo) pair.
type ExecutionProcessRepoState struct {
	bun.BaseModel `bun:"table:container.execution_process_repo_states,alias:eprs"`

	ProcessID        string  `bun:"process_id,pk,type:uuid" json:"process_id"`
	RepoID           string  `bun:"repo_id,pk,type:uuid" json:"repo_id"`
	BeforeHeadCommit *string `bun:"before_head_commit" json:"before_head_commit,omitempty"`
	AfterHeadCommit  *string `bun:"after_head_commit" json:"after_head_commit,omitempty"`
	MergeCommit      *string `bun:"merge_commit" json:"merge_commit,omitempty"`
}

// CodingAgentTurn is one row per execution whose action is a coding-agent
// or review request.
type CodingAgentTurn struct {
	bun.BaseModel `bun:"table:container.coding_agent_turns,alias:cat"`

	ID                  string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ExecutionProcessID  string    `bun:"execution_process_id,notnull,type:uuid" json:"execution_process_id"`
	Prompt              *string   `bun:"prompt" json:"prompt,omitempty"`
	AgentSessionID      *string   `bun:"agent_session_id" json:"agent_session_id,omitempty"`
	AgentMessageID      *string   `bun:"agent_message_id" json:"agent_message_id,omitempty"`
	CreatedAt           time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// LegacyExecutionLog is a row in the pre-file-based log storage scheme;
// the Log Migrator drains this table into per-execution JSONL files.
type LegacyExecutionLog struct {
	bun.BaseModel `bun:"table:container.legacy_execution_logs,alias:lel"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	SessionID   string    `bun:"session_id,notnull,type:uuid" json:"session_id"`
	ExecutionID string    `bun:"execution_id,notnull,type:uuid" json:"execution_id"`
	Seq         int       `bun:"seq,notnull" json:"seq"`
	Kind        string    `bun:"kind,notnull" json:"kind"`
	Payload     []byte    `bun:"payload,type:jsonb,notnull" json:"payload"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
