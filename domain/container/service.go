package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/emergent-company/containersvc/pkg/tracing"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Capabilities is the minimal capability interface a concrete deployment
// provides to Service — spec.md §9's "trait-style polymorphism over
// ContainerService". Service's public operations are default
// implementations atop this interface; there is no inheritance, only
// composition, matching the teacher's preference for small interfaces
// over base-struct embedding.
type Capabilities interface {
	// WorkspaceToCurrentDir returns the absolute path used as the
	// working directory for a repo within ws's container.
	WorkspaceToCurrentDir(ws *Workspace, repo *Repo) string
	// Create provisions ws's container directory and one worktree per
	// repo, mutating ws.ContainerRef.
	Create(ctx context.Context, ws *Workspace, repos []*Repo) error
	// Delete tears down ws's container directory.
	Delete(ctx context.Context, ws *Workspace) error
	// EnsureContainerExists verifies ws.ContainerRef still exists on
	// disk, re-provisioning if necessary.
	EnsureContainerExists(ctx context.Context, ws *Workspace, repos []*Repo) error
	// IsContainerClean reports whether every worktree in ws's container
	// has no uncommitted changes.
	IsContainerClean(ctx context.Context, ws *Workspace, repos []*Repo) (bool, error)
	// StartExecutionInner spawns the child process for action under
	// workingDir and wires its stdout/stderr into store. Implementations
	// own the actual process supervision; Service only orchestrates
	// state around the call.
	StartExecutionInner(ctx context.Context, ep *ExecutionProcess, action *Action, workingDir string, store *MsgStore) error
	// KillExecution force-terminates a previously started child process.
	KillExecution(ctx context.Context, ep *ExecutionProcess) error
	// TryCommitChanges best-effort commits any dirty worktree changes;
	// never returns an error for "nothing to commit".
	TryCommitChanges(ctx context.Context, ws *Workspace, repos []*Repo) error
	// CopyProjectFiles copies caller-configured auxiliary files (e.g.
	// .env) into a freshly created container.
	CopyProjectFiles(ctx context.Context, ws *Workspace, repos []*Repo) error
	// StreamDiff writes a unified diff of every repo's worktree against
	// its current HEAD to w.
	StreamDiff(ctx context.Context, ws *Workspace, repos []*Repo, w io.Writer) error
	// GitBranchPrefix returns the configured branch-name prefix (may be
	// empty).
	GitBranchPrefix() string
}

// Service implements the Container Service's public operations —
// Execution Lifecycle, Workspace Lifecycle — atop Capabilities, Store,
// Git, Notification, ExecutorRegistry and the shared MsgStore registry.
type Service struct {
	caps      Capabilities
	store     *Store
	git       Git
	notif     Notification
	stores    *StoreRegistry
	executors ExecutorRegistry
	logWriter *LogWriter
	log       *slog.Logger
}

// NewService wires a Service from its collaborators.
func NewService(caps Capabilities, store *Store, git Git, notif Notification, stores *StoreRegistry, executors ExecutorRegistry, logWriter *LogWriter, log *slog.Logger) *Service {
	return &Service{
		caps:      caps,
		store:     store,
		git:       git,
		notif:     notif,
		stores:    stores,
		executors: executors,
		logWriter: logWriter,
		log:       log.With("component", "container-service"),
	}
}

// -- Execution Lifecycle (spec.md §4.2) ------------------------------------

// StartExecution implements the 8-step algorithm of spec.md §4.2.
func (s *Service) StartExecution(ctx context.Context, ws *Workspace, sess *Session, action *Action, runReason RunReason) (*ExecutionProcess, error) {
	ctx, span := tracing.Start(ctx, "container.start_execution",
		attribute.String("emergent.workspace.id", ws.ID),
		attribute.String("emergent.session.id", sess.ID),
		attribute.String("emergent.run_reason", string(runReason)),
	)
	defer span.End()

	// 1. Load repos for workspace; fail if empty.
	repos, err := s.store.WorkspaceRepos(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, ErrWorkspace("workspace has no repos", nil)
	}

	// 2. For each repo compute before_head_commit (best-effort).
	beforeCommits := make(map[string]*string, len(repos))
	for _, r := range repos {
		dir := s.caps.WorkspaceToCurrentDir(ws, r)
		info, err := s.git.GetHeadInfo(ctx, dir)
		if err != nil {
			s.log.Warn("before_head_commit lookup failed", "repo", r.ID, "error", err)
			beforeCommits[r.ID] = nil
			continue
		}
		oid := info.OID
		beforeCommits[r.ID] = &oid
	}

	// 3. Insert ExecutionProcess + repo states in one transaction.
	ep := &ExecutionProcess{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		Status:         StatusRunning,
		RunReason:      runReason,
		ExecutorAction: action,
	}
	if err := s.store.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		txStore := s.store.WithTx(tx)
		if _, err := txStore.CreateExecutionProcess(ctx, ep); err != nil {
			return err
		}
		for _, r := range repos {
			st := &ExecutionProcessRepoState{ProcessID: ep.ID, RepoID: r.ID, BeforeHeadCommit: beforeCommits[r.ID]}
			if err := txStore.CreateRepoState(ctx, st); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// 4. Clear archived flag unless this is the archive script itself.
	if runReason != RunReasonArchiveScript && ws.Archived {
		ws.Archived = false
		if _, err := s.store.UpdateWorkspace(ctx, ws, "archived"); err != nil {
			return nil, err
		}
	}

	// 5. Insert CodingAgentTurn if prompt-bearing.
	if action.IsPromptBearing() {
		turn := &CodingAgentTurn{ID: uuid.NewString(), ExecutionProcessID: ep.ID, Prompt: action.PromptText()}
		if action.Type == ActionCodingAgentFollowUpRequest && action.CodingAgentFollowUp != nil {
			turn.AgentSessionID = &action.CodingAgentFollowUp.AgentSessionID
		}
		if _, err := s.store.CreateCodingAgentTurn(ctx, turn); err != nil {
			return nil, err
		}
	}

	// 6. Spawn the child and register a MsgStore.
	store := s.stores.Register(ep.ID)
	workingDir := s.effectiveDir(ws, repos, action)
	if err := s.caps.StartExecutionInner(ctx, ep, action, workingDir, store); err != nil {
		// 7. Failure path.
		s.stores.Take(ep.ID)
		ep.Status = StatusFailed
		if _, uerr := s.store.UpdateExecutionProcess(ctx, ep, "status"); uerr != nil {
			s.log.Error("failed to mark execution process Failed after spawn error", "error", uerr)
		}
		store.Push(LogMsg{Kind: LogKindStderr, Text: err.Error()})
		if program, ok := IsExecutableNotFound(err); ok {
			store.Push(LogMsg{Kind: LogKindJsonPatch, Patch: map[string]any{
				"op":   "add",
				"path": "/entries/2",
				"value": map[string]any{
					"type":    "ErrorMessage",
					"kind":    "SetupRequired",
					"program": program,
				},
			}})
		}
		store.PushFinished()
		return ep, err
	}

	// 8. On success, spawn normalize_logs (for agent/review) and the raw
	// log drain task.
	if action.IsAgentOrReview() {
		executor, err := s.executors.GetCodingAgentOrDefault(executorProfileID(action))
		if err != nil {
			s.log.Warn("failed to resolve executor for normalize_logs", "error", err)
		} else {
			go func() {
				if err := executor.NormalizeLogs(context.Background(), store, workingDir); err != nil {
					s.log.Error("normalize_logs task failed", "execution_id", ep.ID, "error", err)
				}
			}()
		}
	}
	go func() {
		if err := s.logWriter.StreamToStorage(context.Background(), sess.ID, ep.ID, store); err != nil {
			s.log.Error("log drain task failed", "execution_id", ep.ID, "error", err)
		}
	}()

	return ep, nil
}

func (s *Service) effectiveDir(ws *Workspace, repos []*Repo, action *Action) string {
	if len(repos) == 0 {
		if ws.AgentWorkingDir != nil {
			return *ws.AgentWorkingDir
		}
		return ""
	}
	return s.caps.WorkspaceToCurrentDir(ws, repos[0])
}

// StreamDiff writes a unified diff of ws's container against each repo's
// current HEAD to w.
func (s *Service) StreamDiff(ctx context.Context, ws *Workspace, w io.Writer) error {
	repos, err := s.store.WorkspaceRepos(ctx, ws.ID)
	if err != nil {
		return err
	}
	return s.caps.StreamDiff(ctx, ws, repos, w)
}

func executorProfileID(action *Action) string {
	switch action.Type {
	case ActionCodingAgentInitialRequest:
		if action.CodingAgentInitial != nil {
			return action.CodingAgentInitial.ExecutorConfig.ProfileID
		}
	case ActionCodingAgentFollowUpRequest:
		if action.CodingAgentFollowUp != nil {
			return action.CodingAgentFollowUp.ExecutorConfig.ProfileID
		}
	case ActionReviewRequest:
		if action.Review != nil {
			return action.Review.ExecutorConfig.ProfileID
		}
	}
	return ""
}

// StopExecution transitions a Running process to status, killing the
// child and closing its MsgStore. Idempotent: calling it again on an
// already-terminal process is a no-op.
func (s *Service) StopExecution(ctx context.Context, ep *ExecutionProcess, status Status) error {
	ctx, span := tracing.Start(ctx, "container.stop_execution",
		attribute.String("emergent.execution.id", ep.ID),
		attribute.String("emergent.status", string(status)),
	)
	defer span.End()

	if ep.Status != StatusRunning {
		return nil
	}
	if err := s.caps.KillExecution(ctx, ep); err != nil {
		s.log.Warn("kill execution failed", "execution_id", ep.ID, "error", err)
	}
	if store := s.stores.Take(ep.ID); store != nil {
		store.PushFinished()
	}
	ep.Status = status
	if _, err := s.store.UpdateExecutionProcess(ctx, ep, "status"); err != nil {
		return err
	}
	return nil
}

// ShouldFinalize is the pure truth-table function of spec.md §4.2.
func ShouldFinalize(runReason RunReason, status Status, hasNextAction bool) bool {
	if runReason == RunReasonDevServer {
		return false
	}
	if runReason == RunReasonSetupScript && !hasNextAction {
		return false
	}
	if status == StatusFailed || status == StatusKilled {
		return true
	}
	return !hasNextAction
}

// FinalizeTask sends exactly one notification for a terminal process, or
// none if Killed.
func (s *Service) FinalizeTask(ctx context.Context, ws *Workspace, ep *ExecutionProcess) error {
	switch ep.Status {
	case StatusCompleted, StatusFailed:
	case StatusKilled:
		return nil
	default:
		s.log.Warn("finalize_task called on non-terminal process", "execution_id", ep.ID, "status", ep.Status)
		return nil
	}

	body := "completed successfully."
	if ep.Status == StatusFailed {
		body = "failed."
	}
	name := ws.ID
	if ws.Name != nil && *ws.Name != "" {
		name = *ws.Name
	}
	return s.notif.Notify(ctx, fmt.Sprintf("Workspace Complete: %s", name), body)
}

// TryStartNextAction implements spec.md §4.2's chain-continuation step.
func (s *Service) TryStartNextAction(ctx context.Context, ws *Workspace, sess *Session, ep *ExecutionProcess) error {
	action := ep.ExecutorAction
	if action == nil || action.NextAction == nil {
		return nil
	}
	next := action.NextAction
	reason := NextRunReason(action, next)
	_, err := s.StartExecution(ctx, ws, sess, next, reason)
	return err
}

// -- Workspace Lifecycle (spec.md §4.7) ------------------------------------

// StartWorkspace provisions ws's container, creates a session, builds
// the setup/coding-agent/cleanup chain and starts it.
func (s *Service) StartWorkspace(ctx context.Context, ws *Workspace, repos []*Repo, cfg ExecutorConfig, prompt string) (*ExecutionProcess, error) {
	ctx, span := tracing.Start(ctx, "container.start_workspace",
		attribute.String("emergent.workspace.id", ws.ID),
	)
	defer span.End()

	if err := s.caps.Create(ctx, ws, repos); err != nil {
		return nil, err
	}
	if err := s.caps.CopyProjectFiles(ctx, ws, repos); err != nil {
		s.log.Warn("copy_project_files failed", "workspace_id", ws.ID, "error", err)
	}

	reloaded, err := s.store.GetWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	if reloaded != nil {
		ws = reloaded
	}

	profileID := cfg.ProfileID
	sess := &Session{ID: uuid.NewString(), WorkspaceID: ws.ID, Executor: &profileID}
	if _, err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	action := BuildSetupCleanupArchiveChain(repos, prompt, cfg)
	if AllParallel(ReposWithSetup(repos)) {
		return s.startParallelSetup(ctx, ws, sess, repos, action)
	}
	return s.StartExecution(ctx, ws, sess, action, runReasonForLeaf(action))
}

// startParallelSetup starts one process per parallel setup script plus a
// separate coding-agent process, per spec.md §4.1's parallel mode.
func (s *Service) startParallelSetup(ctx context.Context, ws *Workspace, sess *Session, repos []*Repo, chain *Action) (*ExecutionProcess, error) {
	setupActions := BuildParallelSetupActions(repos)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range setupActions {
		a := a
		g.Go(func() error {
			if _, err := s.StartExecution(gctx, ws, sess, a, RunReasonSetupScript); err != nil {
				s.log.Warn("parallel setup process failed to start", "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// The coding-agent action is chain's tail after stripping the
	// sequential-setup prefix BuildSetupCleanupArchiveChain would have
	// added; in all-parallel mode that prefix was never prepended, so
	// chain already begins at the coding-agent node.
	return s.StartExecution(ctx, ws, sess, chain, RunReasonCodingAgent)
}

func runReasonForLeaf(a *Action) RunReason {
	if a.Type == ActionScriptRequest {
		return RunReasonSetupScript
	}
	return RunReasonCodingAgent
}

// ArchiveWorkspace marks ws archived, stops dev servers, then attempts
// the archive script.
func (s *Service) ArchiveWorkspace(ctx context.Context, ws *Workspace, repos []*Repo) error {
	ctx, span := tracing.Start(ctx, "container.archive_workspace",
		attribute.String("emergent.workspace.id", ws.ID),
	)
	defer span.End()

	ws.Archived = true
	if _, err := s.store.UpdateWorkspace(ctx, ws, "archived"); err != nil {
		return err
	}

	sessions, err := s.store.ListSessionsByWorkspace(ctx, ws.ID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		running, err := s.store.RunningProcessesForSession(ctx, sess.ID)
		if err != nil {
			s.log.Warn("failed to list running processes during archive", "session_id", sess.ID, "error", err)
			continue
		}
		for _, ep := range running {
			if ep.RunReason != RunReasonDevServer {
				continue
			}
			if err := s.StopExecution(ctx, ep, StatusKilled); err != nil {
				s.log.Warn("failed to stop dev server during archive", "session_id", sess.ID, "execution_id", ep.ID, "error", err)
			}
		}
	}

	return s.TryRunArchiveScript(ctx, ws, repos)
}

// TryRunArchiveScript implements spec.md §4.7's silent-gate semantics.
func (s *Service) TryRunArchiveScript(ctx context.Context, ws *Workspace, repos []*Repo) error {
	sessions, err := s.store.ListSessionsByWorkspace(ctx, ws.ID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		running, err := s.store.RunningProcessesForSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		for _, ep := range running {
			if ep.RunReason != RunReasonDevServer {
				return nil
			}
		}
	}

	if err := s.caps.EnsureContainerExists(ctx, ws, repos); err != nil {
		return nil
	}

	archiveChain := BuildArchiveChain(repos)
	if archiveChain == nil {
		return nil
	}

	var sess *Session
	if len(sessions) > 0 {
		sess = sessions[len(sessions)-1]
	} else {
		sess = &Session{ID: uuid.NewString(), WorkspaceID: ws.ID}
		if _, err := s.store.CreateSession(ctx, sess); err != nil {
			return err
		}
	}

	_, err = s.StartExecution(ctx, ws, sess, archiveChain, RunReasonArchiveScript)
	return err
}

// CleanupOrphanExecutions implements spec.md §4.7's startup orphan sweep.
func (s *Service) CleanupOrphanExecutions(ctx context.Context) error {
	procs, err := s.store.RunningExecutionProcesses(ctx)
	if err != nil {
		return err
	}
	for _, ep := range procs {
		ep.Status = StatusFailed
		ep.ExitCode = nil
		if _, err := s.store.UpdateExecutionProcess(ctx, ep, "status", "exit_code"); err != nil {
			s.log.Error("failed to fail orphaned execution process", "execution_id", ep.ID, "error", err)
			continue
		}

		sess, err := s.store.GetSession(ctx, ep.SessionID)
		if err != nil || sess == nil {
			continue
		}
		ws, err := s.store.GetWorkspace(ctx, sess.WorkspaceID)
		if err != nil || ws == nil || ws.ContainerRef == nil {
			continue
		}

		repos, err := s.store.WorkspaceRepos(ctx, ws.ID)
		if err != nil {
			continue
		}
		states, err := s.store.RepoStatesForProcess(ctx, ep.ID)
		if err != nil {
			continue
		}
		byRepo := make(map[string]*ExecutionProcessRepoState, len(states))
		for _, st := range states {
			byRepo[st.RepoID] = st
		}
		for _, r := range repos {
			st, ok := byRepo[r.ID]
			if !ok {
				continue
			}
			dir := s.caps.WorkspaceToCurrentDir(ws, r)
			info, err := s.git.GetHeadInfo(ctx, dir)
			if err != nil {
				s.log.Warn("after_head_commit lookup failed during orphan sweep", "repo", r.ID, "error", err)
				continue
			}
			oid := info.OID
			st.AfterHeadCommit = &oid
			if err := s.store.UpdateRepoState(ctx, st, "after_head_commit"); err != nil {
				s.log.Error("failed to record after_head_commit during orphan sweep", "process_id", ep.ID, "repo_id", r.ID, "error", err)
			}
		}
	}
	return nil
}
