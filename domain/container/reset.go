package container

import (
	"context"

	"github.com/emergent-company/containersvc/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// ResetSessionToProcess implements spec.md §4.6's reset_session_to_process:
// rewinds sessionID to targetProcessID by reconciling every repo's
// worktree to the target's before_head_commit, stopping every running
// process in the workspace except dev servers, and dropping the target and every
// later process in the session.
func (s *Service) ResetSessionToProcess(ctx context.Context, sessionID, targetProcessID string, performGitReset, forceWhenDirty bool) error {
	ctx, span := tracing.Start(ctx, "container.reset_session_to_process",
		attribute.String("emergent.session.id", sessionID),
		attribute.String("emergent.target_process.id", targetProcessID),
	)
	defer span.End()

	// 1. Load process; reject if it belongs to a different session.
	target, err := s.store.GetExecutionProcess(ctx, targetProcessID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrExecutionProcess("target process not found", nil)
	}
	if target.SessionID != sessionID {
		return ErrExecutionProcess("target process does not belong to session", nil)
	}

	// 2. Load session, workspace, repos, per-repo states for the target.
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSession("session not found", nil)
	}
	ws, err := s.store.GetWorkspace(ctx, sess.WorkspaceID)
	if err != nil {
		return err
	}
	if ws == nil {
		return ErrWorkspace("workspace not found", nil)
	}
	repos, err := s.store.WorkspaceRepos(ctx, ws.ID)
	if err != nil {
		return err
	}
	states, err := s.store.RepoStatesForProcess(ctx, target.ID)
	if err != nil {
		return err
	}
	statesByRepo := make(map[string]*ExecutionProcessRepoState, len(states))
	for _, st := range states {
		statesByRepo[st.RepoID] = st
	}

	// 3. Ensure the container exists.
	if err := s.caps.EnsureContainerExists(ctx, ws, repos); err != nil {
		return err
	}

	// 4. Compute is_dirty.
	clean, err := s.caps.IsContainerClean(ctx, ws, repos)
	if err != nil {
		return err
	}
	isDirty := !clean

	// 5. Per repo, reconcile the worktree to the target oid (best-effort).
	for _, r := range repos {
		st := statesByRepo[r.ID]
		targetOID := resolveTargetOID(st)
		if targetOID == "" {
			prev, err := s.store.PreviousRepoState(ctx, sessionID, r.ID, target.CreatedAt)
			if err != nil {
				s.log.Warn("previous repo state lookup failed during reset", "repo_id", r.ID, "error", err)
			} else if prev != nil && prev.AfterHeadCommit != nil {
				targetOID = *prev.AfterHeadCommit
			}
		}
		if targetOID == "" {
			continue
		}

		dir := s.caps.WorkspaceToCurrentDir(ws, r)
		opts := ReconcileOpts{
			PerformReset:   performGitReset,
			ForceWhenDirty: forceWhenDirty,
			IsDirty:        isDirty,
			Hard:           performGitReset,
		}
		if err := s.git.ReconcileWorktreeToCommit(ctx, dir, targetOID, opts); err != nil {
			s.log.Warn("worktree reconciliation failed during reset", "repo_id", r.ID, "error", err)
		}
	}

	// 6. try_stop: stop every Running non-DevServer process in the
	// workspace.
	if err := s.tryStopWorkspace(ctx, ws.ID); err != nil {
		return err
	}

	// 7. Drop target and every later process in the session.
	procs, err := s.store.ProcessesAfter(ctx, sessionID, target)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if err := s.store.DeleteExecutionProcess(ctx, p.ID); err != nil {
			return err
		}
	}

	return nil
}

// resolveTargetOID returns st.BeforeHeadCommit, or "" if st is nil or
// unset.
func resolveTargetOID(st *ExecutionProcessRepoState) string {
	if st == nil || st.BeforeHeadCommit == nil {
		return ""
	}
	return *st.BeforeHeadCommit
}

// tryStopWorkspace stops every Running non-DevServer process across
// every session of workspaceID. Never errors for "nothing running".
func (s *Service) tryStopWorkspace(ctx context.Context, workspaceID string) error {
	sessions, err := s.store.ListSessionsByWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		running, err := s.store.RunningProcessesForSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		for _, ep := range running {
			if ep.IsDevServer() {
				continue
			}
			if err := s.StopExecution(ctx, ep, StatusKilled); err != nil {
				return err
			}
		}
	}
	return nil
}
