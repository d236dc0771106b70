package container

import (
	"context"
	"log/slog"
	"time"

	"github.com/emergent-company/containersvc/internal/jobs"
)

// Reconciler runs spec.md §4.3/§4.7's startup reconciliation sweeps
// (orphan cleanup, before-commit backfill, repo-name backfill) and
// optionally re-runs them on an interval as a supplementary safety net
// beyond the spec's startup-only guarantee.
type Reconciler struct {
	svc    *Service
	store  *Store
	git    Git
	log    *slog.Logger
	worker *jobs.Worker
}

// NewReconciler builds a Reconciler. If interval is zero the periodic
// safety net is disabled; only RunStartup needs to be called explicitly.
func NewReconciler(svc *Service, store *Store, git Git, log *slog.Logger, interval time.Duration) *Reconciler {
	r := &Reconciler{svc: svc, store: store, git: git, log: log.With("component", "reconciler")}
	if interval > 0 {
		cfg := jobs.WorkerConfig{Name: "container-reconcile", PollInterval: interval}
		r.worker = jobs.NewWorker(cfg, log, func(ctx context.Context) error {
			return r.RunStartup(ctx)
		})
	}
	return r
}

// StartPeriodic starts the optional periodic safety-net worker, if
// configured. No-op if NewReconciler was called with interval == 0.
func (r *Reconciler) StartPeriodic(ctx context.Context) error {
	if r.worker == nil {
		return nil
	}
	return r.worker.Start(ctx)
}

// StopPeriodic stops the periodic safety-net worker, if running.
func (r *Reconciler) StopPeriodic(ctx context.Context) error {
	if r.worker == nil {
		return nil
	}
	return r.worker.Stop(ctx)
}

// RunStartup runs every reconciliation sweep in sequence. Per spec.md §7's
// propagation policy, each step logs per-row failures and continues; the
// overall operation returns Ok (nil) unless a step itself cannot run at
// all (e.g. the initial query fails).
func (r *Reconciler) RunStartup(ctx context.Context) error {
	if err := r.svc.CleanupOrphanExecutions(ctx); err != nil {
		return err
	}
	if err := r.backfillBeforeHeadCommits(ctx); err != nil {
		return err
	}
	if err := r.backfillRepoNames(ctx); err != nil {
		return err
	}
	return nil
}

// backfillBeforeHeadCommits implements spec.md §4.3's backfill algorithm.
func (r *Reconciler) backfillBeforeHeadCommits(ctx context.Context) error {
	states, err := r.store.RepoStatesMissingBeforeCommit(ctx)
	if err != nil {
		return err
	}

	for _, st := range states {
		proc, err := r.store.GetExecutionProcess(ctx, st.ProcessID)
		if err != nil || proc == nil {
			r.log.Warn("backfill: could not load process for repo state", "process_id", st.ProcessID, "error", err)
			continue
		}

		prev, err := r.store.PreviousRepoState(ctx, proc.SessionID, st.RepoID, proc.CreatedAt)
		if err == nil && prev != nil && prev.AfterHeadCommit != nil {
			st.BeforeHeadCommit = prev.AfterHeadCommit
			if err := r.store.UpdateRepoState(ctx, st, "before_head_commit"); err != nil {
				r.log.Error("backfill: failed to persist before_head_commit", "process_id", st.ProcessID, "repo_id", st.RepoID, "error", err)
			}
			continue
		}

		repo, err := r.store.GetRepo(ctx, st.RepoID)
		if err != nil || repo == nil {
			r.log.Warn("backfill: could not load repo", "repo_id", st.RepoID, "error", err)
			continue
		}
		sess, err := r.store.GetSession(ctx, proc.SessionID)
		if err != nil || sess == nil {
			continue
		}
		ws, err := r.store.GetWorkspace(ctx, sess.WorkspaceID)
		if err != nil || ws == nil {
			continue
		}

		oid, err := r.git.GetBranchOID(ctx, repo.Path, ws.Branch)
		if err != nil {
			r.log.Warn("backfill: resolving branch oid failed, leaving unset", "repo_id", st.RepoID, "branch", ws.Branch, "error", err)
			continue
		}
		st.BeforeHeadCommit = &oid
		if err := r.store.UpdateRepoState(ctx, st, "before_head_commit"); err != nil {
			r.log.Error("backfill: failed to persist resolved before_head_commit", "process_id", st.ProcessID, "repo_id", st.RepoID, "error", err)
		}
	}
	return nil
}

// backfillRepoNames implements spec.md §4.3's sentinel-placeholder
// repo-name backfill: name = path.file_name().
func (r *Reconciler) backfillRepoNames(ctx context.Context) error {
	repos, err := r.store.ReposWithPlaceholderNames(ctx)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		repo.Name = baseName(repo.Path)
		if _, err := r.store.UpdateRepo(ctx, repo, "name"); err != nil {
			r.log.Error("backfill: failed to persist repo name", "repo_id", repo.ID, "error", err)
		}
	}
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
