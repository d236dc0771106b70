package container

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/emergent-company/containersvc/pkg/pgutils"
)

// Store is the Bun-backed repository for every container-domain entity.
// One Store per request/transaction scope; db is typically a *bun.DB or
// a bun.Tx depending on caller (SafeTx pattern).
type Store struct {
	db bun.IDB
}

// NewStore creates a store bound to db.
func NewStore(db bun.IDB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx, for use inside a SafeTx callback.
func (s *Store) WithTx(tx bun.IDB) *Store {
	return &Store{db: tx}
}

// -- Repo ---------------------------------------------------------------

func (s *Store) CreateRepo(ctx context.Context, r *Repo) (*Repo, error) {
	if _, err := s.db.NewInsert().Model(r).Returning("*").Exec(ctx); err != nil {
		return nil, ErrDatabase("create repo", err)
	}
	return r, nil
}

func (s *Store) GetRepo(ctx context.Context, id string) (*Repo, error) {
	r := new(Repo)
	err := s.db.NewSelect().Model(r).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ErrDatabase("get repo", err)
	}
	return r, nil
}

func (s *Store) ListRepos(ctx context.Context, ids []string) ([]*Repo, error) {
	var repos []*Repo
	q := s.db.NewSelect().Model(&repos).Order("created_at ASC")
	if len(ids) > 0 {
		q = q.Where("id IN (?)", bun.In(ids))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, ErrDatabase("list repos", err)
	}
	return repos, nil
}

func (s *Store) UpdateRepo(ctx context.Context, r *Repo, fields ...string) (*Repo, error) {
	q := s.db.NewUpdate().Model(r).Where("id = ?", r.ID).Returning("*")
	if len(fields) > 0 {
		q = q.Column(fields...)
	}
	if _, err := q.Exec(ctx); err != nil {
		return nil, ErrDatabase("update repo", err)
	}
	return r, nil
}

// ReposWithPlaceholderNames returns repos whose name needs backfilling
// per spec.md §4.3 ("Backfill repo names"): empty or equal to their id.
func (s *Store) ReposWithPlaceholderNames(ctx context.Context) ([]*Repo, error) {
	var repos []*Repo
	err := s.db.NewSelect().Model(&repos).
		Where("name = '' OR name = id::text").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list repos with placeholder names", err)
	}
	return repos, nil
}

// -- Workspace ------------------------------------------------------------

func (s *Store) CreateWorkspace(ctx context.Context, w *Workspace) (*Workspace, error) {
	if _, err := s.db.NewInsert().Model(w).Returning("*").Exec(ctx); err != nil {
		return nil, ErrDatabase("create workspace", err)
	}
	return w, nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	w := new(Workspace)
	err := s.db.NewSelect().Model(w).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ErrDatabase("get workspace", err)
	}
	return w, nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, w *Workspace, fields ...string) (*Workspace, error) {
	q := s.db.NewUpdate().Model(w).Where("id = ?", w.ID).Returning("*")
	if len(fields) > 0 {
		q = q.Column(fields...)
	}
	if _, err := q.Exec(ctx); err != nil {
		return nil, ErrDatabase("update workspace", err)
	}
	return w, nil
}

func (s *Store) ListActiveWorkspaces(ctx context.Context) ([]*Workspace, error) {
	var workspaces []*Workspace
	err := s.db.NewSelect().Model(&workspaces).
		Where("archived = ?", false).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list active workspaces", err)
	}
	return workspaces, nil
}

// -- WorkspaceRepo --------------------------------------------------------

func (s *Store) AddWorkspaceRepo(ctx context.Context, wr *WorkspaceRepo) error {
	if _, err := s.db.NewInsert().Model(wr).Exec(ctx); err != nil {
		if pgutils.IsUniqueViolation(err) {
			return ErrConflict("repo already attached to workspace", err)
		}
		return ErrDatabase("add workspace repo", err)
	}
	return nil
}

// WorkspaceRepos returns the repos attached to workspaceID, in position
// order, joined to their Repo rows.
func (s *Store) WorkspaceRepos(ctx context.Context, workspaceID string) ([]*Repo, error) {
	var links []*WorkspaceRepo
	err := s.db.NewSelect().Model(&links).
		Where("workspace_id = ?", workspaceID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list workspace repos", err)
	}

	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.RepoID
	}
	repos, err := s.ListRepos(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Repo, len(repos))
	for _, r := range repos {
		byID[r.ID] = r
	}
	ordered := make([]*Repo, 0, len(links))
	for _, l := range links {
		if r, ok := byID[l.RepoID]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// -- Session ----------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess *Session) (*Session, error) {
	if _, err := s.db.NewInsert().Model(sess).Returning("*").Exec(ctx); err != nil {
		return nil, ErrDatabase("create session", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess := new(Session)
	err := s.db.NewSelect().Model(sess).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ErrDatabase("get session", err)
	}
	return sess, nil
}

func (s *Store) ListSessionsByWorkspace(ctx context.Context, workspaceID string) ([]*Session, error) {
	var sessions []*Session
	err := s.db.NewSelect().Model(&sessions).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list sessions", err)
	}
	return sessions, nil
}

// -- ExecutionProcess ---------------------------------------------------

func (s *Store) CreateExecutionProcess(ctx context.Context, ep *ExecutionProcess) (*ExecutionProcess, error) {
	if _, err := s.db.NewInsert().Model(ep).Returning("*").Exec(ctx); err != nil {
		return nil, ErrDatabase("create execution process", err)
	}
	return ep, nil
}

func (s *Store) GetExecutionProcess(ctx context.Context, id string) (*ExecutionProcess, error) {
	ep := new(ExecutionProcess)
	err := s.db.NewSelect().Model(ep).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ErrDatabase("get execution process", err)
	}
	return ep, nil
}

func (s *Store) UpdateExecutionProcess(ctx context.Context, ep *ExecutionProcess, fields ...string) (*ExecutionProcess, error) {
	q := s.db.NewUpdate().Model(ep).Where("id = ?", ep.ID).Returning("*")
	if len(fields) > 0 {
		q = q.Column(fields...)
	}
	if _, err := q.Exec(ctx); err != nil {
		return nil, ErrDatabase("update execution process", err)
	}
	return ep, nil
}

// DeleteExecutionProcess removes a process row by id — used by session
// reset's drop_at_and_after step. Cascades to its repo states and
// coding-agent turn via the foreign key ON DELETE CASCADE.
func (s *Store) DeleteExecutionProcess(ctx context.Context, id string) error {
	if _, err := s.db.NewDelete().Model((*ExecutionProcess)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return ErrDatabase("delete execution process", err)
	}
	return nil
}

// LastExecutionProcess returns the most recently created process for a
// session, or nil if the session has none yet.
func (s *Store) LastExecutionProcess(ctx context.Context, sessionID string) (*ExecutionProcess, error) {
	ep := new(ExecutionProcess)
	err := s.db.NewSelect().Model(ep).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ErrDatabase("get last execution process", err)
	}
	return ep, nil
}

// RunningProcessesForSession returns every process currently Running in
// the session, oldest first. Unlike LastExecutionProcess, this can
// return more than one row: a Running DevServer can coexist with a
// newer Running non-dev process in the same session, and callers that
// only inspect the latest process would miss the older one entirely.
func (s *Store) RunningProcessesForSession(ctx context.Context, sessionID string) ([]*ExecutionProcess, error) {
	var procs []*ExecutionProcess
	err := s.db.NewSelect().Model(&procs).
		Where("session_id = ?", sessionID).
		Where("status = ?", StatusRunning).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list running processes for session", err)
	}
	return procs, nil
}

// ProcessesAfter returns every process created at or after `after`'s
// created_at for the session, ordered oldest-first — used by session
// reset to enumerate what must be torn down.
func (s *Store) ProcessesAfter(ctx context.Context, sessionID string, after *ExecutionProcess) ([]*ExecutionProcess, error) {
	var procs []*ExecutionProcess
	err := s.db.NewSelect().Model(&procs).
		Where("session_id = ?", sessionID).
		Where("created_at >= ?", after.CreatedAt).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list processes after", err)
	}
	return procs, nil
}

// RunningExecutionProcesses returns every process currently Running,
// across all sessions — used by startup reconciliation's orphan sweep.
func (s *Store) RunningExecutionProcesses(ctx context.Context) ([]*ExecutionProcess, error) {
	var procs []*ExecutionProcess
	err := s.db.NewSelect().Model(&procs).
		Where("status = ?", StatusRunning).
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list running execution processes", err)
	}
	return procs, nil
}

// -- ExecutionProcessRepoState --------------------------------------------

func (s *Store) CreateRepoState(ctx context.Context, st *ExecutionProcessRepoState) error {
	if _, err := s.db.NewInsert().Model(st).Exec(ctx); err != nil {
		return ErrDatabase("create execution process repo state", err)
	}
	return nil
}

func (s *Store) UpdateRepoState(ctx context.Context, st *ExecutionProcessRepoState, fields ...string) error {
	q := s.db.NewUpdate().Model(st).
		Where("process_id = ?", st.ProcessID).
		Where("repo_id = ?", st.RepoID)
	if len(fields) > 0 {
		q = q.Column(fields...)
	}
	if _, err := q.Exec(ctx); err != nil {
		return ErrDatabase("update execution process repo state", err)
	}
	return nil
}

func (s *Store) RepoStatesForProcess(ctx context.Context, processID string) ([]*ExecutionProcessRepoState, error) {
	var states []*ExecutionProcessRepoState
	err := s.db.NewSelect().Model(&states).
		Where("process_id = ?", processID).
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list execution process repo states", err)
	}
	return states, nil
}

// RepoStatesMissingBeforeCommit returns every repo-state row with a NULL
// before_head_commit but non-NULL after_head_commit, the candidate set
// for spec.md §4.3's before_head_commit backfill.
func (s *Store) RepoStatesMissingBeforeCommit(ctx context.Context) ([]*ExecutionProcessRepoState, error) {
	var states []*ExecutionProcessRepoState
	err := s.db.NewSelect().Model(&states).
		Where("before_head_commit IS NULL").
		Where("after_head_commit IS NOT NULL").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list repo states missing before commit", err)
	}
	return states, nil
}

// PreviousRepoState returns the most recent repo-state row for (session,
// repo) with a non-null after_head_commit whose process was created
// strictly before beforeCreatedAt, used to resolve the "previous
// process's after_head_commit" backfill rule.
func (s *Store) PreviousRepoState(ctx context.Context, sessionID, repoID string, beforeCreatedAt any) (*ExecutionProcessRepoState, error) {
	st := new(ExecutionProcessRepoState)
	err := s.db.NewSelect().Model(st).
		Join("JOIN container.execution_processes AS ep ON ep.id = eprs.process_id").
		Where("ep.session_id = ?", sessionID).
		Where("eprs.repo_id = ?", repoID).
		Where("ep.created_at < ?", beforeCreatedAt).
		Where("eprs.after_head_commit IS NOT NULL").
		Order("ep.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ErrDatabase("get previous repo state", err)
	}
	return st, nil
}

// -- CodingAgentTurn ------------------------------------------------------

func (s *Store) CreateCodingAgentTurn(ctx context.Context, t *CodingAgentTurn) (*CodingAgentTurn, error) {
	if _, err := s.db.NewInsert().Model(t).Returning("*").Exec(ctx); err != nil {
		if pgutils.IsUniqueViolation(err) {
			return nil, ErrConflict("execution process already has a coding agent turn", err)
		}
		return nil, ErrDatabase("create coding agent turn", err)
	}
	return t, nil
}

func (s *Store) GetCodingAgentTurnByProcess(ctx context.Context, processID string) (*CodingAgentTurn, error) {
	t := new(CodingAgentTurn)
	err := s.db.NewSelect().Model(t).Where("execution_process_id = ?", processID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, ErrDatabase("get coding agent turn", err)
	}
	return t, nil
}

// -- LegacyExecutionLog ----------------------------------------------------

// CountLegacyLogs returns the number of rows in the legacy log table; a
// count of zero is the early-abort check of spec.md §4.5 step 1.
func (s *Store) CountLegacyLogs(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*LegacyExecutionLog)(nil)).Count(ctx)
	if err != nil {
		return 0, ErrDatabase("count legacy execution logs", err)
	}
	return n, nil
}

// DistinctLegacyExecutions returns the (session_id, execution_id) pairs
// present in the legacy table, the unit of work for log migration's
// bounded-concurrency worker pool.
func (s *Store) DistinctLegacyExecutions(ctx context.Context) ([]LegacyExecutionKey, error) {
	var keys []LegacyExecutionKey
	err := s.db.NewSelect().
		Model((*LegacyExecutionLog)(nil)).
		ColumnExpr("DISTINCT session_id, execution_id").
		Scan(ctx, &keys)
	if err != nil {
		return nil, ErrDatabase("list distinct legacy executions", err)
	}
	return keys, nil
}

// LegacyLogsForExecution returns every legacy row for one execution, in
// seq order.
func (s *Store) LegacyLogsForExecution(ctx context.Context, sessionID, executionID string) ([]*LegacyExecutionLog, error) {
	var logs []*LegacyExecutionLog
	err := s.db.NewSelect().Model(&logs).
		Where("session_id = ?", sessionID).
		Where("execution_id = ?", executionID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, ErrDatabase("list legacy logs for execution", err)
	}
	return logs, nil
}

// LegacyExecutionKey identifies one (session, execution) pair in the
// legacy log table.
type LegacyExecutionKey struct {
	SessionID   string `bun:"session_id"`
	ExecutionID string `bun:"execution_id"`
}
