package container

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/containersvc/pkg/apperror"
	"github.com/emergent-company/containersvc/pkg/sse"
)

// Handler handles Container Service HTTP requests — thin request/response
// plumbing atop Service; no auth middleware is applied to its routes.
type Handler struct {
	svc         *Service
	store       *Store
	stores      *StoreRegistry
	executors   ExecutorRegistry
	assetRoot   string
	gitBranchPx string
	log         *slog.Logger
}

// NewHandler builds a Handler from its collaborators.
func NewHandler(svc *Service, store *Store, stores *StoreRegistry, executors ExecutorRegistry, assetRoot, gitBranchPrefix string, log *slog.Logger) *Handler {
	return &Handler{
		svc:         svc,
		store:       store,
		stores:      stores,
		executors:   executors,
		assetRoot:   assetRoot,
		gitBranchPx: gitBranchPrefix,
		log:         log.With("component", "container-handler"),
	}
}

// -- Requests ---------------------------------------------------------------

// CreateWorkspaceRequest is the body of POST /workspaces.
type CreateWorkspaceRequest struct {
	Name     string         `json:"name"`
	RepoIDs  []string       `json:"repoIds"`
	Prompt   string         `json:"prompt"`
	Executor ExecutorConfig `json:"executor"`
}

// StartExecutionRequest is the body of POST /sessions/:id/executions: the
// caller supplies an already-built action node (e.g. a follow-up prompt or
// a one-off script), Service derives everything else.
type StartExecutionRequest struct {
	Action    *Action   `json:"action"`
	RunReason RunReason `json:"runReason"`
}

// ResetSessionRequest is the body of POST /sessions/:id/reset.
type ResetSessionRequest struct {
	TargetProcessID string `json:"targetProcessId"`
	PerformGitReset bool   `json:"performGitReset"`
	ForceWhenDirty  bool   `json:"forceWhenDirty"`
}

// -- Workspace lifecycle ------------------------------------------------------

// CreateWorkspace handles POST /api/v1/container/workspaces: provisions a
// container over the named repos and starts the setup/coding-agent chain.
func (h *Handler) CreateWorkspace(c echo.Context) error {
	var req CreateWorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if len(req.RepoIDs) == 0 {
		return apperror.ErrBadRequest.WithMessage("at least one repo id required")
	}

	ctx := c.Request().Context()
	repos, err := h.store.ListRepos(ctx, req.RepoIDs)
	if err != nil {
		return toAppError(err)
	}
	if len(repos) != len(req.RepoIDs) {
		return apperror.ErrBadRequest.WithMessage("one or more repo ids not found")
	}

	id := uuid.NewString()
	ws := &Workspace{
		ID:     id,
		Name:   &req.Name,
		Branch: GitBranchFromWorkspace(h.gitBranchPx, id, req.Name),
	}
	ws, err = h.store.CreateWorkspace(ctx, ws)
	if err != nil {
		return toAppError(err)
	}
	for i, r := range repos {
		if err := h.store.AddWorkspaceRepo(ctx, &WorkspaceRepo{WorkspaceID: ws.ID, RepoID: r.ID, Position: i}); err != nil {
			return toAppError(err)
		}
	}

	ep, err := h.svc.StartWorkspace(ctx, ws, repos, req.Executor, req.Prompt)
	if err != nil {
		h.log.Error("start workspace failed", "workspace_id", ws.ID, "error", err)
		return toAppError(err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"workspace": ws, "executionProcess": ep})
}

// GetWorkspace handles GET /api/v1/container/workspaces/:id.
func (h *Handler) GetWorkspace(c echo.Context) error {
	id := c.Param("id")
	ws, err := h.store.GetWorkspace(c.Request().Context(), id)
	if err != nil {
		return toAppError(err)
	}
	if ws == nil {
		return apperror.NewNotFound("workspace", id)
	}
	return c.JSON(http.StatusOK, ws)
}

// ArchiveWorkspace handles POST /api/v1/container/workspaces/:id/archive.
func (h *Handler) ArchiveWorkspace(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	ws, err := h.store.GetWorkspace(ctx, id)
	if err != nil {
		return toAppError(err)
	}
	if ws == nil {
		return apperror.NewNotFound("workspace", id)
	}
	repos, err := h.store.WorkspaceRepos(ctx, ws.ID)
	if err != nil {
		return toAppError(err)
	}

	if err := h.svc.ArchiveWorkspace(ctx, ws, repos); err != nil {
		return toAppError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// StreamDiff handles GET /api/v1/container/workspaces/:id/diff: writes a
// unified diff of every repo's worktree against its HEAD as a plain
// chunked response.
func (h *Handler) StreamDiff(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	ws, err := h.store.GetWorkspace(ctx, id)
	if err != nil {
		return toAppError(err)
	}
	if ws == nil {
		return apperror.NewNotFound("workspace", id)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	if err := h.svc.StreamDiff(ctx, ws, c.Response().Writer); err != nil {
		h.log.Error("stream diff failed", "workspace_id", id, "error", err)
	}
	return nil
}

// -- Execution lifecycle ------------------------------------------------------

// StartExecution handles POST /api/v1/container/sessions/:id/executions.
func (h *Handler) StartExecution(c echo.Context) error {
	sessionID := c.Param("id")
	var req StartExecutionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if req.Action == nil {
		return apperror.ErrBadRequest.WithMessage("action required")
	}

	ctx := c.Request().Context()
	sess, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return toAppError(err)
	}
	if sess == nil {
		return apperror.NewNotFound("session", sessionID)
	}
	ws, err := h.store.GetWorkspace(ctx, sess.WorkspaceID)
	if err != nil {
		return toAppError(err)
	}
	if ws == nil {
		return apperror.NewNotFound("workspace", sess.WorkspaceID)
	}

	ep, err := h.svc.StartExecution(ctx, ws, sess, req.Action, req.RunReason)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusCreated, ep)
}

// StopExecution handles POST /api/v1/container/executions/:id/stop.
func (h *Handler) StopExecution(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	ep, err := h.store.GetExecutionProcess(ctx, id)
	if err != nil {
		return toAppError(err)
	}
	if ep == nil {
		return apperror.NewNotFound("execution_process", id)
	}

	if err := h.svc.StopExecution(ctx, ep, StatusKilled); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, ep)
}

// StreamRawLogs handles GET /api/v1/container/executions/:id/logs/raw over
// SSE: Stdout/Stderr/Finished entries, live if a MsgStore is registered,
// otherwise replayed from the on-disk file.
func (h *Handler) StreamRawLogs(c echo.Context) error {
	return h.streamLogs(c, false, func(k LogKind) bool {
		return k == LogKindStdout || k == LogKindStderr || k == LogKindFinished
	})
}

// StreamNormalizedLogs handles GET /api/v1/container/executions/:id/logs/normalized
// over SSE: JsonPatch/Finished entries only.
func (h *Handler) StreamNormalizedLogs(c echo.Context) error {
	return h.streamLogs(c, true, func(k LogKind) bool {
		return k == LogKindJsonPatch || k == LogKindFinished
	})
}

func (h *Handler) streamLogs(c echo.Context, renormalize bool, include func(LogKind) bool) error {
	executionID := c.Param("id")
	ctx := c.Request().Context()

	ep, err := h.store.GetExecutionProcess(ctx, executionID)
	if err != nil {
		return toAppError(err)
	}
	if ep == nil {
		return apperror.NewNotFound("execution_process", executionID)
	}

	w := sse.NewWriter(c.Response().Writer)
	if err := w.Start(); err != nil {
		return apperror.ErrInternal.WithMessage("streaming not supported")
	}

	if store := h.stores.Get(executionID); store != nil {
		sub := store.HistoryPlusStream(ctx)
		defer sub.Close()
		for msg := range sub.C {
			if !include(msg.Kind) {
				continue
			}
			if err := w.WriteData(msg); err != nil {
				return nil
			}
		}
		return nil
	}

	sess, err := h.store.GetSession(ctx, ep.SessionID)
	if err != nil || sess == nil {
		return nil
	}
	msgs, err := ReadRawLog(h.assetRoot, sess.ID, executionID)
	if err != nil {
		h.log.Error("read raw log failed", "execution_id", executionID, "error", err)
		return nil
	}

	if renormalize {
		msgs = h.renormalize(ctx, ep, msgs)
	}

	for _, msg := range msgs {
		if !include(msg.Kind) {
			continue
		}
		if err := w.WriteData(msg); err != nil {
			return nil
		}
	}
	return nil
}

// renormalize implements spec.md §4.4's fallback for stream_normalized_logs
// once an execution's live MsgStore has been evicted from StoreRegistry.
// logwriter.go never persists LogKindJsonPatch to the raw log file, so raw
// replay alone can't produce normalized entries: this seeds a throwaway
// MsgStore with the on-disk raw+patch history, finishes it, then re-runs
// the original executor's normalize_logs against it before reading back
// the JsonPatch entries it produced.
func (h *Handler) renormalize(ctx context.Context, ep *ExecutionProcess, msgs []LogMsg) []LogMsg {
	if ep.ExecutorAction == nil {
		return msgs
	}

	executor, err := h.executors.GetCodingAgentOrDefault(executorProfileID(ep.ExecutorAction))
	if err != nil {
		h.log.Warn("failed to resolve executor for renormalize", "execution_id", ep.ID, "error", err)
		return msgs
	}

	// Seed history without Finished first: normalize_logs needs to observe
	// it mid-stream to know when to stop, not before it has had a chance
	// to subscribe.
	temp := NewMsgStore()
	for _, m := range msgs {
		if m.Kind == LogKindFinished {
			continue
		}
		temp.Push(m)
	}

	done := make(chan error, 1)
	go func() { done <- executor.NormalizeLogs(ctx, temp, "") }()
	temp.PushFinished()

	if err := <-done; err != nil {
		h.log.Error("renormalize failed", "execution_id", ep.ID, "error", err)
		return msgs
	}

	sub := temp.HistoryPlusStream(ctx)
	defer sub.Close()
	var out []LogMsg
	for msg := range sub.C {
		out = append(out, msg)
	}
	return out
}

// -- Session reset ------------------------------------------------------------

// ResetSession handles POST /api/v1/container/sessions/:id/reset.
func (h *Handler) ResetSession(c echo.Context) error {
	sessionID := c.Param("id")
	var req ResetSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if req.TargetProcessID == "" {
		return apperror.ErrBadRequest.WithMessage("targetProcessId required")
	}

	if err := h.svc.ResetSessionToProcess(c.Request().Context(), sessionID, req.TargetProcessID, req.PerformGitReset, req.ForceWhenDirty); err != nil {
		return toAppError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
