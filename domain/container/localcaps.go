package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// LocalCapabilities implements Capabilities against plain local
// directories: a workspace's container is "<containerRoot>/<workspace
// id>", holding one subdirectory per repo, each a git worktree checked
// out from that repo's canonical path at Branch.
type LocalCapabilities struct {
	containerRoot   string
	gitBranchPrefix string

	mu        sync.Mutex
	processes map[string]*exec.Cmd // execution id -> spawned child, for KillExecution
}

// NewLocalCapabilities builds a LocalCapabilities rooted at
// containerRoot, the directory under which every workspace's container
// is provisioned.
func NewLocalCapabilities(containerRoot string, gitBranchPrefix string) *LocalCapabilities {
	return &LocalCapabilities{
		containerRoot:   containerRoot,
		gitBranchPrefix: gitBranchPrefix,
		processes:       make(map[string]*exec.Cmd),
	}
}

func (c *LocalCapabilities) trackProcess(executionID string, cmd *exec.Cmd) {
	c.mu.Lock()
	c.processes[executionID] = cmd
	c.mu.Unlock()
}

func (c *LocalCapabilities) untrackProcess(executionID string) {
	c.mu.Lock()
	delete(c.processes, executionID)
	c.mu.Unlock()
}

func (c *LocalCapabilities) GitBranchPrefix() string { return c.gitBranchPrefix }

func (c *LocalCapabilities) WorkspaceToCurrentDir(ws *Workspace, repo *Repo) string {
	if ws.ContainerRef == nil {
		return ""
	}
	return filepath.Join(*ws.ContainerRef, repo.Name)
}

func (c *LocalCapabilities) containerPath(ws *Workspace) string {
	return filepath.Join(c.containerRoot, ws.ID)
}

// Create provisions ws's container directory and one git worktree per
// repo, pinned to ws.Branch.
func (c *LocalCapabilities) Create(ctx context.Context, ws *Workspace, repos []*Repo) error {
	root := c.containerPath(ws)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return ErrWorkspace("create container directory", err)
	}

	for _, r := range repos {
		dest := filepath.Join(root, r.Name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := c.addWorktree(ctx, r.Path, dest, ws.Branch); err != nil {
			return err
		}
	}

	ref := root
	ws.ContainerRef = &ref
	return nil
}

func (c *LocalCapabilities) addWorktree(ctx context.Context, repoPath, dest, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-B", branch, dest)
	cmd.Dir = repoPath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return ErrExecutableNotFound("git", err)
		}
		return ErrWorktree(fmt.Sprintf("git worktree add: %s", stderr.String()), err)
	}
	return nil
}

// Delete removes ws's container directory and every worktree within it.
func (c *LocalCapabilities) Delete(ctx context.Context, ws *Workspace) error {
	if ws.ContainerRef == nil {
		return nil
	}
	if err := os.RemoveAll(*ws.ContainerRef); err != nil {
		return ErrIO("delete container directory", err)
	}
	return nil
}

// EnsureContainerExists re-provisions ws's container if its directory
// has disappeared from disk.
func (c *LocalCapabilities) EnsureContainerExists(ctx context.Context, ws *Workspace, repos []*Repo) error {
	if ws.ContainerRef == nil {
		return c.Create(ctx, ws, repos)
	}
	if _, err := os.Stat(*ws.ContainerRef); err != nil {
		return c.Create(ctx, ws, repos)
	}
	return nil
}

// IsContainerClean reports whether every repo worktree has no
// uncommitted changes.
func (c *LocalCapabilities) IsContainerClean(ctx context.Context, ws *Workspace, repos []*Repo) (bool, error) {
	for _, r := range repos {
		dir := c.WorkspaceToCurrentDir(ws, r)
		cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
		cmd.Dir = dir
		out, err := cmd.Output()
		if err != nil {
			return false, ErrGit("git status", err)
		}
		if len(bytes.TrimSpace(out)) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// StartExecutionInner is a placeholder local spawn implementation: it
// runs the action's script/prompt as a direct shell command and streams
// its output into store. A production deployment substitutes a richer
// process supervisor (pty allocation, resource limits); the contract
// this method must honor is unchanged by that choice.
func (c *LocalCapabilities) StartExecutionInner(ctx context.Context, ep *ExecutionProcess, action *Action, workingDir string, store *MsgStore) error {
	script, ok := scriptCommand(action)
	if !ok {
		// Coding-agent/review actions are driven by the ExecutorRegistry,
		// not shelled out to directly; nothing further to spawn here.
		return nil
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Dir = workingDir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ErrExecutor("open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ErrExecutor("open stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return ErrExecutableNotFound("bash", err)
		}
		return ErrExecutor("start script", err)
	}

	c.trackProcess(ep.ID, cmd)

	go streamLines(stdout, LogKindStdout, store)
	go streamLines(stderr, LogKindStderr, store)
	go func() {
		_ = cmd.Wait()
		c.untrackProcess(ep.ID)
		store.PushFinished()
	}()

	return nil
}

func scriptCommand(action *Action) (string, bool) {
	if action.Type == ActionScriptRequest && action.Script != nil {
		return action.Script.Script, true
	}
	return "", false
}

func streamLines(r io.Reader, kind LogKind, store *MsgStore) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			store.Push(LogMsg{Kind: kind, Text: string(buf[:n])})
		}
		if err != nil {
			return
		}
	}
}

// KillExecution sends SIGKILL to the child spawned for ep by
// StartExecutionInner, if one is still tracked. A no-op for
// coding-agent/review processes (no local child to kill) and for
// processes that have already exited.
func (c *LocalCapabilities) KillExecution(ctx context.Context, ep *ExecutionProcess) error {
	c.mu.Lock()
	cmd, ok := c.processes[ep.ID]
	c.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return ErrKillFailed("kill execution", err)
	}
	return nil
}

// TryCommitChanges never errors for a clean tree.
func (c *LocalCapabilities) TryCommitChanges(ctx context.Context, ws *Workspace, repos []*Repo) error {
	for _, r := range repos {
		dir := c.WorkspaceToCurrentDir(ws, r)
		clean, err := c.IsContainerClean(ctx, ws, []*Repo{r})
		if err != nil || clean {
			continue
		}
		add := exec.CommandContext(ctx, "git", "add", "-A")
		add.Dir = dir
		if err := add.Run(); err != nil {
			continue
		}
		commit := exec.CommandContext(ctx, "git", "commit", "-m", "wip")
		commit.Dir = dir
		_ = commit.Run()
	}
	return nil
}

// CopyProjectFiles is a no-op by default; no auxiliary files are named
// anywhere in this domain's configuration.
func (c *LocalCapabilities) CopyProjectFiles(ctx context.Context, ws *Workspace, repos []*Repo) error {
	return nil
}

// StreamDiff writes each repo's `git diff HEAD` (worktree against the
// current HEAD, not the recorded before_head_commit) to w, repo by repo.
func (c *LocalCapabilities) StreamDiff(ctx context.Context, ws *Workspace, repos []*Repo, w io.Writer) error {
	for _, r := range repos {
		dir := c.WorkspaceToCurrentDir(ws, r)
		cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
		cmd.Dir = dir
		cmd.Stdout = w
		if err := cmd.Run(); err != nil {
			return ErrGit(fmt.Sprintf("git diff for repo %s", r.Name), err)
		}
	}
	return nil
}
