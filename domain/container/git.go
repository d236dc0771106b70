package container

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// HeadInfo is the result of Git.GetHeadInfo — spec.md §6.
type HeadInfo struct {
	OID string
}

// ReconcileOpts controls Git.ReconcileWorktreeToCommit — spec.md §6.
type ReconcileOpts struct {
	PerformReset   bool
	ForceWhenDirty bool
	IsDirty        bool
	Hard           bool
}

// Git is the external git-plumbing collaborator. Out of scope per
// spec.md §1 beyond this contract: the core only ever calls these three
// operations and never shells out to git directly itself.
type Git interface {
	// GetHeadInfo reads the current HEAD commit of the worktree at path.
	GetHeadInfo(ctx context.Context, path string) (HeadInfo, error)
	// GetBranchOID resolves branch to its commit oid in the repo at path.
	GetBranchOID(ctx context.Context, path, branch string) (string, error)
	// ReconcileWorktreeToCommit moves the worktree at path to oid
	// according to opts.
	ReconcileWorktreeToCommit(ctx context.Context, path, oid string, opts ReconcileOpts) error
}

// LocalGit implements Git by shelling out to the system git binary
// against a local worktree path. The Container Service's "container" is
// a plain directory (spec.md §Glossary), not a remote sandbox, so unlike
// teacher `domain/workspace/checkout.go`'s provider.Exec indirection
// there is no remote execution boundary to cross here.
type LocalGit struct {
	binary string
}

// NewLocalGit builds a LocalGit using the given git binary path, or
// "git" from $PATH when empty.
func NewLocalGit(binary string) *LocalGit {
	if binary == "" {
		binary = "git"
	}
	return &LocalGit{binary: binary}
}

func (g *LocalGit) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return "", ErrExecutableNotFound(g.binary, err)
		}
		return "", ErrGit(fmt.Sprintf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String())), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (g *LocalGit) GetHeadInfo(ctx context.Context, path string) (HeadInfo, error) {
	oid, err := g.run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return HeadInfo{}, err
	}
	return HeadInfo{OID: oid}, nil
}

func (g *LocalGit) GetBranchOID(ctx context.Context, path, branch string) (string, error) {
	return g.run(ctx, path, "rev-parse", branch)
}

// ReconcileWorktreeToCommit moves the worktree HEAD to oid. When
// opts.PerformReset is false this is a no-op (the caller only wanted the
// dirty check performed upstream). When the worktree is dirty, reset is
// only attempted if ForceWhenDirty is set; otherwise ErrWorktree is
// returned so the caller can surface a conflict rather than discard
// uncommitted work silently.
func (g *LocalGit) ReconcileWorktreeToCommit(ctx context.Context, path, oid string, opts ReconcileOpts) error {
	if !opts.PerformReset {
		return nil
	}
	if opts.IsDirty && !opts.ForceWhenDirty {
		return ErrWorktree("worktree has uncommitted changes", nil)
	}

	resetMode := "--mixed"
	if opts.Hard {
		resetMode = "--hard"
	}
	_, err := g.run(ctx, path, "reset", resetMode, oid)
	return err
}
