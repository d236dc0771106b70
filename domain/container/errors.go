package container

import (
	"fmt"
	"net/http"

	"github.com/emergent-company/containersvc/pkg/apperror"
)

// ErrorKind enumerates the internal error taxonomy of spec.md §7. This is
// distinct from pkg/apperror, which carries the HTTP-facing error shape;
// ContainerError is converted to an *apperror.Error only at the handler
// boundary (see toAppError).
type ErrorKind string

const (
	ErrKindGit               ErrorKind = "Git"
	ErrKindDatabase          ErrorKind = "Database"
	ErrKindExecutor          ErrorKind = "Executor"
	ErrKindWorktree          ErrorKind = "Worktree"
	ErrKindWorkspace         ErrorKind = "Workspace"
	ErrKindWorkspaceManager  ErrorKind = "WorkspaceManager"
	ErrKindSession           ErrorKind = "Session"
	ErrKindExecutionProcess  ErrorKind = "ExecutionProcess"
	ErrKindIO                ErrorKind = "Io"
	ErrKindKillFailed        ErrorKind = "KillFailed"
	ErrKindConflict          ErrorKind = "Conflict"
	ErrKindOther             ErrorKind = "Other"
)

// ContainerError is the internal sum-style error for the Container
// Service. Executor carries a distinguished ExecutableNotFound payload,
// the only variant with a typed field per spec.md §7.
type ContainerError struct {
	Kind    ErrorKind
	Message string
	Program string // set only when Kind == ErrKindExecutor && ExecutableNotFound
	Cause   error
}

func (e *ContainerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ContainerError) Unwrap() error { return e.Cause }

// IsExecutableNotFound reports whether err is an Executor error whose
// program was not found, the variant that additionally emits a normalized
// SetupRequired conversation event on start_execution failure.
func IsExecutableNotFound(err error) (program string, ok bool) {
	var ce *ContainerError
	if !asContainerError(err, &ce) {
		return "", false
	}
	if ce.Kind == ErrKindExecutor && ce.Program != "" {
		return ce.Program, true
	}
	return "", false
}

func asContainerError(err error, out **ContainerError) bool {
	for err != nil {
		if ce, ok := err.(*ContainerError); ok {
			*out = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newErr(kind ErrorKind, msg string, cause error) *ContainerError {
	return &ContainerError{Kind: kind, Message: msg, Cause: cause}
}

func ErrGit(msg string, cause error) *ContainerError      { return newErr(ErrKindGit, msg, cause) }
func ErrDatabase(msg string, cause error) *ContainerError { return newErr(ErrKindDatabase, msg, cause) }
func ErrWorktree(msg string, cause error) *ContainerError { return newErr(ErrKindWorktree, msg, cause) }
func ErrWorkspace(msg string, cause error) *ContainerError {
	return newErr(ErrKindWorkspace, msg, cause)
}
func ErrWorkspaceManager(msg string, cause error) *ContainerError {
	return newErr(ErrKindWorkspaceManager, msg, cause)
}
func ErrSession(msg string, cause error) *ContainerError { return newErr(ErrKindSession, msg, cause) }
func ErrExecutionProcess(msg string, cause error) *ContainerError {
	return newErr(ErrKindExecutionProcess, msg, cause)
}
func ErrIO(msg string, cause error) *ContainerError         { return newErr(ErrKindIO, msg, cause) }
func ErrKillFailed(msg string, cause error) *ContainerError { return newErr(ErrKindKillFailed, msg, cause) }
func ErrConflict(msg string, cause error) *ContainerError   { return newErr(ErrKindConflict, msg, cause) }
func ErrOther(msg string, cause error) *ContainerError      { return newErr(ErrKindOther, msg, cause) }

// ErrExecutableNotFound builds the distinguished Executor variant that
// marks start_execution's setup-required path.
func ErrExecutableNotFound(program string, cause error) *ContainerError {
	return &ContainerError{Kind: ErrKindExecutor, Message: "executable not installed", Program: program, Cause: cause}
}

// ErrExecutor builds a generic Executor error (no distinguished program).
func ErrExecutor(msg string, cause error) *ContainerError {
	return newErr(ErrKindExecutor, msg, cause)
}

// toAppError maps a ContainerError to the HTTP-facing apperror shape at
// the handler boundary.
func toAppError(err error) *apperror.Error {
	var ce *ContainerError
	if !asContainerError(err, &ce) {
		return apperror.ErrInternal.WithInternal(err)
	}

	switch ce.Kind {
	case ErrKindWorkspace, ErrKindSession, ErrKindExecutionProcess:
		return apperror.New(http.StatusNotFound, "not_found", ce.Message).WithInternal(ce.Cause)
	case ErrKindExecutor:
		if ce.Program != "" {
			return apperror.New(http.StatusUnprocessableEntity, "setup_required", ce.Message).
				WithDetails(map[string]any{"program": ce.Program})
		}
		return apperror.New(http.StatusBadGateway, "executor_error", ce.Message).WithInternal(ce.Cause)
	case ErrKindGit, ErrKindWorktree:
		return apperror.New(http.StatusConflict, "git_error", ce.Message).WithInternal(ce.Cause)
	case ErrKindConflict:
		return apperror.New(http.StatusConflict, "conflict", ce.Message).WithInternal(ce.Cause)
	default:
		return apperror.ErrInternal.WithMessage(ce.Message).WithInternal(ce.Cause)
	}
}
