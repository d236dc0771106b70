package container

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := ErrGit("clone failed", cause)

	assert.Equal(t, "Git: clone failed: boom", err.Error())
	assert.Equal(t, cause, err.Unwrap())

	bare := ErrOther("no cause", nil)
	assert.Equal(t, "Other: no cause", bare.Error())
}

func TestIsExecutableNotFound(t *testing.T) {
	err := ErrExecutableNotFound("claude-code", nil)
	program, ok := IsExecutableNotFound(err)
	assert.True(t, ok)
	assert.Equal(t, "claude-code", program)

	wrapped := fmt.Errorf("wrapping: %w", err)
	program, ok = IsExecutableNotFound(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "claude-code", program)

	_, ok = IsExecutableNotFound(ErrExecutor("generic failure", nil))
	assert.False(t, ok)

	_, ok = IsExecutableNotFound(errors.New("plain error"))
	assert.False(t, ok)
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"workspace not found", ErrWorkspace("missing", nil), http.StatusNotFound, "not_found"},
		{"session not found", ErrSession("missing", nil), http.StatusNotFound, "not_found"},
		{"execution process not found", ErrExecutionProcess("missing", nil), http.StatusNotFound, "not_found"},
		{"executable not found", ErrExecutableNotFound("rg", nil), http.StatusUnprocessableEntity, "setup_required"},
		{"generic executor error", ErrExecutor("crashed", nil), http.StatusBadGateway, "executor_error"},
		{"git error", ErrGit("conflict", nil), http.StatusConflict, "git_error"},
		{"worktree error", ErrWorktree("dirty", nil), http.StatusConflict, "git_error"},
		{"conflict error", ErrConflict("duplicate", nil), http.StatusConflict, "conflict"},
		{"other maps to internal", ErrOther("oops", nil), http.StatusInternalServerError, "internal_error"},
		{"non-container error maps to internal", errors.New("plain"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toAppError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantStatus, got.HTTPStatus)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}
