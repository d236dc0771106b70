package container

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGitBranchID(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"simple", "Fix the bug", "fix-the-bug"},
		{"punctuation collapses", "Fix!!the...bug???", "fix-the-bug"},
		{"leading/trailing trimmed", "  --Fix the bug--  ", "fix-the-bug"},
		{"already lowercase", "add-feature", "add-feature"},
		{"non-ascii dropped", "café fix", "caf-fix"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GitBranchID(tt.title))
		})
	}
}

func TestGitBranchFromWorkspace(t *testing.T) {
	id := "12345678-abcd-ef00-0000-000000000000"

	got := GitBranchFromWorkspace("agent", id, "Fix the bug")
	assert.Equal(t, "agent/12345678-fix-the-bug", got)

	got = GitBranchFromWorkspace("", id, "Fix the bug")
	assert.Equal(t, "12345678-fix-the-bug", got)

	got = GitBranchFromWorkspace("agent", id, "")
	assert.Equal(t, "agent/12345678", got, "empty slug should not leave a trailing hyphen")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcd1234", shortID("abcd1234-5678-90ab-cdef-000000000000"))
	assert.Equal(t, "abcd", shortID("ab-cd"))
	assert.True(t, strings.HasPrefix("abcd1234-5678", shortID("abcd1234-5678")))
}
