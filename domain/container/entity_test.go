package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkspace_Materialized(t *testing.T) {
	ws := &Workspace{}
	assert.False(t, ws.Materialized())

	empty := ""
	ws.ContainerRef = &empty
	assert.False(t, ws.Materialized())

	ref := "/containers/ws-1"
	ws.ContainerRef = &ref
	assert.True(t, ws.Materialized())
}

func TestRepo_HasScripts(t *testing.T) {
	r := &Repo{}
	assert.False(t, r.HasSetupScript())
	assert.False(t, r.HasCleanupScript())
	assert.False(t, r.HasArchiveScript())

	empty := ""
	r.SetupScript = &empty
	assert.False(t, r.HasSetupScript(), "blank script string should not count as present")

	script := "echo hi"
	r.SetupScript = &script
	assert.True(t, r.HasSetupScript())

	r.CleanupScript = &script
	assert.True(t, r.HasCleanupScript())

	r.ArchiveScript = &script
	assert.True(t, r.HasArchiveScript())
}
