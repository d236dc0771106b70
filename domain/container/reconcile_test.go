package container

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/repos/my-service", "my-service"},
		{"my-service", "my-service"},
		{"/a/b/c", "c"},
		{"", ""},
		{"/trailing/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, baseName(tt.path), "path=%q", tt.path)
	}
}

func TestNewReconciler_ZeroIntervalDisablesPeriodicWorker(t *testing.T) {
	log := slog.Default()
	r := NewReconciler(nil, nil, nil, log, 0)

	require.Nil(t, r.worker)
	assert.NoError(t, r.StartPeriodic(context.Background()))
	assert.NoError(t, r.StopPeriodic(context.Background()))
}
