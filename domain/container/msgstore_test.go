package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMsg_IsReplayable(t *testing.T) {
	tests := []struct {
		kind LogKind
		want bool
	}{
		{LogKindStdout, true},
		{LogKindStderr, true},
		{LogKindJsonPatch, true},
		{LogKindFinished, true},
		{LogKindSessionID, false},
		{LogKindMessageID, false},
		{LogKindReady, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LogMsg{Kind: tt.kind}.IsReplayable(), "kind=%s", tt.kind)
	}
}

func TestMsgStore_PushThenHistoryPlusStream(t *testing.T) {
	store := NewMsgStore()
	store.Push(LogMsg{Kind: LogKindStdout, Text: "one"})
	store.Push(LogMsg{Kind: LogKindStdout, Text: "two"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub := store.HistoryPlusStream(ctx)
	defer sub.Close()

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, "one", first.Text)
	assert.Equal(t, "two", second.Text)

	store.Push(LogMsg{Kind: LogKindStdout, Text: "three"})
	third := <-sub.C
	assert.Equal(t, "three", third.Text)

	store.PushFinished()
	fin := <-sub.C
	assert.Equal(t, LogKindFinished, fin.Kind)

	_, ok := <-sub.C
	assert.False(t, ok, "channel should close after Finished")
}

func TestMsgStore_HistoryPlusStream_AlreadyFinished(t *testing.T) {
	store := NewMsgStore()
	store.Push(LogMsg{Kind: LogKindStdout, Text: "one"})
	store.PushFinished()

	assert.True(t, store.IsFinished())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub := store.HistoryPlusStream(ctx)
	defer sub.Close()

	var got []LogMsg
	for m := range sub.C {
		got = append(got, m)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, LogKindFinished, got[1].Kind)
}

func TestMsgStore_PushAfterFinishedIsNoOp(t *testing.T) {
	store := NewMsgStore()
	store.PushFinished()
	store.Push(LogMsg{Kind: LogKindStdout, Text: "too late"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub := store.HistoryPlusStream(ctx)
	defer sub.Close()

	var got []LogMsg
	for m := range sub.C {
		got = append(got, m)
	}
	require.Len(t, got, 1)
	assert.Equal(t, LogKindFinished, got[0].Kind)
}

func TestMsgStore_MultipleSubscribersGetIndependentHistory(t *testing.T) {
	store := NewMsgStore()
	store.Push(LogMsg{Kind: LogKindStdout, Text: "a"})

	ctx := context.Background()
	sub1 := store.HistoryPlusStream(ctx)
	defer sub1.Close()

	store.Push(LogMsg{Kind: LogKindStdout, Text: "b"})

	sub2 := store.HistoryPlusStream(ctx)
	defer sub2.Close()

	m1 := <-sub1.C
	assert.Equal(t, "a", m1.Text)
	m1b := <-sub1.C
	assert.Equal(t, "b", m1b.Text)

	m2 := <-sub2.C
	assert.Equal(t, "a", m2.Text)
	m2b := <-sub2.C
	assert.Equal(t, "b", m2b.Text)
}

func TestStoreRegistry_RegisterGetTake(t *testing.T) {
	reg := NewStoreRegistry()

	assert.Nil(t, reg.Get("missing"))

	store := reg.Register("exec-1")
	require.NotNil(t, store)
	assert.Same(t, store, reg.Get("exec-1"))

	taken := reg.Take("exec-1")
	assert.Same(t, store, taken)
	assert.Nil(t, reg.Get("exec-1"), "taken store should no longer be registered")
	assert.Nil(t, reg.Take("exec-1"), "taking twice returns nil")
}
