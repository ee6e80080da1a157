package session

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffoldhq/scaffold/src/aisdk"
	"github.com/scaffoldhq/scaffold/src/permission"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(afero.NewMemMapFs(), "/sessions", slog.Default())
	require.NoError(t, err)
	return m
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	m := newTestManager(t)

	sess := New("INIT")
	sess.Requirements.ProjectType = "web"
	sess.Requirements.Language = "python"
	sess.AppendMessage(&aisdk.Message{Role: "user", Content: "hello"})
	sess.Permissions = append(sess.Permissions, permission.Record{
		ID: "p1", Type: permission.TypeGlobal, Scope: "session", Granted: true, Remember: true,
	})

	require.NoError(t, m.Save(sess))

	loaded, err := m.Load(sess.ID)
	require.NoError(t, err)

	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "INIT", loaded.State)
	assert.Equal(t, "web", loaded.Requirements.ProjectType)
	require.Len(t, loaded.History, 1)
	assert.Equal(t, "hello", loaded.History[0].Content)
	require.Len(t, loaded.Permissions, 1)
	assert.True(t, loaded.Permissions[0].Granted)
}

func TestLoadMissingSession(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Load("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesAtomically(t *testing.T) {
	m := newTestManager(t)

	sess := New("INIT")
	require.NoError(t, m.Save(sess))

	sess.State = "PLANNING"
	require.NoError(t, m.Save(sess))

	loaded, err := m.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "PLANNING", loaded.State)

	// no temp files left behind
	ids, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, ids)
}

func TestSaveRejectsPendingConflict(t *testing.T) {
	m := newTestManager(t)

	sess := New("INIT")
	sess.PendingQuestion = &PendingQuestion{ID: "q", Question: "which db?"}
	sess.PendingPermission = &PendingPermission{ID: "p", Type: permission.TypeGlobal, Scope: "session"}

	err := m.Save(sess)
	assert.ErrorIs(t, err, ErrPendingConflict)
}

func TestPendingMutualExclusion(t *testing.T) {
	sess := New("INIT")

	require.NoError(t, sess.SetPendingQuestion(&PendingQuestion{Question: "type?", Field: "project_type"}))
	assert.True(t, sess.Waiting())

	err := sess.SetPendingPermission(&PendingPermission{Type: permission.TypeGlobal, Scope: "session"})
	assert.ErrorIs(t, err, ErrPendingConflict)

	sess.ClearPending()
	assert.False(t, sess.Waiting())
	require.NoError(t, sess.SetPendingPermission(&PendingPermission{Type: permission.TypeGlobal, Scope: "session"}))
}

func TestReplaceStreamingMessage(t *testing.T) {
	sess := New("INIT")
	sess.AppendMessage(&aisdk.Message{Role: "user", Content: "hi"})
	sess.AppendMessage(&aisdk.Message{Role: "assistant", Content: "partial tex", Streaming: true})

	sess.ReplaceStreamingMessage(&aisdk.Message{Role: "assistant", Content: "partial text, completed."})

	require.Len(t, sess.History, 2)
	assert.Equal(t, "partial text, completed.", sess.History[1].Content)
	assert.False(t, sess.History[1].Streaming)

	// idempotent: replacing again just appends, never merges
	sess.History[1].Streaming = true
	sess.ReplaceStreamingMessage(&aisdk.Message{Role: "assistant", Content: "partial text, completed."})
	require.Len(t, sess.History, 2)
	assert.Equal(t, "partial text, completed.", sess.History[1].Content)
}

func TestDeleteSession(t *testing.T) {
	m := newTestManager(t)

	sess := New("INIT")
	require.NoError(t, m.Save(sess))
	require.NoError(t, m.Delete(sess.ID))

	_, err := m.Load(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(sess.ID), ErrNotFound)
}

func TestCleanupExpired(t *testing.T) {
	m := newTestManager(t)
	m.SetExpiry(time.Hour)

	old := New("INIT")
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, m.Save(old))

	fresh := New("INIT")
	require.NoError(t, m.Save(fresh))

	removed, err := m.CleanupExpired()
	require.NoError(t, err)

	assert.Equal(t, []string{old.ID}, removed)

	ids, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids)
}

func TestLockSerializesAccess(t *testing.T) {
	m := newTestManager(t)

	unlock := m.Lock("s1")
	acquired := make(chan struct{})
	go func() {
		u := m.Lock("s1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestRequirementsCompletion(t *testing.T) {
	var r Requirements
	assert.Equal(t, 0, r.Completion())
	assert.False(t, r.CoreComplete())

	r.ProjectType = "api"
	r.Language = "go"
	assert.Equal(t, 50, r.Completion())

	r.ProjectName = "svc"
	r.FolderPath = "/tmp/svc"
	assert.Equal(t, 100, r.Completion())
	assert.True(t, r.CoreComplete())
}
