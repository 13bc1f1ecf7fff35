package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadManifest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	values := map[string]string{"prospect name": "Dana", "objection": "price"}
	require.NoError(t, s.SaveManifest(ctx, "s1", values))

	got, err := s.LoadManifest(ctx, "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(values, got); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingManifest(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LoadManifest(context.Background(), "never-saved")
	require.NoError(t, err)
	if got != nil {
		t.Errorf("LoadManifest(absent) = %v, want nil", got)
	}
}

func TestSaveManifestUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveManifest(ctx, "s1", map[string]string{"a": "1"}))
	require.NoError(t, s.SaveManifest(ctx, "s1", map[string]string{"a": "2", "b": "3"}))

	got, err := s.LoadManifest(ctx, "s1")
	require.NoError(t, err)
	want := map[string]string{"a": "2", "b": "3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("manifest after upsert (-want +got):\n%s", diff)
	}
}

func TestDeleteManifest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveManifest(ctx, "s1", map[string]string{"a": "1"}))
	require.NoError(t, s.DeleteManifest(ctx, "s1"))

	got, err := s.LoadManifest(ctx, "s1")
	require.NoError(t, err)
	if got != nil {
		t.Errorf("LoadManifest after delete = %v, want nil", got)
	}

	// Deleting an absent session is a no-op.
	require.NoError(t, s.DeleteManifest(ctx, "s1"))
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveManifest(ctx, "s1", map[string]string{"a": "1"}))
	require.NoError(t, s.Close())

	// Values survive a reopen.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadManifest(ctx, "s1")
	require.NoError(t, err)
	if got["a"] != "1" {
		t.Errorf("manifest after reopen = %v, want a=1", got)
	}
}
