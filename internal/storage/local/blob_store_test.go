package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ddbot/internal/storage/local"
)

func TestNewCreatesDumpDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data", "dumps")
	_, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsBadDirectories(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.ErrorContains(t, err, "required")

	file := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.Error(t, err)
}

func TestPutObjectWritesAndReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "debug_mtn.html", "text/html", strings.NewReader("first"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "debug_mtn.html"), uri)

	_, err = store.PutObject(ctx, "debug_mtn.html", "text/html", strings.NewReader("second"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, "debug_mtn.html"))
	require.NoError(t, err)
	require.Equal(t, "second", string(got))

	_, err = store.PutObject(ctx, "vodacom/props.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "vodacom", "props.json"))
}

func TestPutObjectRejectsBadNames(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	for _, name := range []string{"", ".", "../escape.txt", "a/../../escape.txt"} {
		_, err := store.PutObject(context.Background(), name, "text/plain", strings.NewReader("x"))
		require.Error(t, err, name)
	}
}
