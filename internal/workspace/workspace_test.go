package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/0kenx/mcp-servers/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) (*Workspace, string) {
	t.Helper()
	root := t.TempDir()
	// TempDir may live behind symlinks (e.g. /var on macOS); use the
	// resolved form as the allowlist root so containment checks compare
	// canonical paths.
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	logger, _ := logging.NewTestLogger()
	ws, err := New([]string{resolved}, logger)
	require.NoError(t, err)
	return ws, resolved
}

func TestNewRejectsBadRoots(t *testing.T) {
	logger, _ := logging.NewTestLogger()

	t.Run("no roots", func(t *testing.T) {
		_, err := New(nil, logger)
		assert.Error(t, err)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := New([]string{"/definitely/does/not/exist"}, logger)
		assert.Error(t, err)
	})

	t.Run("root is a file", func(t *testing.T) {
		dir := t.TempDir()
		f := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
		_, err := New([]string{f}, logger)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	ws, root := newTestWorkspace(t)

	t.Run("existing file inside", func(t *testing.T) {
		target := filepath.Join(root, "a.txt")
		require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

		got, err := ws.Validate(target)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	})

	t.Run("new file with existing parent", func(t *testing.T) {
		target := filepath.Join(root, "new.txt")
		got, err := ws.Validate(target)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	})

	t.Run("new file with missing parent", func(t *testing.T) {
		_, err := ws.Validate(filepath.Join(root, "nodir", "new.txt"))
		assert.Error(t, err)
	})

	t.Run("outside the allowlist", func(t *testing.T) {
		_, err := ws.Validate("/etc/passwd")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOutsideWorkspace)
	})

	t.Run("traversal escaping the root", func(t *testing.T) {
		_, err := ws.Validate(filepath.Join(root, "..", "escape.txt"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOutsideWorkspace)
	})

	t.Run("symlink escaping the root", func(t *testing.T) {
		outside := t.TempDir()
		secret := filepath.Join(outside, "secret.txt")
		require.NoError(t, os.WriteFile(secret, []byte("s"), 0o644))

		link := filepath.Join(root, "link.txt")
		require.NoError(t, os.Symlink(secret, link))

		_, err := ws.Validate(link)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOutsideWorkspace)
	})

	t.Run("symlink staying inside the root", func(t *testing.T) {
		target := filepath.Join(root, "real.txt")
		require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
		link := filepath.Join(root, "alias.txt")
		require.NoError(t, os.Symlink(target, link))

		got, err := ws.Validate(link)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	})
}

func TestRootFor(t *testing.T) {
	ws, root := newTestWorkspace(t)

	t.Run("falls back to the allowed root", func(t *testing.T) {
		got, err := ws.RootFor(filepath.Join(root, "sub", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, root, got)
	})

	t.Run("prefers the .mcp marker", func(t *testing.T) {
		project := filepath.Join(root, "project")
		require.NoError(t, os.MkdirAll(filepath.Join(project, MCPDirName), 0o755))

		got, err := ws.RootFor(filepath.Join(project, "src", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, project, got)
	})
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, MCPDirName), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindRoot(nested)
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, resolved, gotResolved)

	t.Run("no marker anywhere", func(t *testing.T) {
		_, err := FindRoot(t.TempDir())
		assert.Error(t, err)
	})
}

func TestHistoryRoot(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", ".mcp", "edit_history"), HistoryRoot("/ws"))
}
