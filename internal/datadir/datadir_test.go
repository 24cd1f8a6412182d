package datadir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Resolution(t *testing.T) {
	envDir := t.TempDir()

	t.Setenv(EnvVar, envDir)
	dd, err := New("/should/be/ignored")
	require.NoError(t, err)
	assert.Equal(t, envDir, dd.Root())

	t.Setenv(EnvVar, "")
	dd, err = New("/srv/secretary")
	require.NoError(t, err)
	assert.Equal(t, "/srv/secretary", dd.Root())

	home, _ := os.UserHomeDir()
	dd, err = New("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, DefaultDirName), dd.Root())
}

func TestDataDir_DatabasePath(t *testing.T) {
	dd := &DataDir{root: "/srv/secretary"}

	assert.Equal(t, "/srv/secretary/data/secretary.db", dd.DatabasePath("secretary.db"))
	assert.Equal(t, "/var/lib/secretary.db", dd.DatabasePath("/var/lib/secretary.db"))
	assert.Equal(t, ":memory:", dd.DatabasePath(":memory:"))
}

func TestDataDir_PromptsPath(t *testing.T) {
	root := t.TempDir()
	dd := &DataDir{root: root}

	assert.Empty(t, dd.PromptsPath(""), "built-in catalog without a prompts.yaml")
	assert.Equal(t, filepath.Join(root, "texts", "zh.yaml"), dd.PromptsPath("texts/zh.yaml"))
	assert.Equal(t, "/etc/secretary/prompts.yaml", dd.PromptsPath("/etc/secretary/prompts.yaml"))

	require.NoError(t, os.WriteFile(filepath.Join(root, PromptsFile), []byte("{}\n"), 0600))
	assert.Equal(t, filepath.Join(root, PromptsFile), dd.PromptsPath(""))
}

func TestDataDir_EnsureDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fresh")
	dd := &DataDir{root: root}

	require.NoError(t, dd.EnsureDirs())
	require.NoError(t, dd.EnsureDirs(), "second call is a no-op")

	for _, dir := range []string{dd.Root(), dd.DatabaseDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err, "dir should exist: %s", dir)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm(), "permissions of %s", dir)
	}
}

func TestLoadEnv_FirstFileWins(t *testing.T) {
	t.Setenv(EnvFileVar, "")
	root := t.TempDir()
	extra := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"),
		[]byte("SECRETARY_TEST_A=from-data\nSECRETARY_TEST_EXISTING=from-file\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(extra, ".env"),
		[]byte("SECRETARY_TEST_A=from-extra\nSECRETARY_TEST_B=\"quoted value\"\n"), 0600))

	t.Setenv("SECRETARY_TEST_EXISTING", "from-shell")
	t.Setenv("SECRETARY_TEST_A", "")
	os.Unsetenv("SECRETARY_TEST_A")
	t.Setenv("SECRETARY_TEST_B", "")
	os.Unsetenv("SECRETARY_TEST_B")

	require.NoError(t, LoadEnv(root, extra))

	assert.Equal(t, "from-data", os.Getenv("SECRETARY_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("SECRETARY_TEST_B"))
	assert.Equal(t, "from-shell", os.Getenv("SECRETARY_TEST_EXISTING"))
}

func TestEnvFiles(t *testing.T) {
	t.Setenv(EnvFileVar, "")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("X=1\n"), 0600))

	files := EnvFiles(root, root, t.TempDir())
	assert.Equal(t, []string{filepath.Join(root, ".env")}, files, "duplicates and missing files are skipped")
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "nothing-here")))

	override := filepath.Join(t.TempDir(), "custom.env")
	t.Setenv(EnvFileVar, override)
	assert.Equal(t, []string{override}, EnvFiles(root))
}
