package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/errors"
)

func unsafeConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	return cfg
}

func TestExportStructure(t *testing.T) {
	s := completed(t, seqTen)
	path := filepath.Join(t.TempDir(), "model.pdb")

	out, err := ExportStructure(s, unsafeConfig(), ExportInput{Path: path, Slot: 0})
	require.NoError(t, err)
	assert.Equal(t, path, out.Path)
	assert.Equal(t, int64(len("ATOM "+seqTen)), out.Bytes)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ATOM "+seqTen, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestExportStructure_ExtensionMustMatchFormat(t *testing.T) {
	s := completed(t, seqTen)
	path := filepath.Join(t.TempDir(), "model.cif")

	_, err := ExportStructure(s, unsafeConfig(), ExportInput{Path: path})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportStructure_NoStructure(t *testing.T) {
	s := sessionWith(seqTen)
	_, err := ExportStructure(s, unsafeConfig(), ExportInput{Path: filepath.Join(t.TempDir(), "x.pdb")})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestExportStructure_OutsideAllowedDir(t *testing.T) {
	s := completed(t, seqTen)
	_, err := ExportStructure(s, config.DefaultConfig(), ExportInput{Path: filepath.Join(t.TempDir(), "x.pdb")})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestExportStructure_Overwrites(t *testing.T) {
	s := completed(t, seqTen)
	path := filepath.Join(t.TempDir(), "model.pdb")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0600))

	_, err := ExportStructure(s, unsafeConfig(), ExportInput{Path: path})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ATOM "+seqTen, string(data))

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExportBundle(t *testing.T) {
	s := completed(t, seqTen, seqAll)
	path := filepath.Join(t.TempDir(), "all.pdb")

	out, err := ExportBundle(s, unsafeConfig(), ExportInput{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "REMARK Total 2 structures")
}

func TestExportPath_Default(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := exportPath("", "my/session", "x.pdb")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".protkit", "exports", "my-session-x.pdb"), path)
}
