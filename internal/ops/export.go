package ops

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/session"
)

// ExportInput contains parameters for the export operations.
type ExportInput struct {
	Path   string // optional, default: ~/.protkit/exports/<session>-<artifact name>
	Slot   int    // ExportStructure only
	Format string // ExportBundle only: pdb (default) or mmcif
}

// ExportOutput contains the result of an export.
type ExportOutput struct {
	Path       string `json:"path"`
	Bytes      int64  `json:"bytes"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportStructure writes the structure of one slot to a .pdb or .cif file.
func ExportStructure(s *session.State, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	st, err := Structure(s, input.Slot)
	if err != nil {
		return nil, err
	}
	path, err := exportPath(input.Path, s.Name, predict.FileName(st))
	if err != nil {
		return nil, err
	}
	if want := predict.ArtifactFor(st.Format).Extension; !strings.EqualFold(filepath.Ext(path), want) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("%s structure must be saved with extension %s", st.Format, want))
	}
	return writeArtifact(path, StructureExts, cfg, 1, func(w io.Writer) error {
		_, err := io.WriteString(w, st.Content)
		return err
	})
}

// ExportBundle writes the merged structures of a session.
func ExportBundle(s *session.State, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	b, err := Bundle(s, input.Format)
	if err != nil {
		return nil, err
	}
	path, err := exportPath(input.Path, s.Name, b.FileName)
	if err != nil {
		return nil, err
	}
	if want := predict.ArtifactFor(b.Format).Extension; !strings.EqualFold(filepath.Ext(path), want) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("%s bundle must be saved with extension %s", b.Format, want))
	}
	return writeArtifact(path, StructureExts, cfg, b.Count, func(w io.Writer) error {
		_, err := io.WriteString(w, b.Content)
		return err
	})
}

// exportPath returns path, or the default location for name when path is empty.
func exportPath(path, sessionName, name string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SanitizeForFilename(sessionName)+"-"+name), nil
}

// writeArtifact validates path and writes the artifact through a temp file
// that is renamed into place, so an existing file survives a failed write.
func writeArtifact(path string, exts []string, cfg *config.Config, count int, write func(io.Writer) error) (*ExportOutput, error) {
	// Validate ALL paths (both user-provided and default) for security
	if err := ValidatePath(path, PathCheckWrite, exts, cfg); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	cw := &countingWriter{w: file}
	if err := write(cw); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}

	// Close before rename (required on Windows)
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path must not be a symlink")
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       path,
		Bytes:      cw.n,
		Count:      count,
		ExportedAt: time.Now().Unix(),
	}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
