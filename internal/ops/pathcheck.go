package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/errors"
)

// PathCheckMode indicates whether the path check is for reading or writing.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // FASTA import
	PathCheckWrite                      // structure, bundle and workbook exports
)

// Extensions accepted per artifact.
var (
	StructureExts = []string{".pdb", ".cif"}
	WorkbookExts  = []string{".xlsx"}
	FASTAExts     = []string{".fasta", ".fa", ".faa"}
)

// ValidatePath checks a user-supplied import or export path.
//
// The path must not contain "..", must end in one of exts, and must name a
// file directly inside ~/.protkit/exports or a configured allowed path.
// Neither the file nor its parent directory may be a symlink. Files opened
// afterwards use O_NOFOLLOW, so together with the no-subdirectory rule no
// intermediate component can be swapped between this check and the open.
//
// AllowUnsafePaths lifts the directory rule only.
func ValidatePath(path string, mode PathCheckMode, exts []string, cfg *config.Config) error {
	absPath, err := checkShape(path, exts)
	if err != nil {
		return err
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		if err := checkRoot(absPath, cfg); err != nil {
			return err
		}
	}

	if mode == PathCheckRead {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return errors.NewFileNotFound(path)
		}
	}
	if isSymlink(absPath) {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// checkShape validates the path text and returns it absolute.
func checkShape(path string, exts []string) (string, error) {
	if path == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}
	cleaned := filepath.Clean(path)
	if !slices.Contains(exts, strings.ToLower(filepath.Ext(cleaned))) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("path must have one of the extensions %s", strings.Join(exts, ", ")))
	}
	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	return absPath, nil
}

// checkRoot requires absPath to sit directly in an export root whose
// directory is not itself a symlink.
func checkRoot(absPath string, cfg *config.Config) error {
	roots, err := exportRoots(cfg)
	if err != nil {
		return err
	}
	parent := filepath.Dir(absPath)
	if !slices.Contains(roots, parent) {
		return errors.NewInvalidRequest(
			fmt.Sprintf("file must be directly in an allowed directory (no subdirectories); allowed: %v", roots))
	}
	if isSymlink(parent) {
		return errors.NewInvalidRequest("parent directory must not be a symlink")
	}
	return nil
}

// exportRoots lists the directories exports may be written to, absolute and
// cleaned. A root that is a symlink is replaced by its target.
func exportRoots(cfg *config.Config) ([]string, error) {
	base, err := DefaultExportsDir()
	if err != nil {
		return nil, err
	}
	candidates := []string{base}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			// Relative entries would depend on the working directory
			if filepath.IsAbs(p) {
				candidates = append(candidates, p)
			}
		}
	}

	roots := make([]string, 0, len(candidates))
	for _, c := range candidates {
		abs, err := filepath.Abs(filepath.Clean(c))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if isSymlink(abs) {
			if abs, err = filepath.EvalSymlinks(abs); err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
		}
		roots = append(roots, abs)
	}
	return roots, nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// DefaultExportsDir returns ~/.protkit/exports.
func DefaultExportsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, ".protkit", "exports"), nil
}

// containsTraversal reports whether any component of path is "..".
// Forward slashes count as separators on every platform.
func containsTraversal(path string) bool {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
	return slices.Contains(parts, "..")
}

var (
	filenameReplacer = strings.NewReplacer("/", "-", "\\", "-", "..", "-")
	dashRun          = regexp.MustCompile(`-{2,}`)
)

// SanitizeForFilename turns a session name into a safe file name fragment.
// Separators and ".." become dashes, control characters are dropped, and an
// empty result becomes "unnamed".
func SanitizeForFilename(s string) string {
	s = filenameReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	s = strings.Trim(dashRun.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "unnamed"
	}
	return s
}
