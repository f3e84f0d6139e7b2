//go:build !windows

package ops

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/protkit/internal/errors"
)

// openFileNoFollow opens path for writing, refusing a symlink in the final
// component. Parent directories are covered by ValidatePath.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return openNoFollow(path, flag, perm, "cannot write artifact through a symlink")
}

// openFileNoFollowRead opens path for reading, refusing a symlink in the
// final component.
func openFileNoFollowRead(path string) (*os.File, error) {
	return openNoFollow(path, syscall.O_RDONLY, 0, "cannot read input through a symlink")
}

func openNoFollow(path string, flag int, perm os.FileMode, symlinkMsg string) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest(symlinkMsg)
	case stderrors.Is(err, syscall.ENOENT) && flag&os.O_CREATE == 0:
		return nil, errors.NewFileNotFound(path)
	default:
		return nil, err
	}
}
