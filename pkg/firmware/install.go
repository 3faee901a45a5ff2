package firmware

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// Install moves a downloaded file to dest and makes it executable. When the
// temp dir is on another filesystem the file is copied next to dest first so
// the final rename stays atomic.
func Install(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir firmware dir: %w", err)
	}
	err := os.Rename(src, dest)
	if errors.Is(err, syscall.EXDEV) {
		err = copyThenRename(src, dest)
	}
	if err != nil {
		return fmt.Errorf("install firmware %s: %w", dest, err)
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return fmt.Errorf("chmod firmware: %w", err)
	}
	return nil
}

func copyThenRename(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	return os.Remove(src)
}
