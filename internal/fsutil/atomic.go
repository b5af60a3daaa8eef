package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite writes data to path using a unique tmp file in the same
// directory followed by a rename. The tmp file is removed on any failure
// before the rename, so path always holds either the old or the new bytes.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	return AtomicWriteHook(path, data, perm, nil)
}

// AtomicWriteHook is AtomicWrite with a hook that runs after the tmp file is
// synced and before it is renamed into place. A non-nil error from the hook
// aborts the write.
func AtomicWriteHook(path string, data []byte, perm os.FileMode, beforeRename func(tmp string) error) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write tmp: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close tmp: %w", err)
	}
	if err = os.Chmod(tmp, perm); err != nil {
		return fmt.Errorf("chmod tmp: %w", err)
	}
	if beforeRename != nil {
		if err = beforeRename(tmp); err != nil {
			return err
		}
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir flushes directory metadata so a completed rename survives a crash.
// Not every platform supports fsync on directories; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
