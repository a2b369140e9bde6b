package builder

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/qobs-build/qembed/internal/msg"
)

const lockFilename = ".qembed.lock"

var errLocked = errors.New("locked")

// dirLock serializes builds sharing a build directory
type dirLock struct {
	f *os.File
}

// lockDir takes the build directory lock, waiting for another build that
// holds it to finish
func lockDir(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, lockFilename), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	err = tryLock(f)
	if errors.Is(err, errLocked) {
		msg.Info("waiting for another build using %s", dir)
		err = waitLock(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) Unlock() error {
	if err := unlock(l.f); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
