package persist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the internals file written inside the save directory.
const FileName = "entropy_internals.json"

// ErrNoState is returned by Load when the directory holds no internals.
var ErrNoState = errors.New("no saved evaluation state")

// Save writes snap into dir atomically: the payload goes to a temp file in
// the same directory, is synced and closed, and only then renamed over
// FileName. On failure the previous file, if any, is left untouched.
func Save(dir string, snap *Snapshot) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating internals dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = Encode(w, snap); err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing state: %w", err)
	}
	if err = os.Rename(tmpName, filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("publishing state: %w", err)
	}
	return nil
}

// Load restores the snapshot saved in dir without recomputation.
func Load(dir string) (*Snapshot, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("opening state: %w", err)
	}
	defer f.Close()

	return Decode(bufio.NewReader(f))
}
