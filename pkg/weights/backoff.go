package weights

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// BackoffStore persists the last block at which weights were submitted,
// in a single text file written atomically (spec §6: "Persisted state...
// Written atomically"). Grounded on the write-to-temp-then-rename shape in
// github.com/Mindburn-Labs/helm/core/pkg/artifacts/store.go's
// FileStore.Store, adapted from a content-addressed blob write into a
// fixed-path integer write (this store has one path, not one per hash, and
// needs Read as well as Write).
type BackoffStore struct {
	path string
}

func NewBackoffStore(path string) *BackoffStore {
	return &BackoffStore{path: path}
}

// Read returns the persisted block, or 0 if the file does not yet exist.
func (b *BackoffStore) Read() (int64, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, runtime.Wrap(runtime.ErrFatalInvariant, err, "reading backoff file %s", b.path)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return 0, nil
	}
	block, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, runtime.Wrap(runtime.ErrFatalInvariant, err, "backoff file %s does not contain an integer", b.path)
	}
	if block < 0 {
		return 0, runtime.New(runtime.ErrFatalInvariant, "backoff file %s contains a negative block %d", b.path, block)
	}
	return block, nil
}

// Write persists block atomically: write to a sibling temp file, fsync,
// then rename over the target path.
func (b *BackoffStore) Write(block int64) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".backoff-*.tmp")
	if err != nil {
		return runtime.Wrap(runtime.ErrFatalInvariant, err, "creating temp backoff file in %s", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := fmt.Fprintf(tmp, "%d\n", block); err != nil {
		tmp.Close()
		return runtime.Wrap(runtime.ErrFatalInvariant, err, "writing backoff file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return runtime.Wrap(runtime.ErrFatalInvariant, err, "syncing backoff file")
	}
	if err := tmp.Close(); err != nil {
		return runtime.Wrap(runtime.ErrFatalInvariant, err, "closing temp backoff file")
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return runtime.Wrap(runtime.ErrFatalInvariant, err, "renaming backoff file into place")
	}
	return nil
}
