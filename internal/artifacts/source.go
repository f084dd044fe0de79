// Package artifacts fetches model weight bundles into the local hub cache.
// Files land in <hub>/models--<org>--<name>/snapshots/<revision>/ and the
// revision is recorded in refs/main only after every file is complete, so
// a partially fetched artifact never looks finished to a reader.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vllmgate/internal/common/fsutil"
	"vllmgate/internal/registry"
)

// ProgressFunc reports completed and total file counts.
type ProgressFunc func(done, total int)

// Source fetches an artifact by id into hubDir.
type Source interface {
	Name() string
	Fetch(ctx context.Context, modelID, hubDir string, progress ProgressFunc) error
}

// ErrUnavailable is returned when the source does not know the artifact.
var ErrUnavailable = errors.New("artifact not available from source")

func snapshotDir(hubDir, modelID, revision string) string {
	return filepath.Join(hubDir, registry.DirName(modelID), "snapshots", revision)
}

func writeRef(hubDir, modelID, revision string) error {
	refs := filepath.Join(hubDir, registry.DirName(modelID), "refs")
	if err := os.MkdirAll(refs, 0o755); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(refs, "main"), []byte(revision), 0o644)
}

// safeJoin joins a repository-relative file name below dir, refusing names
// that would escape it.
func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe file name %q", name)
	}
	return filepath.Join(dir, clean), nil
}

func report(progress ProgressFunc, done, total int) {
	if progress != nil {
		progress(done, total)
	}
}
