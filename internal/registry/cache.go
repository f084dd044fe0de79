// Package registry reads the local model artifact cache, a Hugging Face
// style hub directory holding one models--<org>--<name> directory per
// artifact.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/shirou/gopsutil/v4/disk"

	"vllmgate/internal/common/fsutil"
	"vllmgate/pkg/types"
)

const (
	dirPrefix        = "models--"
	incompleteSuffix = ".incomplete"
)

// ErrNotCached is returned when an artifact is not present in the cache.
var ErrNotCached = errors.New("model not found in cache")

// Cache is a view over a hub directory. It holds no state of its own; every
// call reads the filesystem.
type Cache struct {
	dir string
}

// New returns a Cache rooted at dir. A leading '~' is expanded.
func New(dir string) (*Cache, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	return &Cache{dir: abs}, nil
}

// Dir returns the absolute hub directory.
func (c *Cache) Dir() string { return c.dir }

// DirExists reports whether the hub directory exists.
func (c *Cache) DirExists() bool { return fsutil.IsDir(c.dir) }

// DirName maps a repository id to its cache directory name:
// "org/name" becomes "models--org--name".
func DirName(id string) string {
	return dirPrefix + strings.ReplaceAll(id, "/", "--")
}

// IDFromDirName is the inverse of DirName. Only the first "--" separates
// org from name, so names may themselves contain "--". ok is false for
// directories that are not model artifacts.
func IDFromDirName(name string) (id string, ok bool) {
	if !strings.HasPrefix(name, dirPrefix) || len(name) == len(dirPrefix) {
		return "", false
	}
	return strings.Replace(strings.TrimPrefix(name, dirPrefix), "--", "/", 1), true
}

// ValidateID rejects ids that could escape the cache directory.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("model id is required")
	case strings.Contains(id, ".."), strings.Contains(id, `\`), strings.HasPrefix(id, "/"), strings.Count(id, "/") > 1:
		return fmt.Errorf("invalid model id %q", id)
	}
	return nil
}

// Path returns the cache directory of id.
func (c *Cache) Path(id string) string { return filepath.Join(c.dir, DirName(id)) }

// Exists reports whether id is fully downloaded. An artifact whose fetch is
// still running, or was interrupted, does not count.
func (c *Cache) Exists(id string) bool {
	if ValidateID(id) != nil {
		return false
	}
	return complete(c.Path(id))
}

// Present reports whether id has a directory in the cache, complete or not.
func (c *Cache) Present(id string) bool {
	if ValidateID(id) != nil {
		return false
	}
	return fsutil.IsDir(c.Path(id))
}

// complete reports whether the artifact in dir is finished: either a ref
// was recorded, which fetchers do last, or the snapshots hold files and
// none of them is still being written.
func complete(dir string) bool {
	if refs, err := os.ReadDir(filepath.Join(dir, "refs")); err == nil {
		for _, r := range refs {
			if r.Type().IsRegular() {
				return true
			}
		}
	}
	files, partial := 0, false
	err := filepath.WalkDir(filepath.Join(dir, "snapshots"), func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), incompleteSuffix) {
			partial = true
			return filepath.SkipAll
		}
		files++
		return nil
	})
	return err == nil && !partial && files > 0
}

// Scan lists every artifact in the cache. Artifacts still being fetched are
// listed with Downloaded false. A missing hub directory yields an empty
// list.
func (c *Cache) Scan() ([]types.ModelRecord, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var records []types.ModelRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := IDFromDirName(e.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(c.dir, e.Name())
		rec := types.ModelRecord{ID: id, Downloaded: complete(dir)}
		if n, err := fsutil.DirSize(dir); err == nil {
			rec.SizeBytes = &n
			rec.SizeHuman = units.HumanSize(float64(n))
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes the artifact directory of id, including a partial one.
func (c *Cache) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !c.Present(id) {
		return ErrNotCached
	}
	if err := os.RemoveAll(c.Path(id)); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// DiskFree returns the free bytes of the filesystem holding the cache. The
// nearest existing ancestor is measured when the hub dir is missing.
func (c *Cache) DiskFree() (uint64, error) {
	p := c.dir
	for !fsutil.PathExists(p) {
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	u, err := disk.Usage(p)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}
