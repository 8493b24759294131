package objectstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"loom/internal/fileutil"
	"loom/internal/services"
)

// FSStore implements Client over a local directory tree. It backs the local
// task source and the package tests; keys map to slash-separated paths under
// the root.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root. A missing root behaves as an
// empty store until something is put into it.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FSStore) List(ctx context.Context, prefix, startAfter string, max int) ([]ObjectInfo, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if max <= 0 {
		max = listPageSize
	}

	var objects []ObjectInfo
	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if entry == nil {
				return fs.SkipAll
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		if startAfter != "" && key <= startAfter {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransport, "objectstore", "list", prefix, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	if len(objects) > max {
		objects = objects[:max]
	}
	next := ""
	if len(objects) == max {
		next = objects[len(objects)-1].Key
	}
	return objects, next, nil
}

func (s *FSStore) HeadExists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, services.Wrap(services.ErrTransport, "objectstore", "head", key, err)
	}
	return !info.IsDir(), nil
}

func (s *FSStore) GetToFile(ctx context.Context, key, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := s.path(key)
	if _, err := os.Stat(src); err != nil {
		return services.Wrap(services.ErrNotFound, "objectstore", "get", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrTransport, "objectstore", "get", key, err)
	}
	if err := fileutil.CopyVerified(src, path); err != nil {
		return services.Wrap(services.ErrTransport, "objectstore", "get", key, err)
	}
	return nil
}

func (s *FSStore) PutFromFile(ctx context.Context, path, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return services.Wrap(services.ErrTransport, "objectstore", "put", key, err)
	}
	if err := fileutil.CopyVerified(path, dst); err != nil {
		return services.Wrap(services.ErrTransport, "objectstore", "put", key, err)
	}
	return nil
}
