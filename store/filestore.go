package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type fileStore struct {
	root string
}

// NewFileStore creates a Store backed by the filesystem. Keys map 1:1 to
// relative file paths under root. Files and directories starting with a dot
// are reserved for staging and never listed.
func NewFileStore(root string) Store {
	return &fileStore{root: root}
}

func (s *fileStore) List(_ context.Context) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.root {
				return fs.SkipAll
			}
			return err
		}

		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	return keys, nil
}

func (s *fileStore) Load(_ context.Context, keys ...string) ([]Entry, error) {
	entries := make([]Entry, 0, len(keys))

	for _, key := range keys {
		data, err := os.ReadFile(s.path(key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, key, err)
		}
		entries = append(entries, Entry{Key: key, Value: data})
	}

	return entries, nil
}

// fileOp is one staged mutation. tmp holds the new content for writes and is
// empty for deletes; backup holds the previous file once it has been moved
// aside.
type fileOp struct {
	key    string
	target string
	tmp    string
	backup string
	moved  bool
}

// Commit stages every write into a hidden temp file next to its target
// before touching any visible file, then swaps files in. A failure while
// swapping restores the files already replaced.
func (s *fileStore) Commit(_ context.Context, cs ChangeSet) error {
	if cs.Empty() {
		return nil
	}

	ops := make([]*fileOp, 0, len(cs.Save)+len(cs.Delete))
	defer func() {
		for _, op := range ops {
			if op.tmp != "" {
				os.Remove(op.tmp)
			}
		}
	}()

	for _, e := range cs.Save {
		op := &fileOp{key: e.Key, target: s.path(e.Key)}
		ops = append(ops, op)

		tmp, err := stage(filepath.Dir(op.target), e.Value)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSaveFailed, e.Key, err)
		}
		op.tmp = tmp
	}
	for _, key := range cs.Delete {
		ops = append(ops, &fileOp{key: key, target: s.path(key)})
	}

	for i, op := range ops {
		if err := s.apply(op); err != nil {
			s.rollback(ops[:i+1])
			return fmt.Errorf("%w: %s: %w", ErrSaveFailed, op.key, err)
		}
	}

	for _, op := range ops {
		if op.backup != "" {
			os.Remove(op.backup)
		}
		if op.tmp == "" {
			s.prune(filepath.Dir(op.target))
		}
	}

	return nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func stage(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func (s *fileStore) apply(op *fileOp) error {
	if _, err := os.Stat(op.target); err == nil {
		backup, err := reserve(filepath.Dir(op.target))
		if err != nil {
			return err
		}
		if err := os.Rename(op.target, backup); err != nil {
			os.Remove(backup)
			return err
		}
		op.backup = backup
	} else if !os.IsNotExist(err) {
		return err
	}

	if op.tmp == "" {
		return nil
	}
	if err := os.Rename(op.tmp, op.target); err != nil {
		return err
	}
	op.moved = true
	return nil
}

func (s *fileStore) rollback(applied []*fileOp) {
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		if op.moved {
			os.Remove(op.target)
			op.moved = false
		}
		if op.backup != "" {
			os.Rename(op.backup, op.target)
			op.backup = ""
		}
	}
}

func reserve(dir string) (string, error) {
	f, err := os.CreateTemp(dir, ".bak-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// prune removes directories left empty by deletes, stopping at the root.
func (s *fileStore) prune(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}
