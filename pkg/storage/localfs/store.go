// Copyright © 2018 One Concern

// Package localfs implements a storage.Store over an afero file system,
// typically the working tree of the Munki repository.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/adahealth/munkipipe/pkg/storage/status"
	"github.com/spf13/afero"
)

// Option for the local store
type Option func(*localFS)

// WithIgnoredDirs skips directories with these base names when listing keys (e.g. ".git").
func WithIgnoredDirs(names ...string) Option {
	return func(l *localFS) {
		for _, name := range names {
			l.ignored[name] = struct{}{}
		}
	}
}

// New creates a new local file system backed storage model
func New(fs afero.Fs, opts ...Option) storage.Store {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), ".")
	}
	l := &localFS{
		fs:      fs,
		ignored: make(map[string]struct{}),
	}
	for _, apply := range opts {
		apply(l)
	}
	return l
}

// NewAt creates a local store rooted at a directory of the host file system
func NewAt(root string, opts ...Option) storage.Store {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), opts...)
}

type localFS struct {
	fs      afero.Fs
	ignored map[string]struct{}
}

func cleanKey(key string) (string, error) {
	k := filepath.ToSlash(key)
	for _, part := range strings.Split(k, "/") {
		if part == ".." {
			return "", status.ErrInvalidKey.Wrapf("%q", key)
		}
	}
	k = strings.TrimPrefix(path.Clean("/"+k), "/")
	if k == "" {
		return "", status.ErrInvalidKey.Wrapf("%q", key)
	}
	return k, nil
}

func (l *localFS) Has(ctx context.Context, key string) (bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	fi, err := l.fs.Stat(k)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return !fi.IsDir(), nil
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	has, err := l.Has(ctx, k)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, status.ErrNotExists.Wrapf("%q", key)
	}
	// afero files are seekable, which lets uploaders checksum before sending
	return l.fs.Open(k)
}

func (l *localFS) Put(ctx context.Context, key string, source io.Reader, exclusive bool) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if dir := path.Dir(k); dir != "." {
		if err := l.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensuring directories for %q: %w", key, err)
		}
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if exclusive {
		flag |= os.O_EXCL
	}
	target, err := l.fs.OpenFile(k, flag, 0644)
	if err != nil {
		if os.IsExist(err) {
			return status.ErrExists.Wrapf("%q", key)
		}
		return fmt.Errorf("create record for %q: %w", key, err)
	}
	if _, err = io.Copy(target, source); err != nil {
		_ = target.Close()
		return fmt.Errorf("write record for %q: %w", key, err)
	}
	return target.Close()
}

func (l *localFS) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := l.fs.Remove(k); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

func (l *localFS) Keys(ctx context.Context, prefix string) ([]string, error) {
	var res []string
	err := l.walk(ctx, prefix, func(key string, _ os.FileInfo) error {
		res = append(res, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *localFS) GetAttr(ctx context.Context, key string) (storage.Attributes, error) {
	k, err := cleanKey(key)
	if err != nil {
		return storage.Attributes{}, err
	}
	fi, err := l.fs.Stat(k)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Attributes{}, status.ErrNotExists.Wrapf("%q", key)
		}
		return storage.Attributes{}, err
	}
	if fi.IsDir() {
		return storage.Attributes{}, status.ErrNotExists.Wrapf("%q is a directory", key)
	}
	return l.attributes(k, fi)
}

func (l *localFS) List(ctx context.Context, prefix string) ([]storage.Attributes, error) {
	var res []storage.Attributes
	err := l.walk(ctx, prefix, func(key string, fi os.FileInfo) error {
		attrs, err := l.attributes(key, fi)
		if err != nil {
			return err
		}
		res = append(res, attrs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *localFS) attributes(key string, fi os.FileInfo) (storage.Attributes, error) {
	f, err := l.fs.Open(key)
	if err != nil {
		return storage.Attributes{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	sum, _, err := storage.Checksum(f)
	if err != nil {
		return storage.Attributes{}, fmt.Errorf("checksum %q: %w", key, err)
	}
	return storage.Attributes{
		Key:      key,
		Size:     fi.Size(),
		Updated:  fi.ModTime().UTC(),
		Checksum: sum,
	}, nil
}

// walk visits all regular files with keys starting with prefix, pruning
// directories that cannot match.
func (l *localFS) walk(ctx context.Context, prefix string, visit func(string, os.FileInfo) error) error {
	const root = "."
	prefix = strings.TrimPrefix(filepath.ToSlash(prefix), "/")
	return afero.Walk(l.fs, root, func(pth string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if pth == root {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(pth), "/")
		if info.IsDir() {
			if _, skip := l.ignored[info.Name()]; skip {
				return filepath.SkipDir
			}
			dir := key + "/"
			if !strings.HasPrefix(dir, prefix) && !strings.HasPrefix(prefix, dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || !strings.HasPrefix(key, prefix) {
			return nil
		}
		return visit(key, info)
	})
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}
