package env

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
)

// FS is the filesystem capability injected into an Environment, generalizing
// the teacher's direct os.ReadFile/os.WriteFile calls (e.g.
// pkg/pipeline/handlers/read_file.go, write_file.go) into an abstract,
// glob-capable service backed by viant/afs — the same library
// viant-linager's inspector package uses to read source trees.
type FS interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, mode os.FileMode) error
	List(ctx context.Context, dirURL string) ([]storage.Object, error)
	Exists(ctx context.Context, path string) (bool, error)
}

type afsFS struct {
	svc afs.Service
}

// NewFS wraps a fresh viant/afs service as the default FS implementation.
func NewFS() FS {
	return &afsFS{svc: afs.New()}
}

func (f *afsFS) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := f.svc.DownloadWithURL(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fs read %q: %w", path, err)
	}
	return data, nil
}

func (f *afsFS) Write(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	if err := f.svc.Upload(ctx, path, mode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("fs write %q: %w", path, err)
	}
	return nil
}

func (f *afsFS) List(ctx context.Context, dirURL string) ([]storage.Object, error) {
	objs, err := f.svc.List(ctx, dirURL)
	if err != nil {
		return nil, fmt.Errorf("fs list %q: %w", dirURL, err)
	}
	return objs, nil
}

func (f *afsFS) Exists(ctx context.Context, path string) (bool, error) {
	ok, err := f.svc.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("fs exists %q: %w", path, err)
	}
	return ok, nil
}
