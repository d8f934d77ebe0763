package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/gozephyr/giftrelay/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// gzipMagic prefixes every gzip stream
var gzipMagic = []byte{0x1f, 0x8b}

// fileSnapshot is the on-disk layout of a File mirror
type fileSnapshot[V any] struct {
	Namespace string              `json:"namespace"`
	Entries   map[string]Entry[V] `json:"entries"`
}

// File mirrors a cache into a single JSON snapshot file
type File[V any] struct {
	mu   sync.Mutex
	path string
	opts *Options
}

// NewFile creates a file-backed mirror at path. The parent directory is
// created if it does not exist.
func NewFile[V any](path string, opts ...Option) (*File[V], error) {
	options := NewOptions()
	if err := options.Apply(opts...); err != nil {
		return nil, errors.Wrap("NewFile", path, err)
	}
	if path == "" {
		return nil, errors.Wrap("NewFile", nil, errors.ErrInvalidConfig)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap("NewFile", path, err)
	}
	if err := verifyDirectoryWritable(filepath.Dir(path)); err != nil {
		return nil, errors.Wrap("NewFile", path, err)
	}

	return &File[V]{path: path, opts: options}, nil
}

// verifyDirectoryWritable checks if the directory is writable
func verifyDirectoryWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".giftrelay-probe-*")
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Path returns the snapshot file path
func (f *File[V]) Path() string {
	return f.path
}

// ReadAll implements Mirror. A missing file is an empty snapshot; a corrupt
// one is removed and reported as empty.
func (f *File[V]) ReadAll(ctx context.Context) (map[string]Entry[V], error) {
	if ctx.Err() != nil {
		return nil, errors.Wrap("ReadAll", nil, errors.ErrContextCanceled)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry[V]{}, nil
		}
		return nil, errors.Wrap("ReadAll", f.path, err)
	}

	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			_ = os.Remove(f.path)
			return map[string]Entry[V]{}, nil
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			_ = os.Remove(f.path)
			return map[string]Entry[V]{}, nil
		}
	}

	var snap fileSnapshot[V]
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = os.Remove(f.path)
		return map[string]Entry[V]{}, nil
	}
	if snap.Entries == nil || snap.Namespace != f.opts.Namespace {
		return map[string]Entry[V]{}, nil
	}
	return snap.Entries, nil
}

// WriteAll implements Mirror using an atomic temp-file rename
func (f *File[V]) WriteAll(ctx context.Context, entries map[string]Entry[V]) error {
	if ctx.Err() != nil {
		return errors.Wrap("WriteAll", nil, errors.ErrContextCanceled)
	}
	if err := f.opts.checkQuota(len(entries)); err != nil {
		return errors.Wrap("WriteAll", f.path, err)
	}

	data, err := json.Marshal(fileSnapshot[V]{Namespace: f.opts.Namespace, Entries: entries})
	if err != nil {
		return errors.Wrap("WriteAll", f.path, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
	}
	if f.opts.Compress {
		if data, err = compress(data, f.opts.CompressionLevel); err != nil {
			return errors.Wrap("WriteAll", f.path, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
		}
	}
	if err := f.opts.checkBytes(len(data)); err != nil {
		return errors.Wrap("WriteAll", f.path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.Wrap("WriteAll", f.path, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap("WriteAll", f.path, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
	}
	return nil
}

// Close implements Mirror
func (f *File[V]) Close() error {
	return nil
}

func compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
