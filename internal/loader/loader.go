// Package loader reads a directory tree into an immutable cache.
package loader

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/JamesGuthrie/httpserve/internal/cache"
	"github.com/JamesGuthrie/httpserve/internal/logging"
)

// Options tune a load.
type Options struct {
	// MaxBytes caps the total content size. Zero means no cap.
	MaxBytes int64
	// Gzip stores a precompressed variant of compressible files.
	Gzip bool

	Logger *logging.Logger
}

// dir is a queued directory. ancestors holds the resolved paths of every
// directory between the root and this one, itself included.
type dir struct {
	fsPath    string
	urlPath   string
	ancestors []string
}

// Load walks root breadth-first, follows symlinks and reads every regular
// file into memory. Any failure aborts the whole load.
func Load(root string, opts Options) (*cache.Cache, error) {
	base := opts.Logger
	if base == nil {
		base = logging.NewDiscard()
	}
	logger := base.WithFields(map[string]interface{}{"component": "loader"})
	start := time.Now()

	info, err := os.Stat(root)
	if err != nil {
		return nil, &LoadError{Op: "stat", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Op: "stat", Path: root, Err: ErrNotDirectory}
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, &LoadError{Op: "resolve", Path: root, Err: err}
	}

	b := cache.NewBuilder()
	queue := []dir{{fsPath: root, urlPath: "", ancestors: []string{realRoot}}}

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		children, err := os.ReadDir(d.fsPath)
		if err != nil {
			return nil, &LoadError{Op: "readdir", Path: d.fsPath, Err: err}
		}

		for _, child := range children {
			fsPath := filepath.Join(d.fsPath, child.Name())
			urlPath := d.urlPath + "/" + child.Name()

			info, err := statEntry(fsPath, child)
			if err != nil {
				return nil, &LoadError{Op: "stat", Path: fsPath, Err: err}
			}

			switch {
			case info.IsDir():
				real, err := filepath.EvalSymlinks(fsPath)
				if err != nil {
					return nil, &LoadError{Op: "resolve", Path: fsPath, Err: err}
				}
				for _, a := range d.ancestors {
					if a == real {
						return nil, &LoadError{Op: "walk", Path: fsPath, Err: ErrSymlinkCycle}
					}
				}
				ancestors := make([]string, len(d.ancestors), len(d.ancestors)+1)
				copy(ancestors, d.ancestors)
				queue = append(queue, dir{
					fsPath:    fsPath,
					urlPath:   urlPath,
					ancestors: append(ancestors, real),
				})

			case info.Mode().IsRegular():
				if opts.MaxBytes > 0 && b.Size()+info.Size() > opts.MaxBytes {
					return nil, budgetError(fsPath, opts.MaxBytes)
				}
				entry, err := readEntry(fsPath, urlPath, info, opts.Gzip)
				if err != nil {
					return nil, &LoadError{Op: "read", Path: fsPath, Err: err}
				}
				// the file may have grown since it was stat'ed
				if opts.MaxBytes > 0 && b.Size()+entry.Size() > opts.MaxBytes {
					return nil, budgetError(fsPath, opts.MaxBytes)
				}
				if err := b.Add(entry); err != nil {
					return nil, &LoadError{Op: "add", Path: fsPath, Err: err}
				}
				logger.Debug(fmt.Sprintf("Loaded %d bytes from %s", entry.Size(), urlPath), map[string]interface{}{
					"content_type": entry.ContentType,
					"gzip":         entry.Gzip != nil,
				})

			default:
				logger.Debug("Skipping non-regular file", map[string]interface{}{
					"path": fsPath,
					"mode": info.Mode().String(),
				})
			}
		}
	}

	c := b.Build()
	logger.Info("Cache loaded", map[string]interface{}{
		"root":     root,
		"files":    c.Len(),
		"size":     humanize.IBytes(uint64(c.Size())),
		"duration": time.Since(start).String(),
	})
	return c, nil
}

// statEntry returns the info for a directory entry, following symlinks.
func statEntry(path string, entry fs.DirEntry) (fs.FileInfo, error) {
	if entry.Type()&fs.ModeSymlink != 0 {
		return os.Stat(path)
	}
	return entry.Info()
}

func readEntry(fsPath, urlPath string, info fs.FileInfo, compress bool) (*cache.Entry, error) {
	content, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(content)
	entry := &cache.Entry{
		Path:        urlPath,
		Content:     content,
		ContentType: cache.ContentType(info.Name()),
		ModTime:     info.ModTime(),
		ETag:        `"` + hex.EncodeToString(sum[:]) + `"`,
	}

	if compress && len(content) > 0 && cache.Compressible(entry.ContentType) {
		gz, err := gzipBytes(content)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		if len(gz) < len(content) {
			entry.Gzip = gz
		}
	}

	return entry, nil
}

func gzipBytes(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(content); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func budgetError(path string, max int64) error {
	return &LoadError{
		Op:   "read",
		Path: path,
		Err:  fmt.Errorf("%w (limit %s)", ErrCacheBudget, humanize.IBytes(uint64(max))),
	}
}
