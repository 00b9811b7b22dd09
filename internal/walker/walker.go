// Package walker discovers indexable source files under a repository root.
package walker

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cerrors "coderag/internal/errors"
)

// File holds metadata about a discovered source file. Content is read
// later by the pipeline stage that consumes the walk.
type File struct {
	Path     string // absolute path on disk
	RelPath  string // slash-separated, relative to the walk root
	Language string // language tag; tags without a grammar take the fallback path
	Size     int64
}

// DefaultIgnores are directory patterns that are always skipped. Ignore
// globs from config are merged on top.
var DefaultIgnores = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	"venv",
	"env",
	"dist",
	"build",
	"target",
	".next",
	".vscode",
	".idea",
	".coderag",
}

// TextExtensions are indexed as plain text when no grammar claims them.
var TextExtensions = []string{"md", "txt", "json", "yaml", "yml", "toml", "sh", "rb", "rs"}

// Options configures a walk.
type Options struct {
	// Languages maps a lower-case file extension (without dot) to its
	// language tag. Files whose extension is not in the map are skipped.
	Languages map[string]string

	// Ignore lists extra directory globs, merged with DefaultIgnores.
	Ignore []string

	// MaxFileBytes caps the size of files considered. Non-positive means 1 MiB.
	MaxFileBytes int64

	Logger *slog.Logger
}

// Walk traverses the tree rooted at root in lexical order and streams
// discovered files on the first channel. Unreadable entries produce access
// errors on the second channel and are skipped; the walk continues. An
// unusable root fails immediately. Two walks over an unchanged tree yield
// identical sequences.
func Walk(ctx context.Context, root string, opts Options) (<-chan File, <-chan error, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, cerrors.NewConfigError("walker.walk", "cannot read root "+root, "check that the path exists and is readable", err)
	}
	if !info.IsDir() {
		return nil, nil, cerrors.NewConfigError("walker.walk", root+" is not a directory", "point the walker at a repository root", nil)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, cerrors.NewConfigError("walker.walk", "cannot resolve root "+root, "check the working directory", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	ignores := append(append([]string{}, DefaultIgnores...), opts.Ignore...)

	files := make(chan File, 64)
	errs := make(chan error, 16)

	go func() {
		defer close(files)
		defer close(errs)

		walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err != nil {
				select {
				case errs <- cerrors.NewAccessError("walker.walk", path, err):
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}

			if d.IsDir() {
				if path == absRoot {
					return nil
				}
				rel, _ := filepath.Rel(absRoot, path)
				if skipDir(d.Name(), filepath.ToSlash(rel), ignores) {
					return filepath.SkipDir
				}
				return nil
			}

			// Symlinks are never followed.
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}

			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
			language, ok := opts.Languages[ext]
			if !ok {
				return nil
			}

			fi, err := d.Info()
			if err != nil {
				select {
				case errs <- cerrors.NewAccessError("walker.walk", path, err):
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}
			if fi.Size() > maxBytes {
				logger.Warn("walker.skip_large", "path", path, "size", fi.Size(), "max", maxBytes)
				return nil
			}
			if fi.Size() == 0 {
				logger.Debug("walker.skip_empty", "path", path)
				return nil
			}

			rel, _ := filepath.Rel(absRoot, path)
			f := File{
				Path:     path,
				RelPath:  filepath.ToSlash(rel),
				Language: language,
				Size:     fi.Size(),
			}
			select {
			case files <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if walkErr != nil {
			select {
			case errs <- walkErr:
			default:
			}
		}
	}()

	return files, errs, nil
}

// skipDir reports whether a directory should be pruned from the walk.
// Hidden dot directories are always pruned.
func skipDir(name, relPath string, patterns []string) bool {
	if strings.HasPrefix(name, ".") && len(name) > 1 {
		return true
	}
	for _, p := range patterns {
		if name == p {
			return true
		}
		if strings.HasPrefix(relPath, p+"/") || relPath == p {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
