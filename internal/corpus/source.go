// Package corpus supplies source files for indexing. The filesystem
// source walks a repository checkout applying include/exclude globs and
// size limits; the engine itself only ever sees the resulting
// (path, content, language) tuples.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/triagekit/triagekit/builtin/chunking/heuristic"
	"github.com/triagekit/triagekit/pkg/types"
)

// Source supplies the current file set of one repository.
type Source interface {
	// RepositoryID identifies the repository this source covers.
	RepositoryID() string
	// Files returns every file currently in the corpus.
	Files(ctx context.Context) ([]*types.SourceFile, error)
}

// FSConfig configures a filesystem source.
type FSConfig struct {
	Root         string   // repository checkout root
	RepositoryID string   // defaults to the root's base name
	Include      []string // glob patterns to include
	Exclude      []string // glob patterns to exclude
	MaxFileSize  int64    // bytes, 0 = no limit
	MaxFiles     int      // 0 = no limit
}

// FSSource reads files from a directory tree.
type FSSource struct {
	cfg FSConfig
}

// NewFSSource creates a filesystem source rooted at cfg.Root.
func NewFSSource(cfg FSConfig) (*FSSource, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", cfg.Root)
	}
	if cfg.RepositoryID == "" {
		cfg.RepositoryID = filepath.Base(cfg.Root)
	}
	return &FSSource{cfg: cfg}, nil
}

func (s *FSSource) RepositoryID() string {
	return s.cfg.RepositoryID
}

// Files walks the tree and returns every included file.
func (s *FSSource) Files(ctx context.Context) ([]*types.SourceFile, error) {
	var files []*types.SourceFile

	err := filepath.WalkDir(s.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		relPath, relErr := filepath.Rel(s.cfg.Root, path)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			for _, pattern := range s.cfg.Exclude {
				if matchGlob(pattern, relPath+"/") {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !s.included(relPath) {
			return nil
		}

		file, err := s.readFile(path, relPath)
		if err != nil {
			slog.Warn("skipping unreadable file", "path", relPath, "error", err)
			return nil
		}
		files = append(files, file)

		if s.cfg.MaxFiles > 0 && len(files) >= s.cfg.MaxFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// Included reports whether a repository-relative path passes the
// include/exclude patterns.
func (s *FSSource) Included(relPath string) bool {
	return s.included(filepath.ToSlash(relPath))
}

func (s *FSSource) included(relPath string) bool {
	included := false
	for _, pattern := range s.cfg.Include {
		if matchGlob(pattern, relPath) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range s.cfg.Exclude {
		if matchGlob(pattern, relPath) {
			return false
		}
	}
	return true
}

func (s *FSSource) readFile(path, relPath string) (*types.SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxFileSize > 0 && info.Size() > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d > %d", info.Size(), s.cfg.MaxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	file := &types.SourceFile{
		RepositoryID: s.cfg.RepositoryID,
		Path:         relPath,
		Content:      string(content),
		Language:     heuristic.DetectLanguage(relPath),
	}
	file.Hash = file.ComputeHash()
	return file, nil
}

// Load reads a single repository-relative file through the source's
// limits. It returns os.ErrNotExist wrapped when the file is gone.
func (s *FSSource) Load(relPath string) (*types.SourceFile, error) {
	relPath = filepath.ToSlash(relPath)
	return s.readFile(filepath.Join(s.cfg.Root, filepath.FromSlash(relPath)), relPath)
}

// matchGlob matches a slash-separated path against a glob pattern,
// treating a ** segment as matching any number of path segments.
func matchGlob(pattern, path string) bool {
	path = strings.TrimSuffix(path, "/")
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pattern, path []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			// ** swallows zero or more leading path segments.
			for i := 0; i <= len(path); i++ {
				if matchSegments(pattern[1:], path[i:]) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 {
			return false
		}
		if ok, _ := filepath.Match(pattern[0], path[0]); !ok {
			return false
		}
		pattern = pattern[1:]
		path = path[1:]
	}
	return len(path) == 0
}
