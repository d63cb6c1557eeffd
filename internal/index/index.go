// Package index builds per-language inventories of source modules inside a
// cloned work tree. The index is transient working memory of one scan: it is
// produced by the indexing step, consumed by the scanning step of the same
// process-manager instance and never persisted.
package index

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PQCA/cbomkit-go/internal/model"
)

// Module is one indexed compilation unit: a named source root and the source
// files below it, all paths relative to the work-tree root.
type Module struct {
	Name  string
	Root  string
	Files []string
}

// Indexer scans a work tree for one language's modules, scoped to the
// optional package folder (empty means the repository root).
type Indexer interface {
	Index(ctx context.Context, folder string) ([]Module, error)
}

// Factory hands out the indexer for a language and work tree.
type Factory struct{}

func (Factory) For(lang model.Language, dir string) Indexer {
	switch lang {
	case model.LanguageJava:
		return Java{dir: dir}
	default:
		return Python{dir: dir}
	}
}

// Java groups .java files by their nearest enclosing Maven module: every
// directory holding a pom.xml starts a module. A repository without any
// pom.xml yields a single module rooted at the scan folder.
type Java struct {
	dir string
}

func (j Java) Index(ctx context.Context, folder string) ([]Module, error) {
	return buildModules(ctx, j.dir, folder, ".java", "pom.xml")
}

// Python groups .py files by their nearest directory holding a project
// descriptor (pyproject.toml or setup.py), defaulting to one module at the
// scan folder.
type Python struct {
	dir string
}

func (p Python) Index(ctx context.Context, folder string) ([]Module, error) {
	return buildModules(ctx, p.dir, folder, ".py", "pyproject.toml", "setup.py")
}

func buildModules(ctx context.Context, dir, folder, ext string, descriptors ...string) ([]Module, error) {
	root := dir
	if folder != "" {
		root = filepath.Join(dir, folder)
	}

	moduleRoots := []string{root}
	files := make([]string, 0, 64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		for _, desc := range descriptors {
			if d.Name() == desc {
				moduleRoots = append(moduleRoots, filepath.Dir(path))
			}
		}
		if filepath.Ext(d.Name()) == ext {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", root, err)
	}

	// longest module root first so files land in the nearest module
	sort.Slice(moduleRoots, func(i, j int) bool { return len(moduleRoots[i]) > len(moduleRoots[j]) })

	grouped := make(map[string][]string)
	for _, f := range files {
		for _, mr := range moduleRoots {
			if f == mr || strings.HasPrefix(f, mr+string(filepath.Separator)) {
				grouped[mr] = append(grouped[mr], f)
				break
			}
		}
	}

	modules := make([]Module, 0, len(grouped))
	for mr, fl := range grouped {
		relRoot, err := filepath.Rel(dir, mr)
		if err != nil {
			return nil, fmt.Errorf("relativizing module root: %w", err)
		}
		relFiles := make([]string, 0, len(fl))
		for _, f := range fl {
			rel, err := filepath.Rel(dir, f)
			if err != nil {
				return nil, fmt.Errorf("relativizing source file: %w", err)
			}
			relFiles = append(relFiles, rel)
		}
		sort.Strings(relFiles)
		modules = append(modules, Module{
			Name:  moduleName(relRoot),
			Root:  relRoot,
			Files: relFiles,
		})
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Root < modules[j].Root })
	return modules, nil
}

func moduleName(relRoot string) string {
	if relRoot == "." {
		return "root"
	}
	return filepath.ToSlash(relRoot)
}
