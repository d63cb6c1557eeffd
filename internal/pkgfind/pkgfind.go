// Package pkgfind locates the sub-package folder of a coordinate inside a
// possibly multi-module repository. Discovery is best-effort: a finder that
// finds nothing returns model.ErrNoMatch and never blocks the pipeline.
package pkgfind

import (
	"encoding/xml"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PQCA/cbomkit-go/internal/model"

	"github.com/package-url/packageurl-go"
	toml "github.com/pelletier/go-toml/v2"
)

// Finder searches a cloned work tree for the folder holding the package the
// coordinate names. The returned path is relative to the work-tree root.
type Finder interface {
	Find(purl packageurl.PackageURL) (string, error)
}

// Selector picks the finder chain per build ecosystem: one strategy for
// Maven descriptors, a pyproject strategy with a setup.py fallback for
// Python. The chain is tried in order, first hit wins.
type Selector struct{}

func (Selector) For(root string, purl packageurl.PackageURL) []Finder {
	switch purl.Type {
	case packageurl.TypeMaven:
		return []Finder{Maven{root: root}}
	case packageurl.TypePyPi:
		return []Finder{PyProject{root: root}, Setup{root: root}}
	default:
		return nil
	}
}

// Maven matches the artifactId of any pom.xml against the coordinate name.
type Maven struct {
	root string
}

type pomProject struct {
	XMLName    xml.Name `xml:"project"`
	ArtifactID string   `xml:"artifactId"`
}

func (m Maven) Find(purl packageurl.PackageURL) (string, error) {
	return findDescriptor(m.root, "pom.xml", func(b []byte) bool {
		var pom pomProject
		if err := xml.Unmarshal(b, &pom); err != nil {
			return false
		}
		return pom.ArtifactID == purl.Name
	})
}

// PyProject matches the [project] name of any pyproject.toml against the
// coordinate name, using PEP 503 name normalization.
type PyProject struct {
	root string
}

type pyProject struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
}

func (p PyProject) Find(purl packageurl.PackageURL) (string, error) {
	want := normalizePyName(purl.Name)
	return findDescriptor(p.root, "pyproject.toml", func(b []byte) bool {
		var doc pyProject
		if err := toml.Unmarshal(b, &doc); err != nil {
			return false
		}
		return normalizePyName(doc.Project.Name) == want
	})
}

// Setup is the fallback for repositories still using setup.py.
type Setup struct {
	root string
}

var reSetupName = regexp.MustCompile(`name\s*=\s*["']([^"']+)["']`)

func (s Setup) Find(purl packageurl.PackageURL) (string, error) {
	want := normalizePyName(purl.Name)
	return findDescriptor(s.root, "setup.py", func(b []byte) bool {
		match := reSetupName.FindSubmatch(b)
		if match == nil {
			return false
		}
		return normalizePyName(string(match[1])) == want
	})
}

var rePyNameSep = regexp.MustCompile(`[-_.]+`)

func normalizePyName(name string) string {
	return strings.ToLower(rePyNameSep.ReplaceAllString(name, "-"))
}

// findDescriptor walks root for files named descriptor and returns the
// directory, relative to root, of the first one the match function accepts.
func findDescriptor(root, descriptor string, matches func([]byte) bool) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != descriptor {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable descriptors are skipped, not fatal
		}
		if !matches(b) {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		found = rel
		return filepath.SkipAll
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}
	if found == "" {
		return "", model.ErrNoMatch
	}
	if found == "." {
		found = ""
	}
	return found, nil
}
