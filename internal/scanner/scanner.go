// Package scanner detects cryptographic API usage in indexed source modules
// and renders the findings as CycloneDX components.
package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/PQCA/cbomkit-go/internal/bom"
	"github.com/PQCA/cbomkit-go/internal/index"
	"github.com/PQCA/cbomkit-go/internal/log"
	"github.com/PQCA/cbomkit-go/internal/model"
	"github.com/PQCA/cbomkit-go/internal/parallel"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// Result is the outcome of scanning one language.
type Result struct {
	Start time.Time
	End   time.Time
	Lines int
	Files int
	CBOM  *cdx.BOM // nil when the language produced no findings
}

// Factory hands out the scanner for a language and work tree. The gitleaks
// detector is shared between languages, its setup is expensive.
type Factory struct {
	leaks *Leaks
}

func NewFactory() (*Factory, error) {
	leaks, err := NewLeaks()
	if err != nil {
		return nil, fmt.Errorf("creating leaks detector: %w", err)
	}
	return &Factory{leaks: leaks}, nil
}

func (f *Factory) For(lang model.Language, dir string) *FileScanner {
	rules := pythonRules
	if lang == model.LanguageJava {
		rules = javaRules
	}
	return &FileScanner{
		dir:   dir,
		lang:  lang,
		rules: rules,
		leaks: f.leaks,
	}
}

// FileScanner applies a per-language rule table, plus the shared secret
// detector, to every indexed file.
type FileScanner struct {
	dir   string
	lang  model.Language
	rules []rule
	leaks *Leaks
}

type fileResult struct {
	components []cdx.Component
	lines      int
}

const scanLimit = 4

// Scan runs the detection over all files of the given modules. Lines and
// files are counted for every scanned file, findings become cryptographic
// asset components of the returned CBOM fragment.
func (s *FileScanner) Scan(
	ctx context.Context,
	url model.GitURL,
	revision model.Revision,
	commit model.Commit,
	folder string,
	modules []index.Module,
) (Result, error) {
	ctx = log.ContextAttrs(ctx, slog.String("language", s.lang.String()))
	start := time.Now()

	files := make([]string, 0, 64)
	for _, m := range modules {
		files = append(files, m.Files...)
	}

	var (
		components []cdx.Component
		lines      int
		scanErr    error
	)
	for res, err := range parallel.Map(ctx, scanLimit, slices.Values(files), s.scanFile) {
		if err != nil {
			scanErr = err
			break
		}
		components = append(components, res.components...)
		lines += res.lines
	}
	if scanErr != nil {
		return Result{}, fmt.Errorf("scanning %s sources: %w", s.lang, scanErr)
	}

	result := Result{
		Start: start,
		End:   time.Now(),
		Lines: lines,
		Files: len(files),
	}
	slog.DebugContext(ctx, "language scan done",
		"files", result.Files,
		"lines", result.Lines,
		"findings", len(components),
	)
	if len(components) == 0 {
		return result, nil
	}

	// completion order is not deterministic, the fragment must be
	slices.SortFunc(components, func(a, b cdx.Component) int {
		return bytes.Compare([]byte(a.BOMRef), []byte(b.BOMRef))
	})

	builder := bom.NewBuilder().
		AppendComponents(components...).
		AppendProperties(
			cdx.Property{Name: "cbomkit:gitUrl", Value: string(url)},
			cdx.Property{Name: "cbomkit:revision", Value: string(revision)},
			cdx.Property{Name: "cbomkit:commit", Value: string(commit)},
		)
	if folder != "" {
		builder.AppendProperties(cdx.Property{Name: "cbomkit:packageFolder", Value: folder})
	}
	result.CBOM = builder.BOM()
	return result, nil
}

func (s *FileScanner) scanFile(ctx context.Context, relPath string) (fileResult, error) {
	if ctx.Err() != nil {
		return fileResult{}, ctx.Err()
	}

	b, err := os.ReadFile(filepath.Join(s.dir, relPath))
	if err != nil {
		return fileResult{}, fmt.Errorf("reading %s: %w", relPath, err)
	}

	var res fileResult
	location := filepath.ToSlash(relPath)

	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for _, r := range s.rules {
			match := r.re.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			name := r.name
			if len(match) > 1 && match[1] != "" {
				name = match[1]
			}
			res.components = append(res.components, algorithmComponent(name, r.primitive, location, lineNo))
		}
	}
	if err := scanner.Err(); err != nil {
		return fileResult{}, fmt.Errorf("reading lines of %s: %w", relPath, err)
	}
	res.lines = lineNo

	if s.leaks != nil {
		leaked, err := s.leaks.Detect(ctx, b, location)
		if err != nil {
			return fileResult{}, err
		}
		res.components = append(res.components, leaked...)
	}

	return res, nil
}

func algorithmComponent(name string, primitive cdx.CryptoPrimitive, location string, line int) cdx.Component {
	return cdx.Component{
		BOMRef: fmt.Sprintf("crypto/algorithm/%s@%s:%d", name, location, line),
		Name:   name,
		Type:   cdx.ComponentTypeCryptographicAsset,
		CryptoProperties: &cdx.CryptoProperties{
			AssetType: cdx.CryptoAssetTypeAlgorithm,
			AlgorithmProperties: &cdx.CryptoAlgorithmProperties{
				Primitive:            primitive,
				ExecutionEnvironment: cdx.CryptoExecutionEnvironmentSoftwarePlainRAM,
			},
		},
		Evidence: &cdx.Evidence{
			Occurrences: &[]cdx.EvidenceOccurrence{
				{
					Location: location,
					Line:     &line,
				},
			},
		},
	}
}
