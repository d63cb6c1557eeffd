package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/PQCA/cbomkit-go/internal/bom"
	"github.com/PQCA/cbomkit-go/internal/bus"
	"github.com/PQCA/cbomkit-go/internal/index"
	"github.com/PQCA/cbomkit-go/internal/log"
	"github.com/PQCA/cbomkit-go/internal/model"
	"github.com/PQCA/cbomkit-go/internal/progress"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/package-url/packageurl-go"
)

// ProcessManager drives one scan through the pipeline. It is registered on
// the bus for the five pipeline command types and ignores commands addressed
// to another scan id. Within one instance steps run strictly sequentially:
// each handler finishes its external call, aggregate mutation, persistence
// and progress emission before emitting the next command.
//
// The module index built by the indexing step lives only in this instance's
// memory. If the instance does not survive between indexing and scanning,
// the scan step fails with model.ErrNoIndex; there is no durable execution
// log to recover from.
type ProcessManager struct {
	id   model.ScanID
	deps Deps

	projectDir string
	index      map[model.Language][]index.Module
}

func NewProcessManager(id model.ScanID, deps Deps) *ProcessManager {
	return &ProcessManager{
		id:    id,
		deps:  deps,
		index: make(map[model.Language][]index.Module),
	}
}

func (m *ProcessManager) Handle(ctx context.Context, cmd bus.Command) error {
	if cmd.ScanID() != m.id {
		return nil
	}
	ctx = log.WithScanID(ctx, m.id)

	switch c := cmd.(type) {
	case *ResolvePurlCommand:
		return m.handleResolvePurl(ctx, c)
	case *CloneRepositoryCommand:
		return m.handleCloneRepository(ctx, c)
	case *IdentifyPackageFolderCommand:
		return m.handleIdentifyPackageFolder(ctx, c)
	case *IndexModulesCommand:
		return m.handleIndexModules(ctx, c)
	case *ScanCommand:
		return m.handleScan(ctx, c)
	default:
		return nil
	}
}

// fail emits the single error progress event for this failure, compensates
// and hands the error back to the synchronous caller. Errors propagating
// from a downstream handler must not pass through here again, the failing
// handler already compensated.
func (m *ProcessManager) fail(ctx context.Context, err error) error {
	_ = m.deps.Progress.Send(progress.Message{Type: progress.TypeError, Payload: err.Error()})
	m.Compensate(ctx)
	return err
}

func (m *ProcessManager) handleResolvePurl(ctx context.Context, c *ResolvePurlCommand) error {
	slog.InfoContext(ctx, "resolving purl")
	agg, err := m.deps.Repository.Read(ctx, c.ID)
	if err != nil {
		return m.fail(ctx, err)
	}
	purl, ok := agg.Purl()
	if !ok {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoPurl))
	}

	gitURL, err := m.deps.ResolverFor(purl).Resolve(ctx, purl)
	if err != nil {
		return m.fail(ctx, fmt.Errorf("resolving %q: %w", purl.String(), err))
	}
	if err := agg.SetGitURL(gitURL); err != nil {
		return m.fail(ctx, err)
	}

	// source-hosting coordinates carry the commit and folder themselves
	if purl.Type == packageurl.TypeGithub {
		if purl.Version != "" {
			if err := agg.SetCommit(model.Commit(purl.Version)); err != nil {
				return m.fail(ctx, err)
			}
			if err := m.deps.Progress.Send(progress.Message{Type: progress.TypeRevisionHash, Payload: purl.Version}); err != nil {
				return m.fail(ctx, err)
			}
		}
		if purl.Subpath != "" {
			if err := agg.SetPackageFolder(purl.Subpath); err != nil {
				return m.fail(ctx, err)
			}
		}
	}

	if err := m.deps.Repository.Save(ctx, agg); err != nil {
		return m.fail(ctx, err)
	}
	return m.deps.Bus.Send(ctx, &CloneRepositoryCommand{ID: c.ID, Credentials: c.Credentials})
}

func (m *ProcessManager) handleCloneRepository(ctx context.Context, c *CloneRepositoryCommand) error {
	agg, err := m.deps.Repository.Read(ctx, c.ID)
	if err != nil {
		return m.fail(ctx, err)
	}
	gitURL, ok := agg.GitURL()
	if !ok {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoGitURL))
	}

	if err := m.deps.Progress.Send(progress.Message{Type: progress.TypeGitURL, Payload: string(gitURL)}); err != nil {
		return m.fail(ctx, err)
	}
	if err := m.deps.Progress.Send(progress.Message{Type: progress.TypeBranch, Payload: string(agg.Revision())}); err != nil {
		return m.fail(ctx, err)
	}

	slog.InfoContext(ctx, "cloning repository", "url", gitURL, "revision", agg.Revision())
	knownCommit, _ := agg.Commit()
	result, err := m.deps.Clone(ctx, m.id, gitURL, agg.Revision(), knownCommit, c.Credentials)
	if err != nil {
		// one self-heal: a failed clone of main retries the whole request on master
		if errors.Is(err, model.ErrCloneFailed) && agg.Revision() == model.RevisionMain {
			slog.InfoContext(ctx, "clone of main failed, retrying with master")
			if derr := m.deps.Repository.Delete(ctx, m.id); derr != nil {
				return m.fail(ctx, derr)
			}
			folder, _ := agg.PackageFolder()
			return m.deps.Bus.Send(ctx, &RequestScanCommand{
				ID:          m.id,
				Input:       string(gitURL),
				Branch:      string(model.RevisionMaster),
				Subfolder:   folder,
				Credentials: c.Credentials,
			})
		}
		return m.fail(ctx, err)
	}

	m.projectDir = result.Dir
	if _, ok := agg.Commit(); !ok {
		if err := m.deps.Progress.Send(progress.Message{Type: progress.TypeRevisionHash, Payload: string(result.Commit)}); err != nil {
			return m.fail(ctx, err)
		}
		if err := agg.SetCommit(result.Commit); err != nil {
			return m.fail(ctx, err)
		}
	}
	if err := m.deps.Repository.Save(ctx, agg); err != nil {
		return m.fail(ctx, err)
	}
	return m.deps.Bus.Send(ctx, &IdentifyPackageFolderCommand{ID: c.ID})
}

func (m *ProcessManager) handleIdentifyPackageFolder(ctx context.Context, c *IdentifyPackageFolderCommand) error {
	agg, err := m.deps.Repository.Read(ctx, c.ID)
	if err != nil {
		return m.fail(ctx, err)
	}
	if m.projectDir == "" {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoProjectDir))
	}

	// best-effort: a missing folder never blocks the pipeline; a folder
	// already known (coordinate subpath, request flag) skips the search
	if _, ok := agg.PackageFolder(); ok {
		return m.deps.Bus.Send(ctx, &IndexModulesCommand{ID: c.ID})
	}
	if purl, ok := agg.Purl(); ok {
		for _, finder := range m.deps.FindersFor(m.projectDir, purl) {
			path, err := finder.Find(purl)
			if errors.Is(err, model.ErrNoMatch) {
				continue
			}
			if err != nil {
				return m.fail(ctx, fmt.Errorf("finding package folder: %w", err))
			}
			if path != "" {
				if err := agg.SetPackageFolder(path); err != nil {
					return m.fail(ctx, err)
				}
				if err := m.deps.Repository.Save(ctx, agg); err != nil {
					return m.fail(ctx, err)
				}
				if err := m.deps.Progress.Send(progress.Message{Type: progress.TypeFolder, Payload: path}); err != nil {
					return m.fail(ctx, err)
				}
				slog.InfoContext(ctx, "package folder identified", "folder", path)
			}
			break
		}
	}

	return m.deps.Bus.Send(ctx, &IndexModulesCommand{ID: c.ID})
}

func (m *ProcessManager) handleIndexModules(ctx context.Context, c *IndexModulesCommand) error {
	agg, err := m.deps.Repository.Read(ctx, c.ID)
	if err != nil {
		return m.fail(ctx, err)
	}
	if m.projectDir == "" {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoProjectDir))
	}

	folder, _ := agg.PackageFolder()
	for _, lang := range model.Languages() {
		modules, err := m.deps.IndexerFor(lang, m.projectDir).Index(ctx, folder)
		if err != nil {
			return m.fail(ctx, fmt.Errorf("indexing %s modules: %w", lang, err))
		}
		m.index[lang] = modules
		slog.InfoContext(ctx, "modules indexed", "language", lang.String(), "modules", len(modules))
	}

	return m.deps.Bus.Send(ctx, &ScanCommand{ID: c.ID})
}

func (m *ProcessManager) handleScan(ctx context.Context, c *ScanCommand) error {
	agg, err := m.deps.Repository.Read(ctx, c.ID)
	if err != nil {
		return m.fail(ctx, err)
	}
	gitURL, ok := agg.GitURL()
	if !ok {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoGitURL))
	}
	commit, ok := agg.Commit()
	if !ok {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoCommit))
	}
	if m.projectDir == "" {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoProjectDir))
	}

	start := time.Now()
	folder, _ := agg.PackageFolder()

	var (
		merged *cdx.BOM
		lines  int
		files  int
	)
	// fragments merge in the fixed language order, never in completion order
	for _, lang := range model.Languages() {
		modules, ok := m.index[lang]
		if !ok {
			return m.fail(ctx, fmt.Errorf("language %s: %w", lang, model.ErrNoIndex))
		}
		result, err := m.deps.ScannerFor(lang, m.projectDir).Scan(ctx, gitURL, agg.Revision(), commit, folder, modules)
		if err != nil {
			return m.fail(ctx, fmt.Errorf("scanning %s: %w", lang, err))
		}
		lines += result.Lines
		files += result.Files
		if result.CBOM == nil {
			continue
		}
		merged = bom.Merge(merged, result.CBOM)
		err = agg.ReportScanResult(model.LanguageScan{
			Language: lang,
			Metadata: model.ScanMetadata{
				Start: result.Start,
				End:   result.End,
				Lines: result.Lines,
				Files: result.Files,
			},
			CBOM: result.CBOM,
		})
		if err != nil {
			return m.fail(ctx, err)
		}
	}

	agg.Finish()
	if err := m.deps.Repository.Save(ctx, agg); err != nil {
		return m.fail(ctx, err)
	}

	steps := []progress.Message{
		{Type: progress.TypeScannedDuration, Payload: strconv.Itoa(int(time.Since(start).Seconds()))},
		{Type: progress.TypeScannedFiles, Payload: strconv.Itoa(files)},
		{Type: progress.TypeScannedLines, Payload: strconv.Itoa(lines)},
	}
	for _, msg := range steps {
		if err := m.deps.Progress.Send(msg); err != nil {
			return m.fail(ctx, err)
		}
	}

	if merged == nil {
		return m.fail(ctx, fmt.Errorf("scan %s: %w", m.id, model.ErrNoCBOM))
	}
	payload, err := bom.ToJSONString(merged)
	if err != nil {
		return m.fail(ctx, err)
	}
	if err := m.deps.Progress.Send(progress.Message{Type: progress.TypeCBOM, Payload: payload}); err != nil {
		return m.fail(ctx, err)
	}
	if err := m.deps.Progress.Send(progress.Message{Type: progress.TypeLabel, Payload: "Finished"}); err != nil {
		return m.fail(ctx, err)
	}

	slog.InfoContext(ctx, "scan finished", "files", files, "lines", lines)
	return nil
}

// Compensate unregisters the instance from the bus and removes the cloned
// directory. Safe to invoke more than once; cleanup failures are logged and
// never escalate.
func (m *ProcessManager) Compensate(ctx context.Context) {
	m.deps.Bus.Unregister(m, PipelineCommandTypes()...)
	if m.projectDir == "" {
		return
	}
	if err := os.RemoveAll(m.projectDir); err != nil {
		slog.WarnContext(ctx, "removing cloned directory failed", "dir", m.projectDir, "error", err)
	}
}
