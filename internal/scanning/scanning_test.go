package scanning_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/PQCA/cbomkit-go/internal/bom"
	"github.com/PQCA/cbomkit-go/internal/bus"
	"github.com/PQCA/cbomkit-go/internal/index"
	"github.com/PQCA/cbomkit-go/internal/model"
	"github.com/PQCA/cbomkit-go/internal/progress"
	"github.com/PQCA/cbomkit-go/internal/scanner"
	"github.com/PQCA/cbomkit-go/internal/scanning"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/package-url/packageurl-go"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu      sync.Mutex
	scans   map[model.ScanID]*model.ScanAggregate
	deletes int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{scans: make(map[model.ScanID]*model.ScanAggregate)}
}

func (r *fakeRepo) Read(_ context.Context, id model.ScanID) (*model.ScanAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.scans[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return agg, nil
}

func (r *fakeRepo) Save(_ context.Context, agg *model.ScanAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[agg.ID()] = agg
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id model.ScanID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scans[id]; !ok {
		return model.ErrNotFound
	}
	delete(r.scans, id)
	r.deletes++
	return nil
}

type recorder struct {
	mu       sync.Mutex
	messages []progress.Message
}

func (r *recorder) Send(msg progress.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recorder) types() []progress.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.MessageType, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) count(typ progress.MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) payload(typ progress.MessageType) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Type == typ {
			return m.Payload
		}
	}
	return ""
}

// failingDispatcher records every send like recorder, but fails once the
// given message type comes through, like a listener that disconnected
// mid-scan.
type failingDispatcher struct {
	rec    *recorder
	failOn progress.MessageType
	err    error
}

func (d *failingDispatcher) Send(msg progress.Message) error {
	_ = d.rec.Send(msg)
	if msg.Type == d.failOn {
		return d.err
	}
	return nil
}

type fakeResolver struct {
	url model.GitURL
	err error
}

func (f fakeResolver) Resolve(context.Context, packageurl.PackageURL) (model.GitURL, error) {
	return f.url, f.err
}

type fakeFinder struct {
	path string
	err  error
}

func (f fakeFinder) Find(packageurl.PackageURL) (string, error) {
	return f.path, f.err
}

type fakeIndexer struct {
	modules []index.Module
	err     error
}

func (f fakeIndexer) Index(context.Context, string) ([]index.Module, error) {
	return f.modules, f.err
}

type fakeScanner struct {
	result scanner.Result
	err    error
}

func (f fakeScanner) Scan(
	_ context.Context,
	_ model.GitURL,
	_ model.Revision,
	_ model.Commit,
	_ string,
	_ []index.Module,
) (scanner.Result, error) {
	return f.result, f.err
}

type cloneCall struct {
	revision model.Revision
	commit   model.Commit
}

// harness wires fakes into a Deps the way the command wiring does in
// production, with the request handler registered on the bus.
type harness struct {
	bus      *bus.Bus
	repo     *fakeRepo
	progress *recorder
	deps     scanning.Deps
	once     sync.Once

	mu         sync.Mutex
	cloneCalls []cloneCall
	cloneErr   map[model.Revision]error
	cloneDir   string

	scanners map[model.Language]fakeScanner
}

func fragment(name string) *cdx.BOM {
	return bom.NewBuilder().AppendComponents(cdx.Component{
		BOMRef: "crypto/algorithm/" + name + "@src:1",
		Type:   cdx.ComponentTypeCryptographicAsset,
		Name:   name,
	}).BOM()
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		bus:      bus.New(),
		repo:     newFakeRepo(),
		progress: &recorder{},
		cloneErr: make(map[model.Revision]error),
		cloneDir: filepath.Join(t.TempDir(), "clone"),
		scanners: map[model.Language]fakeScanner{
			model.LanguageJava:   {result: scanner.Result{Lines: 100, Files: 3, CBOM: fragment("SHA-256")}},
			model.LanguagePython: {result: scanner.Result{Lines: 50, Files: 2, CBOM: fragment("md5")}},
		},
	}

	h.deps = scanning.Deps{
		Bus:        h.bus,
		Repository: h.repo,
		Progress:   h.progress,
		ResolverFor: func(packageurl.PackageURL) scanning.Resolver {
			return fakeResolver{url: "https://github.com/acme/lib"}
		},
		Clone: func(_ context.Context, _ model.ScanID, _ model.GitURL, revision model.Revision, commit model.Commit, _ *model.Credentials) (scanning.CloneResult, error) {
			h.mu.Lock()
			h.cloneCalls = append(h.cloneCalls, cloneCall{revision: revision, commit: commit})
			err := h.cloneErr[revision]
			h.mu.Unlock()
			if err != nil {
				return scanning.CloneResult{}, err
			}
			if mkErr := os.MkdirAll(h.cloneDir, 0o755); mkErr != nil {
				return scanning.CloneResult{}, mkErr
			}
			if commit == "" {
				commit = "0123abc"
			}
			return scanning.CloneResult{Dir: h.cloneDir, Commit: commit}, nil
		},
		FindersFor: func(string, packageurl.PackageURL) []scanning.Finder {
			return nil
		},
		IndexerFor: func(model.Language, string) scanning.Indexer {
			return fakeIndexer{modules: []index.Module{{Name: "root", Root: "."}}}
		},
		ScannerFor: func(lang model.Language, _ string) scanning.Scanner {
			return h.scanners[lang]
		},
	}

	return h
}

// request registers the request handler on first use, so tests can swap
// collaborators in h.deps beforehand.
func (h *harness) request(t *testing.T, cmd *scanning.RequestScanCommand) error {
	t.Helper()
	h.once.Do(func() {
		h.bus.Register(scanning.NewRequestHandler(h.deps), scanning.TypeRequestScan)
	})
	return h.bus.Send(context.Background(), cmd)
}

func TestPipelineFromSourceHostingCoordinate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	searched := false
	h.deps.FindersFor = func(string, packageurl.PackageURL) []scanning.Finder {
		searched = true
		return nil
	}

	id := model.NewScanID()
	require.NoError(t, h.request(t, &scanning.RequestScanCommand{
		ID:    id,
		Input: "pkg:github/acme/lib@v1.0.0#sub/dir",
	}))

	// the coordinate subpath pre-sets the folder, discovery never runs
	require.False(t, searched)

	require.Equal(t, []progress.MessageType{
		progress.TypeRevisionHash,
		progress.TypeGitURL,
		progress.TypeBranch,
		progress.TypeScannedDuration,
		progress.TypeScannedFiles,
		progress.TypeScannedLines,
		progress.TypeCBOM,
		progress.TypeLabel,
	}, h.progress.types())
	require.Equal(t, "v1.0.0", h.progress.payload(progress.TypeRevisionHash))
	require.Equal(t, "5", h.progress.payload(progress.TypeScannedFiles))
	require.Equal(t, "150", h.progress.payload(progress.TypeScannedLines))
	require.Equal(t, "Finished", h.progress.payload(progress.TypeLabel))

	// the version segment is the commit, the clone never guesses a branch
	require.Equal(t, []cloneCall{{revision: model.RevisionMain, commit: "v1.0.0"}}, h.cloneCalls)

	agg, err := h.repo.Read(context.Background(), id)
	require.NoError(t, err)
	require.True(t, agg.Finished())

	folder, ok := agg.PackageFolder()
	require.True(t, ok)
	require.Equal(t, "sub/dir", folder)

	scans := agg.LanguageScans()
	require.Len(t, scans, 2)
	require.Equal(t, model.LanguageJava, scans[0].Language)
	require.Equal(t, model.LanguagePython, scans[1].Language)
}

func TestPipelineFromDirectGitURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := model.NewScanID()
	require.NoError(t, h.request(t, &scanning.RequestScanCommand{
		ID:    id,
		Input: "https://github.com/acme/lib",
	}))

	// no coordinate resolution, the commit comes from the clone itself
	require.Equal(t, []progress.MessageType{
		progress.TypeGitURL,
		progress.TypeBranch,
		progress.TypeRevisionHash,
		progress.TypeScannedDuration,
		progress.TypeScannedFiles,
		progress.TypeScannedLines,
		progress.TypeCBOM,
		progress.TypeLabel,
	}, h.progress.types())
	require.Equal(t, "main", h.progress.payload(progress.TypeBranch))
	require.Equal(t, "0123abc", h.progress.payload(progress.TypeRevisionHash))

	agg, err := h.repo.Read(context.Background(), id)
	require.NoError(t, err)
	require.True(t, agg.Finished())
	_, ok := agg.PackageFolder()
	require.False(t, ok)
}

func TestPipelineMergesFragmentsOfBothLanguages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "https://github.com/acme/lib",
	}))

	payload := h.progress.payload(progress.TypeCBOM)
	require.Contains(t, payload, "SHA-256")
	require.Contains(t, payload, "md5")
}

func TestBranchFallbackRetriesOnceWithMaster(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cloneErr[model.RevisionMain] = fmt.Errorf("%w: branch not found", model.ErrCloneFailed)

	id := model.NewScanID()
	require.NoError(t, h.request(t, &scanning.RequestScanCommand{
		ID:    id,
		Input: "https://github.com/acme/lib",
	}))

	require.Equal(t, []cloneCall{
		{revision: model.RevisionMain},
		{revision: model.RevisionMaster},
	}, h.cloneCalls)
	require.Equal(t, 1, h.repo.deletes)
	require.Zero(t, h.progress.count(progress.TypeError))

	agg, err := h.repo.Read(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.RevisionMaster, agg.Revision())
	require.True(t, agg.Finished())
}

func TestBranchFallbackIsTerminalOnSecondFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cloneErr[model.RevisionMain] = fmt.Errorf("%w: branch not found", model.ErrCloneFailed)
	h.cloneErr[model.RevisionMaster] = fmt.Errorf("%w: branch not found", model.ErrCloneFailed)

	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "https://github.com/acme/lib",
	})
	require.ErrorIs(t, err, model.ErrCloneFailed)
	require.Len(t, h.cloneCalls, 2)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
}

func TestExplicitBranchNeverFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cloneErr[model.RevisionMaster] = fmt.Errorf("%w: branch not found", model.ErrCloneFailed)

	err := h.request(t, &scanning.RequestScanCommand{
		ID:     model.NewScanID(),
		Input:  "https://github.com/acme/lib",
		Branch: "master",
	})
	require.ErrorIs(t, err, model.ErrCloneFailed)
	require.Len(t, h.cloneCalls, 1)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
}

func TestFolderDiscoveryEmitsFolderEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.FindersFor = func(string, packageurl.PackageURL) []scanning.Finder {
		return []scanning.Finder{
			fakeFinder{err: model.ErrNoMatch},
			fakeFinder{path: "core"},
		}
	}

	id := model.NewScanID()
	require.NoError(t, h.request(t, &scanning.RequestScanCommand{
		ID:    id,
		Input: "pkg:maven/org.acme/lib@1.0.0",
	}))

	require.Equal(t, 1, h.progress.count(progress.TypeFolder))
	require.Equal(t, "core", h.progress.payload(progress.TypeFolder))

	agg, err := h.repo.Read(context.Background(), id)
	require.NoError(t, err)
	folder, ok := agg.PackageFolder()
	require.True(t, ok)
	require.Equal(t, "core", folder)
}

func TestMissingFolderNeverBlocksThePipeline(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.FindersFor = func(string, packageurl.PackageURL) []scanning.Finder {
		return []scanning.Finder{fakeFinder{err: model.ErrNoMatch}}
	}

	id := model.NewScanID()
	require.NoError(t, h.request(t, &scanning.RequestScanCommand{
		ID:    id,
		Input: "pkg:maven/org.acme/lib@1.0.0",
	}))

	require.Zero(t, h.progress.count(progress.TypeFolder))
	agg, err := h.repo.Read(context.Background(), id)
	require.NoError(t, err)
	require.True(t, agg.Finished())
}

func TestScanWithoutFindingsFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scanners[model.LanguageJava] = fakeScanner{result: scanner.Result{Lines: 10, Files: 1}}
	h.scanners[model.LanguagePython] = fakeScanner{result: scanner.Result{Lines: 5, Files: 1}}

	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "https://github.com/acme/lib",
	})
	require.ErrorIs(t, err, model.ErrNoCBOM)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
	require.Zero(t, h.progress.count(progress.TypeCBOM))

	// counts are still reported before the failure
	require.Equal(t, "2", h.progress.payload(progress.TypeScannedFiles))
	require.Equal(t, "15", h.progress.payload(progress.TypeScannedLines))
}

func TestFailedLanguageScanEmitsExactlyOneError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scanners[model.LanguagePython] = fakeScanner{err: errors.New("parser blew up")}

	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "https://github.com/acme/lib",
	})
	require.Error(t, err)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
	require.Contains(t, h.progress.payload(progress.TypeError), "parser blew up")
}

func TestResolveFailureEmitsExactlyOneError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.ResolverFor = func(packageurl.PackageURL) scanning.Resolver {
		return fakeResolver{err: errors.New("no source repository")}
	}

	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "pkg:maven/org.acme/lib@1.0.0",
	})
	require.Error(t, err)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
	require.Empty(t, h.cloneCalls)
}

func TestFailureRemovesClonedDirectory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scanners[model.LanguageJava] = fakeScanner{err: errors.New("scan failed")}

	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "https://github.com/acme/lib",
	})
	require.Error(t, err)
	require.NoDirExists(t, h.cloneDir)
}

func TestDisconnectedListenerCompensatesTheScan(t *testing.T) {
	t.Parallel()

	gone := errors.New("listener disconnected")
	h := newHarness(t)
	h.deps.Progress = &failingDispatcher{rec: h.progress, failOn: progress.TypeScannedDuration, err: gone}

	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "https://github.com/acme/lib",
	})
	require.ErrorIs(t, err, gone)

	// compensation removed the work tree, and the stream never reached
	// the CBOM or the terminal label
	require.NoDirExists(t, h.cloneDir)
	require.Zero(t, h.progress.count(progress.TypeCBOM))
	require.Zero(t, h.progress.count(progress.TypeLabel))
	require.Equal(t, 1, h.progress.count(progress.TypeError))
}

func TestDisconnectedListenerBeforeCloneCompensates(t *testing.T) {
	t.Parallel()

	gone := errors.New("listener disconnected")
	h := newHarness(t)
	h.deps.Progress = &failingDispatcher{rec: h.progress, failOn: progress.TypeGitURL, err: gone}

	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "https://github.com/acme/lib",
	})
	require.ErrorIs(t, err, gone)
	require.Empty(t, h.cloneCalls)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
}

func TestManagerIgnoresForeignScanIDs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	mgr := scanning.NewProcessManager(model.NewScanID(), h.deps)

	err := mgr.Handle(context.Background(), &scanning.ScanCommand{ID: model.NewScanID()})
	require.NoError(t, err)
	require.Empty(t, h.progress.types())
}

func TestManagerIgnoresUnknownCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := model.NewScanID()
	mgr := scanning.NewProcessManager(id, h.deps)

	err := mgr.Handle(context.Background(), &scanning.RequestScanCommand{ID: id})
	require.NoError(t, err)
	require.Empty(t, h.progress.types())
}

func TestScanWithoutCloneFailsOnMissingWorkTree(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := model.NewScanID()
	agg := model.NewScanAggregate(id, nil, "https://github.com/acme/lib", "", "")
	require.NoError(t, h.repo.Save(context.Background(), agg))

	mgr := scanning.NewProcessManager(id, h.deps)
	err := mgr.Handle(context.Background(), &scanning.IndexModulesCommand{ID: id})
	require.ErrorIs(t, err, model.ErrNoProjectDir)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
}

func TestScanWithoutIndexFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := model.NewScanID()
	agg := model.NewScanAggregate(id, nil, "https://github.com/acme/lib", "", "")
	require.NoError(t, h.repo.Save(context.Background(), agg))

	// an unsubscribed bus stops the chain after the clone, leaving the
	// instance with a work tree and a commit but no module index
	mgr := scanning.NewProcessManager(id, h.deps)
	require.NoError(t, mgr.Handle(context.Background(), &scanning.CloneRepositoryCommand{ID: id}))

	err := mgr.Handle(context.Background(), &scanning.ScanCommand{ID: id})
	require.ErrorIs(t, err, model.ErrNoIndex)
	require.Equal(t, 1, h.progress.count(progress.TypeError))
}

func TestCompensateIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	mgr := scanning.NewProcessManager(model.NewScanID(), h.deps)

	mgr.Compensate(context.Background())
	mgr.Compensate(context.Background())
}

func TestRequestHandlerRejectsMalformedCoordinate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.request(t, &scanning.RequestScanCommand{
		ID:    model.NewScanID(),
		Input: "pkg:::not-a-purl",
	})
	require.Error(t, err)
}

func TestDeleteCBOMHandler(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	id := model.NewScanID()
	require.NoError(t, repo.Save(context.Background(), model.NewScanAggregate(id, nil, "https://github.com/acme/lib", "", "")))

	h := scanning.NewDeleteCBOMHandler(repo)
	require.NoError(t, h.Handle(context.Background(), &scanning.DeleteCBOMCommand{ID: id}))

	_, err := repo.Read(context.Background(), id)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.ErrorIs(t, h.Handle(context.Background(), &scanning.DeleteCBOMCommand{ID: id}), model.ErrNotFound)

	// other command types pass through untouched
	require.NoError(t, h.Handle(context.Background(), &scanning.ScanCommand{ID: id}))
}

func TestPipelineCommandTypesAreInPipelineOrder(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		scanning.TypeResolvePurl,
		scanning.TypeCloneRepository,
		scanning.TypeIdentifyPackageFolder,
		scanning.TypeIndexModules,
		scanning.TypeScan,
	}, scanning.PipelineCommandTypes())
}
