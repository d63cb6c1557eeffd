package scanning

import (
	"context"

	"github.com/PQCA/cbomkit-go/internal/bus"
	"github.com/PQCA/cbomkit-go/internal/index"
	"github.com/PQCA/cbomkit-go/internal/model"
	"github.com/PQCA/cbomkit-go/internal/progress"
	"github.com/PQCA/cbomkit-go/internal/scanner"

	"github.com/package-url/packageurl-go"
)

// Repository is the load/save/delete contract for scan aggregates.
type Repository interface {
	Read(ctx context.Context, id model.ScanID) (*model.ScanAggregate, error)
	Save(ctx context.Context, agg *model.ScanAggregate) error
	Delete(ctx context.Context, id model.ScanID) error
}

// Resolver resolves a package coordinate to a repository url.
type Resolver interface {
	Resolve(ctx context.Context, purl packageurl.PackageURL) (model.GitURL, error)
}

// Finder searches a work tree for the folder of the package a coordinate
// names; model.ErrNoMatch means nothing was found.
type Finder interface {
	Find(purl packageurl.PackageURL) (string, error)
}

// Indexer builds one language's module index, scoped to the optional folder.
type Indexer interface {
	Index(ctx context.Context, folder string) ([]index.Module, error)
}

// Scanner runs one language's cryptography scan over previously indexed
// modules.
type Scanner interface {
	Scan(
		ctx context.Context,
		url model.GitURL,
		revision model.Revision,
		commit model.Commit,
		folder string,
		modules []index.Module,
	) (scanner.Result, error)
}

// CloneResult is what the clone collaborator hands back: the work-tree
// directory and the commit it points at.
type CloneResult struct {
	Dir    string
	Commit model.Commit
}

// CloneFunc clones url at revision (or at the already-known commit) into a
// directory private to id.
type CloneFunc func(
	ctx context.Context,
	id model.ScanID,
	url model.GitURL,
	revision model.Revision,
	commit model.Commit,
	creds *model.Credentials,
) (CloneResult, error)

// Deps wires the external collaborators into the pipeline. All selectors are
// called per step, one process manager never shares state with another.
type Deps struct {
	Bus        *bus.Bus
	Repository Repository
	Progress   progress.Dispatcher

	ResolverFor func(purl packageurl.PackageURL) Resolver
	Clone       CloneFunc
	FindersFor  func(root string, purl packageurl.PackageURL) []Finder
	IndexerFor  func(lang model.Language, dir string) Indexer
	ScannerFor  func(lang model.Language, dir string) Scanner
}
