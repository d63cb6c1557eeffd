package model

import (
	"fmt"
	"sort"

	"github.com/package-url/packageurl-go"
)

// ScanAggregate is the durable state of one scan. Exactly one process manager
// instance ever mutates a given aggregate, so no optimistic concurrency is
// needed; the repository does last-writer-wins upserts keyed by ScanID.
type ScanAggregate struct {
	id       ScanID
	purl     *packageurl.PackageURL
	gitURL   GitURL
	revision Revision
	commit   Commit
	folder   string
	scans    map[Language]LanguageScan
	finished bool
}

// NewScanAggregate creates the aggregate for a freshly requested scan.
// An empty revision defaults to main. The folder is a path relative to the
// repository root; empty means the repository root itself.
func NewScanAggregate(id ScanID, purl *packageurl.PackageURL, gitURL GitURL, revision Revision, folder string) *ScanAggregate {
	if revision == "" {
		revision = RevisionMain
	}
	return &ScanAggregate{
		id:       id,
		purl:     purl,
		gitURL:   gitURL,
		revision: revision,
		folder:   folder,
		scans:    make(map[Language]LanguageScan),
	}
}

// ReconstructScanAggregate rebuilds an aggregate from stored fields, bypassing
// creation defaults. Only the repository should call this.
func ReconstructScanAggregate(
	id ScanID,
	purl *packageurl.PackageURL,
	gitURL GitURL,
	revision Revision,
	commit Commit,
	folder string,
	scans []LanguageScan,
	finished bool,
) *ScanAggregate {
	a := &ScanAggregate{
		id:       id,
		purl:     purl,
		gitURL:   gitURL,
		revision: revision,
		commit:   commit,
		folder:   folder,
		scans:    make(map[Language]LanguageScan, len(scans)),
		finished: finished,
	}
	for _, s := range scans {
		a.scans[s.Language] = s
	}
	return a
}

func (a *ScanAggregate) ID() ScanID { return a.id }

func (a *ScanAggregate) Purl() (packageurl.PackageURL, bool) {
	if a.purl == nil {
		return packageurl.PackageURL{}, false
	}
	return *a.purl, true
}

func (a *ScanAggregate) GitURL() (GitURL, bool) {
	return a.gitURL, a.gitURL != ""
}

func (a *ScanAggregate) Revision() Revision { return a.revision }

func (a *ScanAggregate) Commit() (Commit, bool) {
	return a.commit, a.commit != ""
}

func (a *ScanAggregate) PackageFolder() (string, bool) {
	return a.folder, a.folder != ""
}

func (a *ScanAggregate) Finished() bool { return a.finished }

// SetGitURL records the repository url obtained from coordinate resolution.
func (a *ScanAggregate) SetGitURL(url GitURL) error {
	if a.finished {
		return ErrFinished
	}
	if url == "" {
		return fmt.Errorf("empty git url: %w", ErrNoGitURL)
	}
	a.gitURL = url
	return nil
}

// SetCommit records the resolved commit, either from a source-hosting
// coordinate's version segment or from the clone result.
func (a *ScanAggregate) SetCommit(commit Commit) error {
	if a.finished {
		return ErrFinished
	}
	if commit == "" {
		return fmt.Errorf("empty commit: %w", ErrNoCommit)
	}
	a.commit = commit
	return nil
}

// SetPackageFolder records the sub-package folder, relative to the
// repository root.
func (a *ScanAggregate) SetPackageFolder(folder string) error {
	if a.finished {
		return ErrFinished
	}
	a.folder = folder
	return nil
}

// ReportScanResult records the outcome of one language scan. Each language is
// reported at most once; a repeat leaves the prior entry unchanged and fails
// with ErrScanResultExists.
func (a *ScanAggregate) ReportScanResult(scan LanguageScan) error {
	if a.finished {
		return ErrFinished
	}
	if _, ok := a.scans[scan.Language]; ok {
		return fmt.Errorf("language %s: %w", scan.Language, ErrScanResultExists)
	}
	a.scans[scan.Language] = scan
	return nil
}

// Finish marks the scan as done. A finished aggregate rejects further
// mutation.
func (a *ScanAggregate) Finish() {
	a.finished = true
}

// LanguageScans returns the recorded per-language results ordered by
// language, not by completion.
func (a *ScanAggregate) LanguageScans() []LanguageScan {
	out := make([]LanguageScan, 0, len(a.scans))
	for _, s := range a.scans {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}
