package model

import (
	"errors"
)

var (
	// ErrNotFound is returned when no aggregate exists for a scan id.
	ErrNotFound = errors.New("scan not found")
	// ErrNoPurl is returned when the resolve step runs without a package coordinate.
	ErrNoPurl = errors.New("no purl specified for scan")
	// ErrNoGitURL is returned when the clone step runs without a resolved repository url.
	ErrNoGitURL = errors.New("no git url specified for scan")
	// ErrNoCommit is returned when the scan step runs before a commit was resolved.
	ErrNoCommit = errors.New("no commit provided")
	// ErrNoProjectDir is returned when a step needs a cloned work tree and none exists.
	ErrNoProjectDir = errors.New("no project directory provided")
	// ErrNoIndex is returned when the scan step runs without a module index for a language.
	ErrNoIndex = errors.New("no index for project")
	// ErrScanResultExists rejects a second result reported for the same language.
	ErrScanResultExists = errors.New("scan result for language already exists")
	// ErrCloneFailed wraps any failure of the git clone service.
	ErrCloneFailed = errors.New("git clone failed")
	// ErrNoCBOM is returned when a finished scan produced no CBOM at all.
	ErrNoCBOM = errors.New("no CBOM produced")
	// ErrNoMatch is returned by finders and detectors when nothing was found.
	ErrNoMatch = errors.New("no match")
	// ErrFinished rejects mutation of an aggregate that already finished.
	ErrFinished = errors.New("scan already finished")
)
