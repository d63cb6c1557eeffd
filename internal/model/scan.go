package model

import (
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

// ScanID uniquely identifies one scan. It keys both the persisted aggregate
// and the commands addressed to the process manager driving that scan.
type ScanID string

func NewScanID() ScanID {
	return ScanID(uuid.NewString())
}

func (id ScanID) String() string {
	return string(id)
}

// GitURL is the https url of the repository to clone.
type GitURL string

// Revision is a branch name. Scans default to main and fall back to master
// exactly once when the initial clone fails.
type Revision string

const (
	RevisionMain   Revision = "main"
	RevisionMaster Revision = "master"
)

// Commit is a resolved git reference: a full hash or, for source-hosting
// coordinates, the version segment of the purl (tag).
type Commit string

// Language enumerates the languages the scanning subsystem understands.
type Language int

const (
	LanguageJava Language = iota
	LanguagePython
)

// Languages returns all supported languages in their fixed declaration order.
// Per-language CBOM fragments are merged in exactly this order.
func Languages() []Language {
	return []Language{LanguageJava, LanguagePython}
}

func (l Language) String() string {
	switch l {
	case LanguageJava:
		return "java"
	case LanguagePython:
		return "python"
	default:
		return "unknown"
	}
}

// ParseLanguage is the inverse of Language.String, used by the repository
// when reconstructing aggregates.
func ParseLanguage(s string) (Language, bool) {
	switch s {
	case "java":
		return LanguageJava, true
	case "python":
		return LanguagePython, true
	default:
		return 0, false
	}
}

// ScanMetadata captures timing and volume statistics of one language scan.
type ScanMetadata struct {
	Start time.Time
	End   time.Time
	Lines int
	Files int
}

// LanguageScan is the recorded outcome of scanning one language: metadata
// plus the CBOM fragment the language scanner produced.
type LanguageScan struct {
	Language Language
	Metadata ScanMetadata
	CBOM     *cdx.BOM
}
