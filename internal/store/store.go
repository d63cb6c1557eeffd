// Package store persists scan aggregates in an embedded SQLite database.
// Exactly one process manager writes a given scan id, so writes are plain
// last-writer-wins upserts.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PQCA/cbomkit-go/internal/bom"
	"github.com/PQCA/cbomkit-go/internal/model"

	"github.com/package-url/packageurl-go"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens the database at dbPath and creates the scans table if needed.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			purl TEXT NOT NULL DEFAULT '',
			git_url TEXT NOT NULL DEFAULT '',
			revision TEXT NOT NULL,
			commit_hash TEXT NOT NULL DEFAULT '',
			folder TEXT NOT NULL DEFAULT '',
			finished BOOLEAN NOT NULL DEFAULT FALSE,
			language_scans TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP NOT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating scans table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// languageScanRow is the JSON shape of one recorded language result.
type languageScanRow struct {
	Language string          `json:"language"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Lines    int             `json:"numberOfScannedLines"`
	Files    int             `json:"numberOfScannedFiles"`
	CBOM     json.RawMessage `json:"cbom,omitempty"`
}

// Read returns the aggregate stored for id, or model.ErrNotFound.
func (s *Store) Read(ctx context.Context, id model.ScanID) (*model.ScanAggregate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT purl, git_url, revision, commit_hash, folder, finished, language_scans
		 FROM scans WHERE id=?`, id.String(),
	)

	var (
		purlStr   string
		gitURL    string
		revision  string
		commit    string
		folder    string
		finished  bool
		scansJSON string
	)
	err := row.Scan(&purlStr, &gitURL, &revision, &commit, &folder, &finished, &scansJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, model.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}

	var purl *packageurl.PackageURL
	if purlStr != "" {
		p, err := packageurl.FromString(purlStr)
		if err != nil {
			return nil, fmt.Errorf("stored purl %q is invalid: %w", purlStr, err)
		}
		purl = &p
	}

	var rows []languageScanRow
	if err := json.Unmarshal([]byte(scansJSON), &rows); err != nil {
		return nil, fmt.Errorf("decoding stored language scans: %w", err)
	}
	scans := make([]model.LanguageScan, 0, len(rows))
	for _, r := range rows {
		lang, ok := model.ParseLanguage(r.Language)
		if !ok {
			return nil, fmt.Errorf("stored language %q is unknown", r.Language)
		}
		scan := model.LanguageScan{
			Language: lang,
			Metadata: model.ScanMetadata{
				Start: r.Start,
				End:   r.End,
				Lines: r.Lines,
				Files: r.Files,
			},
		}
		if len(r.CBOM) > 0 {
			fragment, err := bom.Decode(bytes.NewReader(r.CBOM))
			if err != nil {
				return nil, fmt.Errorf("decoding stored cbom fragment: %w", err)
			}
			scan.CBOM = fragment
		}
		scans = append(scans, scan)
	}

	return model.ReconstructScanAggregate(
		id,
		purl,
		model.GitURL(gitURL),
		model.Revision(revision),
		model.Commit(commit),
		folder,
		scans,
		finished,
	), nil
}

// Save upserts the aggregate keyed by its scan id.
func (s *Store) Save(ctx context.Context, agg *model.ScanAggregate) error {
	rows := make([]languageScanRow, 0, len(agg.LanguageScans()))
	for _, scan := range agg.LanguageScans() {
		row := languageScanRow{
			Language: scan.Language.String(),
			Start:    scan.Metadata.Start,
			End:      scan.Metadata.End,
			Lines:    scan.Metadata.Lines,
			Files:    scan.Metadata.Files,
		}
		if scan.CBOM != nil {
			var buf bytes.Buffer
			if err := bom.AsJSON(scan.CBOM, &buf); err != nil {
				return fmt.Errorf("encoding cbom fragment: %w", err)
			}
			row.CBOM = buf.Bytes()
		}
		rows = append(rows, row)
	}
	scansJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding language scans: %w", err)
	}

	var purlStr string
	if purl, ok := agg.Purl(); ok {
		purlStr = purl.String()
	}
	gitURL, _ := agg.GitURL()
	commit, _ := agg.Commit()
	folder, _ := agg.PackageFolder()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (id, purl, git_url, revision, commit_hash, folder, finished, language_scans, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			purl=excluded.purl,
			git_url=excluded.git_url,
			revision=excluded.revision,
			commit_hash=excluded.commit_hash,
			folder=excluded.folder,
			finished=excluded.finished,
			language_scans=excluded.language_scans,
			updated_at=excluded.updated_at`,
		agg.ID().String(),
		purlStr,
		string(gitURL),
		string(agg.Revision()),
		string(commit),
		folder,
		agg.Finished(),
		string(scansJSON),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("executing sql upsert failed: %w", err)
	}
	return nil
}

// Delete removes the aggregate stored for id. Used only by the branch
// fallback self-heal path. Deleting a missing id returns model.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id model.ScanID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM scans WHERE id=?`, id.String(),
	)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return model.ErrNotFound
	}
	return nil
}
