package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tetraminz/sign_labels/internal/labels"
	"github.com/tetraminz/sign_labels/internal/pipeline"
)

const defaultSQLitePath = "out/sign_labels.db"

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	created_at_utc TEXT NOT NULL,
	mode TEXT NOT NULL,
	annotation_rows INTEGER NOT NULL,
	prior_entries INTEGER NOT NULL
)`

const createLabelEntriesTableSQL = `
CREATE TABLE IF NOT EXISTS label_entries (
	run_id TEXT NOT NULL,
	split TEXT NOT NULL,
	entry_key TEXT NOT NULL,
	name TEXT NOT NULL,
	gloss TEXT NOT NULL,
	label_text TEXT NOT NULL,
	length INTEGER NOT NULL,
	frame_count INTEGER NOT NULL,
	frame_source TEXT NOT NULL,
	from_prior INTEGER NOT NULL,
	speaker TEXT NOT NULL,
	PRIMARY KEY (run_id, split, entry_key)
)`

const createRunSignersTableSQL = `
CREATE TABLE IF NOT EXISTS run_signers (
	run_id TEXT NOT NULL,
	speaker TEXT NOT NULL,
	split TEXT NOT NULL,
	samples INTEGER NOT NULL,
	PRIMARY KEY (run_id, speaker)
)`

const createRunArchivesTableSQL = `
CREATE TABLE IF NOT EXISTS run_archives (
	run_id TEXT NOT NULL,
	split TEXT NOT NULL,
	tag TEXT NOT NULL,
	path TEXT NOT NULL,
	entries INTEGER NOT NULL,
	bytes INTEGER NOT NULL,
	PRIMARY KEY (run_id, split)
)`

var createLedgerIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_label_entries_source ON label_entries(run_id, split, frame_source)`,
}

var ledgerTables = []string{"runs", "label_entries", "run_signers", "run_archives"}

const insertRunSQL = `
INSERT INTO runs (run_id, created_at_utc, mode, annotation_rows, prior_entries)
VALUES (?, ?, ?, ?, ?)`

const insertLabelEntrySQL = `
INSERT INTO label_entries (
	run_id,
	split,
	entry_key,
	name,
	gloss,
	label_text,
	length,
	frame_count,
	frame_source,
	from_prior,
	speaker
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertRunSignerSQL = `
INSERT INTO run_signers (run_id, speaker, split, samples) VALUES (?, ?, ?, ?)`

const insertRunArchiveSQL = `
INSERT INTO run_archives (run_id, split, tag, path, entries, bytes) VALUES (?, ?, ?, ?, ?, ?)`

// excludedPartition marks signers that matched no partition rule.
const excludedPartition = "excluded"

// SQLiteStore is the run ledger.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := ensureParentDir(dbPath); err != nil {
		return nil, err
	}
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if err := ensureStoreSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun stores result under a fresh run id in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, result pipeline.Result) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlite store is not initialized")
	}
	runID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertRunSQL,
		runID,
		s.now().UTC().Format(time.RFC3339Nano),
		strings.TrimSpace(result.Mode),
		result.Annotations,
		result.PriorSize,
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	entryStmt, err := tx.PrepareContext(ctx, insertLabelEntrySQL)
	if err != nil {
		return "", fmt.Errorf("prepare entry insert: %w", err)
	}
	defer entryStmt.Close()

	for _, pr := range result.Partitions {
		prov := make(map[string]labels.Provenance, len(pr.Provenance))
		for _, p := range pr.Provenance {
			prov[p.Key] = p
		}
		for _, key := range pr.Archive.Keys() {
			e := pr.Archive[key]
			p := prov[key]
			if _, err := entryStmt.ExecContext(ctx,
				runID,
				string(pr.Partition),
				key,
				e.Name,
				e.Gloss,
				e.Text,
				e.Length,
				len(e.ImgsPath),
				string(p.Source),
				boolToInt(p.FromPrior),
				p.Speaker,
			); err != nil {
				return "", fmt.Errorf("insert entry %q: %w", key, err)
			}
		}

		if _, err := tx.ExecContext(ctx, insertRunArchiveSQL,
			runID, string(pr.Partition), pr.Tag, pr.Output, len(pr.Archive), pr.Bytes,
		); err != nil {
			return "", fmt.Errorf("insert archive %s: %w", pr.Partition, err)
		}
	}

	if err := insertSigners(ctx, tx, runID, result); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return runID, nil
}

func insertSigners(ctx context.Context, tx *sql.Tx, runID string, result pipeline.Result) error {
	samples := map[string]int{}
	for _, pr := range result.Partitions {
		for _, p := range pr.Provenance {
			if p.Speaker != "" {
				samples[p.Speaker]++
			}
		}
	}

	type signerRow struct {
		speaker   string
		partition string
		samples   int
	}
	var rows []signerRow
	if s := result.Split; s != nil {
		for partition, speakers := range s.Signers {
			for _, speaker := range speakers {
				rows = append(rows, signerRow{speaker, string(partition), samples[speaker]})
			}
		}
		for _, ex := range s.Excluded {
			rows = append(rows, signerRow{ex.Speaker, excludedPartition, ex.Samples})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].speaker < rows[j].speaker })

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, insertRunSignerSQL, runID, r.speaker, r.partition, r.samples); err != nil {
			return fmt.Errorf("insert signer %q: %w", r.speaker, err)
		}
	}
	return nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

func ensureStoreSchema(db *sql.DB) error {
	for _, stmt := range []string{
		createRunsTableSQL,
		createLabelEntriesTableSQL,
		createRunSignersTableSQL,
		createRunArchivesTableSQL,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create ledger table: %w", err)
		}
	}

	required := requiredLedgerColumns()
	for _, table := range ledgerTables {
		missing, err := missingTableColumns(db, table, required[table])
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf(
				"incompatible %s schema, missing columns: %s; run `go run . setup --db <path>`",
				table, strings.Join(missing, ", "),
			)
		}
	}

	for _, stmt := range createLedgerIndexesSQL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create ledger index: %w", err)
		}
	}
	return nil
}

func requiredLedgerColumns() map[string][]string {
	return map[string][]string{
		"runs": {"run_id", "created_at_utc", "mode", "annotation_rows", "prior_entries"},
		"label_entries": {
			"run_id",
			"split",
			"entry_key",
			"name",
			"gloss",
			"label_text",
			"length",
			"frame_count",
			"frame_source",
			"from_prior",
			"speaker",
		},
		"run_signers":  {"run_id", "speaker", "split", "samples"},
		"run_archives": {"run_id", "split", "tag", "path", "entries", "bytes"},
	}
}

func missingTableColumns(db *sql.DB, tableName string, required []string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, fmt.Errorf("inspect %s schema: %w", tableName, err)
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name string
		var colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s schema: %w", tableName, err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s schema: %w", tableName, err)
	}

	var missing []string
	for _, col := range required {
		if _, ok := existing[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

// SetupSQLite drops and recreates the ledger tables.
func SetupSQLite(dbPath string) error {
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	db, err := openSQLite(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for i := len(ledgerTables) - 1; i >= 0; i-- {
		if _, err := db.Exec(`DROP TABLE IF EXISTS ` + ledgerTables[i]); err != nil {
			return fmt.Errorf("drop %s table: %w", ledgerTables[i], err)
		}
	}
	return ensureStoreSchema(db)
}

func ensureParentDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
