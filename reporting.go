package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tetraminz/sign_labels/internal/dataset"
)

type reportMetrics struct {
	RunID          string
	CreatedAtUTC   string
	Mode           string
	AnnotationRows int
	PriorEntries   int

	Splits          []splitReport
	ExcludedSigners []string
}

type splitReport struct {
	Split   string
	Tag     string
	Path    string
	Entries int
	Bytes   int64

	TotalFrames      int
	ZeroFrameEntries int
	FromPrior        int
	AvgGlossLength   float64
	FrameSources     []reportSourceCount
	Signers          []string
}

type reportSourceCount struct {
	Source string
	Count  int
}

// BuildReport summarises runID, or the latest run when runID is empty.
func BuildReport(dbPath, runID string) (reportMetrics, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return reportMetrics{}, err
	}
	defer db.Close()
	if err := ensureStoreSchema(db); err != nil {
		return reportMetrics{}, err
	}
	return buildReportFromDB(db, runID)
}

func buildReportFromDB(db *sql.DB, runID string) (reportMetrics, error) {
	var report reportMetrics
	var row *sql.Row
	if strings.TrimSpace(runID) == "" {
		row = db.QueryRow(`
			SELECT run_id, created_at_utc, mode, annotation_rows, prior_entries
			FROM runs
			ORDER BY created_at_utc DESC, rowid DESC
			LIMIT 1
		`)
	} else {
		row = db.QueryRow(`
			SELECT run_id, created_at_utc, mode, annotation_rows, prior_entries
			FROM runs
			WHERE run_id = ?
		`, strings.TrimSpace(runID))
	}
	if err := row.Scan(&report.RunID, &report.CreatedAtUTC, &report.Mode, &report.AnnotationRows, &report.PriorEntries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if runID == "" {
				return reportMetrics{}, fmt.Errorf("no runs recorded")
			}
			return reportMetrics{}, fmt.Errorf("run %q not found", runID)
		}
		return reportMetrics{}, fmt.Errorf("query run: %w", err)
	}

	splits := map[string]*splitReport{}
	get := func(name string) *splitReport {
		s, ok := splits[name]
		if !ok {
			s = &splitReport{Split: name}
			splits[name] = s
		}
		return s
	}

	archives, err := db.Query(`SELECT split, tag, path, entries, bytes FROM run_archives WHERE run_id = ?`, report.RunID)
	if err != nil {
		return reportMetrics{}, fmt.Errorf("query archives: %w", err)
	}
	defer archives.Close()
	for archives.Next() {
		var name string
		var a splitReport
		if err := archives.Scan(&name, &a.Tag, &a.Path, &a.Entries, &a.Bytes); err != nil {
			return reportMetrics{}, fmt.Errorf("scan archive row: %w", err)
		}
		s := get(name)
		s.Tag, s.Path, s.Entries, s.Bytes = a.Tag, a.Path, a.Entries, a.Bytes
	}
	if err := archives.Err(); err != nil {
		return reportMetrics{}, fmt.Errorf("iterate archives: %w", err)
	}

	aggregates, err := db.Query(`
		SELECT
			split,
			COALESCE(SUM(frame_count), 0),
			COALESCE(SUM(CASE WHEN frame_count = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(from_prior), 0),
			COALESCE(AVG(length), 0)
		FROM label_entries
		WHERE run_id = ?
		GROUP BY split
	`, report.RunID)
	if err != nil {
		return reportMetrics{}, fmt.Errorf("query entries: %w", err)
	}
	defer aggregates.Close()
	for aggregates.Next() {
		var name string
		var a splitReport
		if err := aggregates.Scan(&name, &a.TotalFrames, &a.ZeroFrameEntries, &a.FromPrior, &a.AvgGlossLength); err != nil {
			return reportMetrics{}, fmt.Errorf("scan entry aggregate: %w", err)
		}
		s := get(name)
		s.TotalFrames, s.ZeroFrameEntries, s.FromPrior, s.AvgGlossLength = a.TotalFrames, a.ZeroFrameEntries, a.FromPrior, a.AvgGlossLength
	}
	if err := aggregates.Err(); err != nil {
		return reportMetrics{}, fmt.Errorf("iterate entry aggregates: %w", err)
	}

	sources, err := db.Query(`
		SELECT
			split,
			CASE WHEN frame_source = '' THEN 'unknown' ELSE frame_source END AS source,
			COUNT(*)
		FROM label_entries
		WHERE run_id = ?
		GROUP BY split, source
		ORDER BY split, source
	`, report.RunID)
	if err != nil {
		return reportMetrics{}, fmt.Errorf("query frame sources: %w", err)
	}
	defer sources.Close()
	for sources.Next() {
		var name string
		var item reportSourceCount
		if err := sources.Scan(&name, &item.Source, &item.Count); err != nil {
			return reportMetrics{}, fmt.Errorf("scan frame source: %w", err)
		}
		s := get(name)
		s.FrameSources = append(s.FrameSources, item)
	}
	if err := sources.Err(); err != nil {
		return reportMetrics{}, fmt.Errorf("iterate frame sources: %w", err)
	}

	signers, err := db.Query(`SELECT split, speaker FROM run_signers WHERE run_id = ? ORDER BY split, speaker`, report.RunID)
	if err != nil {
		return reportMetrics{}, fmt.Errorf("query signers: %w", err)
	}
	defer signers.Close()
	for signers.Next() {
		var name, speaker string
		if err := signers.Scan(&name, &speaker); err != nil {
			return reportMetrics{}, fmt.Errorf("scan signer: %w", err)
		}
		if name == excludedPartition {
			report.ExcludedSigners = append(report.ExcludedSigners, speaker)
			continue
		}
		s := get(name)
		s.Signers = append(s.Signers, speaker)
	}
	if err := signers.Err(); err != nil {
		return reportMetrics{}, fmt.Errorf("iterate signers: %w", err)
	}

	for _, p := range dataset.Partitions {
		if s, ok := splits[string(p)]; ok {
			report.Splits = append(report.Splits, *s)
		}
	}
	return report, nil
}

func FormatReport(r reportMetrics) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("run_id=%s\n", r.RunID))
	b.WriteString(fmt.Sprintf("created_at_utc=%s\n", r.CreatedAtUTC))
	b.WriteString(fmt.Sprintf("mode=%s\n", r.Mode))
	b.WriteString(fmt.Sprintf("annotation_rows=%s\n", humanize.Comma(int64(r.AnnotationRows))))
	b.WriteString(fmt.Sprintf("prior_entries=%s\n", humanize.Comma(int64(r.PriorEntries))))
	for _, s := range r.Splits {
		b.WriteString(fmt.Sprintf("%s.entries=%s\n", s.Split, humanize.Comma(int64(s.Entries))))
		b.WriteString(fmt.Sprintf("%s.tag=%s\n", s.Split, s.Tag))
		b.WriteString(fmt.Sprintf("%s.archive=%s (%s)\n", s.Split, s.Path, humanize.Bytes(uint64(max(s.Bytes, 0)))))
		b.WriteString(fmt.Sprintf("%s.total_frames=%s\n", s.Split, humanize.Comma(int64(s.TotalFrames))))
		b.WriteString(fmt.Sprintf("%s.zero_frame_entries=%d\n", s.Split, s.ZeroFrameEntries))
		b.WriteString(fmt.Sprintf("%s.from_prior=%d\n", s.Split, s.FromPrior))
		b.WriteString(fmt.Sprintf("%s.avg_gloss_length=%.2f\n", s.Split, s.AvgGlossLength))
		for _, src := range s.FrameSources {
			b.WriteString(fmt.Sprintf("%s.frame_source.%s=%d\n", s.Split, src.Source, src.Count))
		}
		if len(s.Signers) > 0 {
			b.WriteString(fmt.Sprintf("%s.signers=%s\n", s.Split, strings.Join(s.Signers, ",")))
		}
	}
	if len(r.ExcludedSigners) > 0 {
		b.WriteString(fmt.Sprintf("excluded.signers=%s\n", strings.Join(r.ExcludedSigners, ",")))
	}
	return b.String()
}

func PrintReport(r reportMetrics) {
	fmt.Print(FormatReport(r))
}
