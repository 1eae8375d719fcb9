package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetraminz/sign_labels/internal/archive"
	"github.com/tetraminz/sign_labels/internal/dataset"
	"github.com/tetraminz/sign_labels/internal/labels"
	"github.com/tetraminz/sign_labels/internal/pipeline"
)

const importMode = "import"

// archiveSpec is one --archive argument: "<partition>=<path>", or a bare
// path whose extension names the partition (labels.train, newlabels.dev).
type archiveSpec struct {
	Partition dataset.Partition
	Path      string
}

func parseArchiveSpec(raw string) (archiveSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return archiveSpec{}, fmt.Errorf("archive path is required")
	}
	name, path, ok := strings.Cut(raw, "=")
	if !ok {
		path = raw
		name = strings.TrimPrefix(filepath.Ext(raw), ".")
	}
	for _, p := range dataset.Partitions {
		if string(p) == name {
			return archiveSpec{Partition: p, Path: path}, nil
		}
	}
	return archiveSpec{}, fmt.Errorf("cannot tell partition of %q; use <train|dev|test>=<path>", raw)
}

// MigrateArchivesToSQLite imports existing label archives into the ledger
// as one run with mode "import".
func MigrateArchivesToSQLite(ctx context.Context, rawSpecs []string, dbPath string) (string, int, error) {
	if len(rawSpecs) == 0 {
		return "", 0, fmt.Errorf("at least one --archive is required")
	}

	result := pipeline.Result{Mode: importMode}
	seen := map[dataset.Partition]string{}
	entries := 0
	for _, raw := range rawSpecs {
		spec, err := parseArchiveSpec(raw)
		if err != nil {
			return "", 0, err
		}
		if prev, dup := seen[spec.Partition]; dup {
			return "", 0, fmt.Errorf("partition %s given twice: %s and %s", spec.Partition, prev, spec.Path)
		}
		seen[spec.Partition] = spec.Path

		a, _, err := archive.Read(spec.Path)
		if err != nil {
			return "", 0, err
		}
		info, err := os.Stat(spec.Path)
		if err != nil {
			return "", 0, fmt.Errorf("stat archive: %w", err)
		}

		prov := make([]labels.Provenance, 0, len(a))
		for _, key := range a.Keys() {
			prov = append(prov, labels.Provenance{Key: key})
		}
		result.Partitions = append(result.Partitions, pipeline.PartitionResult{
			Partition:  spec.Partition,
			Tag:        commonTag(a),
			Output:     spec.Path,
			Archive:    a,
			Provenance: prov,
			Bytes:      info.Size(),
		})
		entries += len(a)
	}

	store, err := OpenSQLiteStore(dbPath)
	if err != nil {
		return "", 0, err
	}
	defer store.Close()

	runID, err := store.RecordRun(ctx, result)
	if err != nil {
		return "", 0, err
	}
	return runID, entries, nil
}

// commonTag returns the key prefix shared by every entry, or "".
func commonTag(a labels.Archive) string {
	tag := ""
	for i, key := range a.Keys() {
		prefix, _, ok := strings.Cut(key, "/")
		if !ok {
			return ""
		}
		if i == 0 {
			tag = prefix
		} else if prefix != tag {
			return ""
		}
	}
	return tag
}
