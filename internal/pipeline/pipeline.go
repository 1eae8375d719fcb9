// Package pipeline runs one label build: load annotations, assign
// partitions, reconcile entries and write one archive per partition.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetraminz/sign_labels/internal/archive"
	"github.com/tetraminz/sign_labels/internal/compute"
	"github.com/tetraminz/sign_labels/internal/config"
	"github.com/tetraminz/sign_labels/internal/dataset"
	"github.com/tetraminz/sign_labels/internal/labels"
)

// Recorder persists a finished run, e.g. into the SQLite ledger.
type Recorder interface {
	RecordRun(ctx context.Context, result Result) (string, error)
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Mode        string
	Annotations int
	PriorSize   int
	// Split is set in redistribute mode only.
	Split      *dataset.SplitSummary
	Partitions []PartitionResult
}

// PartitionResult is the output of one split.
type PartitionResult struct {
	Partition  dataset.Partition
	Tag        string
	Output     string
	Archive    labels.Archive
	Provenance []labels.Provenance
	Metrics    compute.Metrics
	Bytes      int64
}

// Run executes cfg, which must already be finalized. recorder may be nil.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder Recorder) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := labels.ParseFramePolicy(cfg.FramePolicy)
	if err != nil {
		return Result{}, err
	}
	format, err := archive.ParseFormat(cfg.Format)
	if err != nil {
		return Result{}, err
	}

	records, err := dataset.LoadAll(cfg.Annotations...)
	if err != nil {
		return Result{}, err
	}
	logger.Info("loaded annotations", "files", len(cfg.Annotations), "rows", len(records))

	result := Result{Mode: cfg.Mode, Annotations: len(records)}

	var prior labels.Archive
	if cfg.PriorArchive != "" {
		prior, _, err = archive.Read(cfg.PriorArchive)
		if err != nil {
			return Result{}, err
		}
		result.PriorSize = len(prior)
		logger.Info("loaded prior labels", "path", cfg.PriorArchive, "entries", len(prior))
	}

	reconciler := &labels.Reconciler{
		SourceDir:      cfg.SourceDir,
		Prior:          prior,
		Policy:         policy,
		FallbackFrames: cfg.FallbackFrames,
		Counter:        labels.FrameCounter{VerifyContent: cfg.VerifyFrames},
		Logger:         logger,
	}

	assigned, err := assign(ctx, cfg, records, reconciler, logger, &result)
	if err != nil {
		return Result{}, err
	}

	for _, p := range dataset.Partitions {
		pc := cfg.Partition(p)
		out, prov, err := reconciler.Reconcile(ctx, assigned[p], pc.Tag)
		if err != nil {
			return Result{}, fmt.Errorf("reconcile %s: %w", p, err)
		}
		n, err := archive.Write(pc.Output, out, format)
		if err != nil {
			return Result{}, fmt.Errorf("write %s archive: %w", p, err)
		}

		metrics := compute.ComputeMetrics(out, pc.Tag)
		logger.Info("archive written",
			"partition", p,
			"tag", pc.Tag,
			"path", pc.Output,
			"entries", metrics.Entries,
			"zero_frame_entries", metrics.ZeroFrameEntries,
			"bytes", n,
		)
		result.Partitions = append(result.Partitions, PartitionResult{
			Partition:  p,
			Tag:        pc.Tag,
			Output:     pc.Output,
			Archive:    out,
			Provenance: prov,
			Metrics:    metrics,
			Bytes:      n,
		})
	}

	if recorder != nil {
		runID, err := recorder.RecordRun(ctx, result)
		if err != nil {
			return Result{}, fmt.Errorf("record run: %w", err)
		}
		result.RunID = runID
		logger.Info("run recorded", "run_id", runID)
	}
	return result, nil
}

func assign(ctx context.Context, cfg config.Config, records []dataset.Annotation, r *labels.Reconciler, logger *slog.Logger, result *Result) (map[dataset.Partition][]dataset.Annotation, error) {
	assigned := make(map[dataset.Partition][]dataset.Annotation, len(dataset.Partitions))

	switch cfg.Mode {
	case config.ModeRedistribute:
		split, err := dataset.SplitBySigner(records)
		if err != nil {
			return nil, err
		}
		for _, ex := range split.Excluded {
			logger.Warn("signer outside partition rule, samples excluded",
				"speaker", ex.Speaker, "signer", ex.Number, "samples", ex.Samples)
		}
		summary := split.Summary()
		result.Split = &summary
		for _, p := range dataset.Partitions {
			assigned[p] = split.Records[p]
		}
	case config.ModeFrames:
		for _, p := range dataset.Partitions {
			tag := cfg.Partition(p).Tag
			kept, err := r.Scan(ctx, records, tag)
			if err != nil {
				return nil, fmt.Errorf("scan %s frames: %w", p, err)
			}
			logger.Debug("frame directories found", "partition", p, "tag", tag, "samples", len(kept))
			assigned[p] = kept
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return assigned, nil
}
