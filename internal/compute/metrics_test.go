package compute

import (
	"testing"

	"github.com/tetraminz/sign_labels/internal/labels"
)

func TestComputeMetrics(t *testing.T) {
	t.Parallel()

	a := labels.Archive{
		"train/a": {Name: "train/a", Gloss: "ICH WILL", Length: 2, ImgsPath: labels.FrameNames("train/a", 4)},
		"train/b": {Name: "train/b", Gloss: "REGEN", Length: 1, ImgsPath: []string{}},
		"c":       {Name: "c", Gloss: "A B C", Length: 2, ImgsPath: labels.FrameNames("c", 2), Extra: map[string]any{"signer": "Signer01"}},
	}

	got := ComputeMetrics(a, "train")

	if got.Entries != 3 {
		t.Fatalf("Entries got %d want %d", got.Entries, 3)
	}
	if got.TotalFrames != 6 {
		t.Fatalf("TotalFrames got %d want %d", got.TotalFrames, 6)
	}
	if got.MinFrames != 0 {
		t.Fatalf("MinFrames got %d want %d", got.MinFrames, 0)
	}
	if got.MaxFrames != 4 {
		t.Fatalf("MaxFrames got %d want %d", got.MaxFrames, 4)
	}
	if got.ZeroFrameEntries != 1 {
		t.Fatalf("ZeroFrameEntries got %d want %d", got.ZeroFrameEntries, 1)
	}
	if got.LengthMismatches != 1 {
		t.Fatalf("LengthMismatches got %d want %d", got.LengthMismatches, 1)
	}
	if got.UnprefixedEntries != 1 {
		t.Fatalf("UnprefixedEntries got %d want %d", got.UnprefixedEntries, 1)
	}
	if got.EntriesWithExtras != 1 {
		t.Fatalf("EntriesWithExtras got %d want %d", got.EntriesWithExtras, 1)
	}
	if got.AvgFrames != 2 {
		t.Fatalf("AvgFrames got %v want %v", got.AvgFrames, 2.0)
	}
}

func TestComputeMetricsEmptyArchive(t *testing.T) {
	t.Parallel()

	got := ComputeMetrics(labels.Archive{}, "dev")
	if got != (Metrics{}) {
		t.Fatalf("expected zero metrics, got %+v", got)
	}
}
