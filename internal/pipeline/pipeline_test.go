package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraminz/sign_labels/internal/archive"
	"github.com/tetraminz/sign_labels/internal/config"
	"github.com/tetraminz/sign_labels/internal/dataset"
	"github.com/tetraminz/sign_labels/internal/labels"
)

const corpus = "name|video|start|end|speaker|orth|translation\n" +
	"a1|x|-1|-1|Signer01|A B|first\n" +
	"a2|x|-1|-1|Signer08|C|second\n" +
	"a3|x|-1|-1|Signer09|D E F|third\n" +
	"a4|x|-1|-1|Signer10|G|dropped\n"

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

type fakeRecorder struct {
	calls int
	last  Result
}

func (f *fakeRecorder) RecordRun(_ context.Context, r Result) (string, error) {
	f.calls++
	f.last = r
	return "run-1", nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeCorpus(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "corpus.csv")
	require.NoError(t, os.WriteFile(path, []byte(corpus), 0o644))
	return path
}

func finalized(t *testing.T, cfg config.Config, out string) config.Config {
	t.Helper()
	cfg.Partitions = map[string]config.PartitionConfig{}
	for _, p := range dataset.Partitions {
		cfg.Partitions[string(p)] = config.PartitionConfig{Output: filepath.Join(out, "labels."+string(p))}
	}
	require.NoError(t, cfg.Finalize())
	return cfg
}

func TestRunRedistributeWithPrior(t *testing.T) {
	dir := t.TempDir()
	prior := labels.Archive{
		"a1": {Name: "a1", Gloss: "OLD", Text: "old", Length: 1, ImgsPath: []string{"a1/images0001.png", "a1/images0002.png"}},
	}
	priorPath := filepath.Join(dir, "prior.train")
	_, err := archive.Write(priorPath, prior, archive.FormatJSON)
	require.NoError(t, err)

	cfg := finalized(t, config.Config{
		Mode:         config.ModeRedistribute,
		Annotations:  []string{writeCorpus(t, dir)},
		PriorArchive: priorPath,
		FramePolicy:  string(labels.PolicyReprefix),
		Format:       string(archive.FormatJSON),
	}, filepath.Join(dir, "out"))

	rec := &fakeRecorder{}
	res, err := Run(context.Background(), cfg, quietLogger(), rec)
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 4, res.Annotations)
	assert.Equal(t, 1, res.PriorSize)
	require.NotNil(t, res.Split)
	require.Len(t, res.Split.Excluded, 1)
	assert.Equal(t, "Signer10", res.Split.Excluded[0].Speaker)

	require.Len(t, res.Partitions, 3)
	train := res.Partitions[0]
	assert.Equal(t, dataset.Train, train.Partition)
	entry, ok := train.Archive["SI_train/a1"]
	require.True(t, ok)
	assert.Equal(t, "A B", entry.Gloss)
	assert.Equal(t, 2, entry.Length)
	assert.Equal(t, []string{"SI_train/a1/images0001.png", "SI_train/a1/images0002.png"}, entry.ImgsPath)

	written, format, err := archive.Read(train.Output)
	require.NoError(t, err)
	assert.Equal(t, archive.FormatJSON, format)
	assert.Equal(t, train.Archive, written)
	assert.Positive(t, train.Bytes)

	test := res.Partitions[2]
	assert.Equal(t, dataset.Test, test.Partition)
	_, ok = test.Archive["SI_test/a2"]
	assert.True(t, ok)
	// No prior and no frames on disk: the fallback length applies.
	assert.Len(t, test.Archive["SI_test/a2"].ImgsPath, labels.DefaultFallbackFrames)
}

func TestRunLogsExcludedSignerAndMissingPriorEntries(t *testing.T) {
	dir := t.TempDir()
	priorPath := filepath.Join(dir, "prior.train")
	_, err := archive.Write(priorPath, labels.Archive{"a1": {Name: "a1", ImgsPath: []string{"a1/images0001.png"}}}, archive.FormatPickle)
	require.NoError(t, err)

	cfg := finalized(t, config.Config{
		Mode:         config.ModeRedistribute,
		Annotations:  []string{writeCorpus(t, dir)},
		PriorArchive: priorPath,
		FramePolicy:  string(labels.PolicyReprefix),
	}, filepath.Join(dir, "out"))

	var buf bytes.Buffer
	_, err = Run(context.Background(), cfg, slog.New(slog.NewTextHandler(&buf, nil)), nil)
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, `level=WARN msg="signer outside partition rule, samples excluded"`)
	assert.Contains(t, logs, "speaker=Signer10")
	assert.Contains(t, logs, "samples=1")
	assert.Contains(t, logs, `level=WARN msg="sample not found in prior labels, using defaults" key=a2 partition=SI_test`)
	assert.Contains(t, logs, "key=a3 partition=SI_dev")
	assert.NotContains(t, logs, "key=a1")
	assert.NotContains(t, logs, "key=a4")
}

func TestRunFramesModeKeepsOnlyScannedSamples(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "frames")
	for tag, name := range map[string]string{"train": "a1", "dev": "a3"} {
		frameDir := filepath.Join(src, tag, name)
		require.NoError(t, os.MkdirAll(frameDir, 0o755))
		for i := 1; i <= 3; i++ {
			require.NoError(t, os.WriteFile(filepath.Join(frameDir, fmt.Sprintf("images%04d.png", i)), pngMagic, 0o644))
		}
	}

	cfg := finalized(t, config.Config{
		Annotations: []string{writeCorpus(t, dir)},
		SourceDir:   src,
	}, filepath.Join(dir, "out"))

	res, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)
	assert.Nil(t, res.Split)
	assert.Empty(t, res.RunID)

	byPartition := map[dataset.Partition]PartitionResult{}
	for _, pr := range res.Partitions {
		byPartition[pr.Partition] = pr
	}
	require.Len(t, byPartition[dataset.Train].Archive, 1)
	assert.Equal(t, []string{"train/a1/images0001.png", "train/a1/images0002.png", "train/a1/images0003.png"},
		byPartition[dataset.Train].Archive["train/a1"].ImgsPath)
	assert.Len(t, byPartition[dataset.Dev].Archive, 1)
	assert.Empty(t, byPartition[dataset.Test].Archive)

	_, _, err = archive.Read(byPartition[dataset.Test].Output)
	require.NoError(t, err)
}

func TestRunFailsOnMissingPrior(t *testing.T) {
	dir := t.TempDir()
	cfg := finalized(t, config.Config{
		Mode:         config.ModeRedistribute,
		Annotations:  []string{writeCorpus(t, dir)},
		PriorArchive: filepath.Join(dir, "missing.train"),
	}, dir)

	_, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	res := Result{
		Annotations: 2,
		Partitions: []PartitionResult{
			{Partition: dataset.Train, Archive: labels.Archive{
				"train/b": labels.NewEntry(labels.Overrides{Name: "train/b", Gloss: "X"}),
				"train/a": labels.NewEntry(labels.Overrides{Name: "train/a", Gloss: "Y Z"}),
			}},
			{Partition: dataset.Dev, Archive: labels.Archive{}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, PrintSummary(&buf, res))

	out := buf.String()
	assert.Contains(t, out, "Total samples in all CSV files: 2")
	assert.Contains(t, out, "Train: 2 samples")
	assert.Contains(t, out, "Train sample:")
	assert.Contains(t, out, `"train/a"`)
	assert.NotContains(t, out, `"train/b"`)
	assert.Contains(t, out, "Dev set is empty!")
}
