package labels

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraminz/sign_labels/internal/dataset"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func makeFrames(t *testing.T, root, tag, name string, n int) {
	t.Helper()
	dir := filepath.Join(root, tag, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 1; i <= n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("images%04d.png", i))
		require.NoError(t, os.WriteFile(p, pngMagic, 0o644))
	}
}

func row(name, speaker, orth, translation string) dataset.Annotation {
	return dataset.Annotation{Name: name, Speaker: speaker, Orth: orth, Translation: translation, HasName: true}
}

func TestEnsurePrefixIsIdempotent(t *testing.T) {
	once := EnsurePrefix("01April_2010_Thursday_heute-6694", "SI_train")
	twice := EnsurePrefix(once, "SI_train")
	assert.Equal(t, "SI_train/01April_2010_Thursday_heute-6694", once)
	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, "SI_train/"))
}

func TestFrameNamesAreOneIndexedAndPadded(t *testing.T) {
	names := FrameNames("train/x", 3)
	assert.Equal(t, []string{"train/x/images0001.png", "train/x/images0002.png", "train/x/images0003.png"}, names)
	assert.Empty(t, FrameNames("train/x", 0))
}

func TestReconcileFreshEntryWithFallbackFrames(t *testing.T) {
	r := &Reconciler{}
	out, prov, err := r.Reconcile(context.Background(), []dataset.Annotation{
		row("01April_2010_Thursday_heute-6694", "Signer04", "ICH WILL", "I want"),
	}, "SI_train")
	require.NoError(t, err)

	e, ok := out["SI_train/01April_2010_Thursday_heute-6694"]
	require.True(t, ok)
	assert.Equal(t, 2, e.Length)
	assert.Equal(t, "I want", e.Text)
	assert.Len(t, e.ImgsPath, DefaultFallbackFrames)
	assert.Equal(t, "SI_train/01April_2010_Thursday_heute-6694/images0200.png", e.ImgsPath[199])
	require.Len(t, prov, 1)
	assert.Equal(t, SourceFallback, prov[0].Source)
	assert.False(t, prov[0].FromPrior)
}

func TestReconcileFallbackFramesOverride(t *testing.T) {
	r := &Reconciler{FallbackFrames: 5}
	out, _, err := r.Reconcile(context.Background(), []dataset.Annotation{row("a", "Signer01", "A", "a")}, "dev")
	require.NoError(t, err)
	assert.Len(t, out["dev/a"].ImgsPath, 5)
}

func TestReconcileFreshEntryCountsFrames(t *testing.T) {
	src := t.TempDir()
	makeFrames(t, src, "train", "sample", 3)
	require.NoError(t, os.WriteFile(filepath.Join(src, "train", "sample", "notes.txt"), []byte("x"), 0o644))

	r := &Reconciler{SourceDir: src}
	out, prov, err := r.Reconcile(context.Background(), []dataset.Annotation{row("sample", "Signer01", "A B C", "abc")}, "train")
	require.NoError(t, err)

	e := out["train/sample"]
	assert.Equal(t, []string{"train/sample/images0001.png", "train/sample/images0002.png", "train/sample/images0003.png"}, e.ImgsPath)
	assert.Equal(t, 3, e.Length)
	assert.Equal(t, SourceDirectory, prov[0].Source)
}

func TestReconcileMissingDirectoryYieldsEmptyFrames(t *testing.T) {
	r := &Reconciler{SourceDir: t.TempDir()}
	out, prov, err := r.Reconcile(context.Background(), []dataset.Annotation{row("ghost", "Signer02", "X", "x")}, "test")
	require.NoError(t, err)

	e, ok := out["test/ghost"]
	require.True(t, ok, "entry must not be dropped")
	assert.NotNil(t, e.ImgsPath)
	assert.Empty(t, e.ImgsPath)
	assert.Equal(t, SourceMissingDirectory, prov[0].Source)
}

func TestReconcilePriorEntryReprefixPolicy(t *testing.T) {
	prior := Archive{
		"sample": {
			Name:     "train/sample",
			Gloss:    "OLD GLOSS",
			Text:     "old",
			Length:   2,
			ImgsPath: []string{"train/sample/images0001.png", "train/sample/images0002.png"},
			Extra:    map[string]any{"signer": "Signer03"},
		},
	}
	r := &Reconciler{Prior: prior, Policy: PolicyReprefix}
	out, prov, err := r.Reconcile(context.Background(), []dataset.Annotation{
		row("sample", "Signer03", "NEU GLOSS HIER", "new"),
	}, "SI_train")
	require.NoError(t, err)

	e := out["SI_train/sample"]
	assert.Equal(t, "SI_train/sample", e.Name)
	assert.Equal(t, "NEU GLOSS HIER", e.Gloss)
	assert.Equal(t, 3, e.Length)
	assert.Equal(t, []string{"SI_train/sample/images0001.png", "SI_train/sample/images0002.png"}, e.ImgsPath)
	assert.Equal(t, "Signer03", e.Extra["signer"])
	assert.True(t, prov[0].FromPrior)
	assert.Equal(t, SourcePrior, prov[0].Source)

	assert.Equal(t, "OLD GLOSS", prior["sample"].Gloss, "prior archive must not be mutated")
	assert.Equal(t, "train/sample/images0001.png", prior["sample"].ImgsPath[0])
}

func TestReconcilePriorEntryRecountPolicy(t *testing.T) {
	src := t.TempDir()
	makeFrames(t, src, "SI_dev", "sample", 4)

	prior := Archive{"train/sample": {Name: "train/sample", Gloss: "A", ImgsPath: []string{"train/sample/images0001.png"}}}
	r := &Reconciler{SourceDir: src, Prior: prior, Policy: PolicyRecount}
	out, prov, err := r.Reconcile(context.Background(), []dataset.Annotation{row("sample", "Signer09", "A B", "ab")}, "SI_dev")
	require.NoError(t, err)

	e := out["SI_dev/sample"]
	assert.Len(t, e.ImgsPath, 4)
	assert.Equal(t, "SI_dev/sample/images0004.png", e.ImgsPath[3])
	assert.True(t, prov[0].FromPrior)
	assert.Equal(t, SourceDirectory, prov[0].Source)
}

func TestReconcileRejectsRowWithoutName(t *testing.T) {
	r := &Reconciler{}
	_, _, err := r.Reconcile(context.Background(), []dataset.Annotation{{Speaker: "Signer01", SourceFile: "a.csv", Line: 2}}, "train")
	require.ErrorIs(t, err, ErrMissingName)
	assert.Contains(t, err.Error(), "a.csv:2")
}

func TestReconcileAcceptsEmptyAndUntrimmedNames(t *testing.T) {
	r := &Reconciler{FallbackFrames: 1}
	out, _, err := r.Reconcile(context.Background(), []dataset.Annotation{
		row("", "Signer01", "A", "a"),
		row(" padded ", "Signer01", "B", "b"),
	}, "train")
	require.NoError(t, err)

	require.Contains(t, out, "train/")
	assert.Equal(t, []string{"train//images0001.png"}, out["train/"].ImgsPath)
	require.Contains(t, out, "train/ padded ")
	assert.Equal(t, "train/ padded ", out["train/ padded "].Name)
}

func TestReprefixKeepsSampleDirForForeignPaths(t *testing.T) {
	prior := Archive{"sample": {
		Name:     "sample",
		ImgsPath: []string{"images0001.png", "/mnt/old/other/images0002.png"},
	}}
	r := &Reconciler{Prior: prior, Policy: PolicyReprefix}
	out, _, err := r.Reconcile(context.Background(), []dataset.Annotation{row("sample", "Signer01", "A", "a")}, "SI_train")
	require.NoError(t, err)
	assert.Equal(t, []string{"SI_train/sample/images0001.png", "SI_train/sample/images0002.png"}, out["SI_train/sample"].ImgsPath)
}

func TestReconcileWarnsOnMissingPriorEntry(t *testing.T) {
	var buf bytes.Buffer
	r := &Reconciler{
		Prior:          Archive{"known": {Name: "known", ImgsPath: []string{"known/images0001.png"}}},
		FallbackFrames: 1,
		Logger:         slog.New(slog.NewTextHandler(&buf, nil)),
	}
	_, prov, err := r.Reconcile(context.Background(), []dataset.Annotation{
		row("known", "Signer01", "A", "a"),
		row("fresh", "Signer01", "B", "b"),
	}, "SI_train")
	require.NoError(t, err)
	require.Len(t, prov, 2)
	assert.True(t, prov[0].FromPrior)
	assert.False(t, prov[1].FromPrior)

	logs := buf.String()
	assert.Equal(t, 1, strings.Count(logs, "sample not found in prior labels"), logs)
	assert.Contains(t, logs, "level=WARN")
	assert.Contains(t, logs, "key=fresh")
	assert.Contains(t, logs, "partition=SI_train")
	assert.NotContains(t, logs, "key=known")
}

func TestReconcileWithoutPriorDoesNotWarn(t *testing.T) {
	var buf bytes.Buffer
	r := &Reconciler{FallbackFrames: 1, Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	_, _, err := r.Reconcile(context.Background(), []dataset.Annotation{row("a", "Signer01", "A", "a")}, "train")
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "sample not found in prior labels")
	assert.NotContains(t, buf.String(), "level=WARN")
}

func TestReconcileWarnsOnMissingDirectory(t *testing.T) {
	src := t.TempDir()
	var buf bytes.Buffer
	r := &Reconciler{SourceDir: src, Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	_, _, err := r.Reconcile(context.Background(), []dataset.Annotation{row("ghost", "Signer02", "X", "x")}, "test")
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "level=WARN")
	assert.Contains(t, logs, "video directory not found")
	assert.Contains(t, logs, "dir="+filepath.Join(src, "test", "ghost"))
}

func TestReconcileLengthMatchesGlossTokens(t *testing.T) {
	r := &Reconciler{FallbackFrames: 1}
	out, _, err := r.Reconcile(context.Background(), []dataset.Annotation{
		row("a", "Signer01", "  ICH   WILL  NICHT ", ""),
		row("b", "Signer01", "", ""),
		row("train/c", "Signer01", "X", ""),
	}, "train")
	require.NoError(t, err)

	for key, e := range out {
		assert.Equal(t, WordCount(e.Gloss), e.Length, key)
		assert.Equal(t, 1, strings.Count(key, "train/"), key)
		assert.Equal(t, key, e.Name)
	}
	assert.Equal(t, 3, out["train/a"].Length)
	assert.Equal(t, 0, out["train/b"].Length)
	assert.Contains(t, out, "train/c")
}

func TestScanKeepsRecordsWithFrameDirectory(t *testing.T) {
	src := t.TempDir()
	makeFrames(t, src, "dev", "present", 1)

	r := &Reconciler{SourceDir: src}
	kept, err := r.Scan(context.Background(), []dataset.Annotation{
		row("present", "Signer01", "A", "a"),
		row("absent", "Signer01", "B", "b"),
	}, "dev")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "present", kept[0].Name)
}

func TestReconcileHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Reconciler{}
	_, _, err := r.Reconcile(ctx, []dataset.Annotation{row("a", "Signer01", "A", "a")}, "train")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFrameCounterVerifyContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images0001.png"), pngMagic, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images0002.png"), []byte("not an image at all"), 0o644))

	n, found, err := FrameCounter{}.Count(dir)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, n)

	n, _, err = FrameCounter{VerifyContent: true}.Count(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
