package labels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/tetraminz/sign_labels/internal/dataset"
)

// DefaultFallbackFrames is the placeholder frame count used when neither a
// prior entry nor a frame directory is available. It is not a measured value.
const DefaultFallbackFrames = 200

// ErrMissingName is returned for rows without a name column. An empty
// name is a valid key.
var ErrMissingName = errors.New("annotation has no name")

// FramePolicy selects how imgs_path is rebuilt for entries found in the prior archive.
type FramePolicy string

const (
	// PolicyRecount counts frames on disk; the directory is authoritative.
	PolicyRecount FramePolicy = "recount"
	// PolicyReprefix keeps the prior frame list and re-roots it under the new name.
	PolicyReprefix FramePolicy = "reprefix"
)

// ParseFramePolicy validates a policy name.
func ParseFramePolicy(s string) (FramePolicy, error) {
	switch p := FramePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyRecount, PolicyReprefix:
		return p, nil
	case "":
		return PolicyRecount, nil
	default:
		return "", fmt.Errorf("unknown frame policy %q", s)
	}
}

// FrameSource records where an entry's imgs_path came from.
type FrameSource string

const (
	SourcePrior            FrameSource = "prior"
	SourceDirectory        FrameSource = "directory"
	SourceMissingDirectory FrameSource = "missing_directory"
	SourceFallback         FrameSource = "fallback"
)

// Provenance describes how one output entry was produced.
type Provenance struct {
	Key       string
	Speaker   string
	FromPrior bool
	Source    FrameSource
}

// Reconciler builds one partition's archive from annotation rows.
type Reconciler struct {
	// SourceDir is the root of <tag>/<name>/*.png. Empty means no frames on disk.
	SourceDir string
	// Prior is the baseline archive. Nil disables prior lookups.
	Prior          Archive
	Policy         FramePolicy
	FallbackFrames int
	Counter        FrameCounter
	Logger         *slog.Logger

	index map[string]Entry
}

// Reconcile produces the archive for records under partition tag. Output
// keys are the prefixed names.
func (r *Reconciler) Reconcile(ctx context.Context, records []dataset.Annotation, tag string) (Archive, []Provenance, error) {
	out := make(Archive, len(records))
	prov := make([]Provenance, 0, len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !rec.HasName {
			return nil, nil, fmt.Errorf("%s:%d: %w", rec.SourceFile, rec.Line, ErrMissingName)
		}

		bare := strings.TrimPrefix(rec.Name, tag+"/")
		prefixed := EnsurePrefix(rec.Name, tag)

		var (
			entry  Entry
			source FrameSource
			err    error
		)
		prior, found := r.lookup(bare)
		if found {
			entry, source, err = r.fromPrior(prior, rec, bare, prefixed, tag)
		} else {
			if r.Prior != nil {
				r.logger().Warn("sample not found in prior labels, using defaults", "key", bare, "partition", tag)
			}
			entry, source, err = r.fresh(rec, bare, prefixed, tag)
		}
		if err != nil {
			return nil, nil, err
		}

		out[prefixed] = entry
		prov = append(prov, Provenance{Key: prefixed, Speaker: rec.Speaker, FromPrior: found, Source: source})
	}
	return out, prov, nil
}

// Scan keeps the records whose frame directory exists under tag.
func (r *Reconciler) Scan(ctx context.Context, records []dataset.Annotation, tag string) ([]dataset.Annotation, error) {
	var kept []dataset.Annotation
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !rec.HasName {
			return nil, fmt.Errorf("%s:%d: %w", rec.SourceFile, rec.Line, ErrMissingName)
		}
		ok, err := r.Counter.Exists(r.frameDir(tag, strings.TrimPrefix(rec.Name, tag+"/")))
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, rec)
		}
	}
	return kept, nil
}

func (r *Reconciler) fromPrior(prior Entry, rec dataset.Annotation, bare, prefixed, tag string) (Entry, FrameSource, error) {
	o := Overrides{Name: prefixed, Gloss: rec.Orth, Text: rec.Translation}

	if r.policy() == PolicyReprefix {
		o.ImgsPath = make([]string, 0, len(prior.ImgsPath))
		for _, p := range prior.ImgsPath {
			o.ImgsPath = append(o.ImgsPath, reroot(p, bare, prefixed))
		}
		return prior.With(o), SourcePrior, nil
	}

	frames, source, err := r.countFrames(bare, prefixed, tag)
	if err != nil {
		return Entry{}, "", err
	}
	o.ImgsPath = frames
	return prior.With(o), source, nil
}

func (r *Reconciler) fresh(rec dataset.Annotation, bare, prefixed, tag string) (Entry, FrameSource, error) {
	o := Overrides{Name: prefixed, Gloss: rec.Orth, Text: rec.Translation}
	if r.SourceDir == "" {
		o.ImgsPath = FrameNames(prefixed, r.fallbackFrames())
		return NewEntry(o), SourceFallback, nil
	}

	frames, source, err := r.countFrames(bare, prefixed, tag)
	if err != nil {
		return Entry{}, "", err
	}
	o.ImgsPath = frames
	return NewEntry(o), source, nil
}

func (r *Reconciler) countFrames(bare, prefixed, tag string) ([]string, FrameSource, error) {
	dir := r.frameDir(tag, bare)
	n, found, err := r.Counter.Count(dir)
	if err != nil {
		return nil, "", err
	}
	if !found {
		r.logger().Warn("video directory not found", "dir", dir)
		return []string{}, SourceMissingDirectory, nil
	}
	return FrameNames(prefixed, n), SourceDirectory, nil
}

func (r *Reconciler) frameDir(tag, bare string) string {
	return filepath.Join(r.SourceDir, tag, bare)
}

// policy falls back to PolicyReprefix when there is no directory to count.
func (r *Reconciler) policy() FramePolicy {
	if r.SourceDir == "" {
		return PolicyReprefix
	}
	if r.Policy == "" {
		return PolicyRecount
	}
	return r.Policy
}

func (r *Reconciler) fallbackFrames() int {
	if r.FallbackFrames > 0 {
		return r.FallbackFrames
	}
	return DefaultFallbackFrames
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// lookup finds a prior entry by bare sample name. Prior archives keyed by
// bare name win over ones keyed with any partition prefix.
func (r *Reconciler) lookup(bare string) (Entry, bool) {
	if r.Prior == nil {
		return Entry{}, false
	}
	if r.index == nil {
		r.index = make(map[string]Entry, len(r.Prior))
		for _, k := range r.Prior.Keys() {
			if !strings.Contains(k, "/") {
				r.index[k] = r.Prior[k]
			}
		}
		for _, k := range r.Prior.Keys() {
			b := BareName(k)
			if _, ok := r.index[b]; !ok {
				r.index[b] = r.Prior[k]
			}
		}
	}
	e, ok := r.index[bare]
	return e, ok
}

// reroot moves a stored frame path under the new prefixed sample name.
func reroot(p, bare, prefixed string) string {
	if rest, ok := strings.CutPrefix(p, bare+"/"); ok {
		return prefixed + "/" + rest
	}
	if i := strings.Index(p, "/"+bare+"/"); i >= 0 {
		return prefixed + p[i+len(bare)+1:]
	}
	return prefixed + "/" + path.Base(p)
}
