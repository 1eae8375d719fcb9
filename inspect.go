package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tetraminz/sign_labels/internal/archive"
	"github.com/tetraminz/sign_labels/internal/compute"
	"github.com/tetraminz/sign_labels/internal/labels"
)

// InspectArchive prints archive metrics followed by entries as JSON. With a
// key only that entry is printed; a bare sample name matches a prefixed key.
func InspectArchive(w io.Writer, path, key string, limit int) error {
	a, format, err := archive.Read(path)
	if err != nil {
		return err
	}
	tag := commonTag(a)
	m := compute.ComputeMetrics(a, tag)

	fmt.Fprintf(w, "path=%s\n", path)
	fmt.Fprintf(w, "format=%s\n", format)
	fmt.Fprintf(w, "tag=%s\n", tag)
	fmt.Fprintf(w, "entries=%s\n", humanize.Comma(int64(m.Entries)))
	fmt.Fprintf(w, "total_frames=%s\n", humanize.Comma(int64(m.TotalFrames)))
	fmt.Fprintf(w, "frames_min=%d frames_max=%d frames_avg=%.2f\n", m.MinFrames, m.MaxFrames, m.AvgFrames)
	fmt.Fprintf(w, "avg_gloss_length=%.2f\n", m.AvgGlossLength)
	fmt.Fprintf(w, "zero_frame_entries=%d\n", m.ZeroFrameEntries)
	fmt.Fprintf(w, "length_mismatches=%d\n", m.LengthMismatches)
	fmt.Fprintf(w, "entries_with_extras=%d\n", m.EntriesWithExtras)

	var keys []string
	if key = strings.TrimSpace(key); key != "" {
		found, ok := findKey(a, key)
		if !ok {
			return fmt.Errorf("key %q not found in %s", key, path)
		}
		keys = []string{found}
	} else {
		keys = a.Keys()
		if limit >= 0 && len(keys) > limit {
			keys = keys[:limit]
		}
	}

	for _, k := range keys {
		body, err := json.MarshalIndent(map[string]any{k: a[k].Fields()}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal entry %q: %w", k, err)
		}
		fmt.Fprintf(w, "%s\n", body)
	}
	return nil
}

func findKey(a labels.Archive, key string) (string, bool) {
	if _, ok := a[key]; ok {
		return key, true
	}
	for _, k := range a.Keys() {
		if labels.BareName(k) == key {
			return k, true
		}
	}
	return "", false
}
