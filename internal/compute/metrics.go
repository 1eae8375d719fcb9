package compute

import (
	"github.com/tetraminz/sign_labels/internal/labels"
)

// Metrics are deterministic values computed directly from an archive.
type Metrics struct {
	Entries           int     `json:"entries"`
	TotalFrames       int     `json:"total_frames"`
	MinFrames         int     `json:"min_frames"`
	MaxFrames         int     `json:"max_frames"`
	AvgFrames         float64 `json:"avg_frames"`
	AvgGlossLength    float64 `json:"avg_gloss_length"`
	ZeroFrameEntries  int     `json:"zero_frame_entries"`
	LengthMismatches  int     `json:"length_mismatches"`
	UnprefixedEntries int     `json:"unprefixed_entries"`
	EntriesWithExtras int     `json:"entries_with_extras"`
}

// ComputeMetrics derives deterministic metrics from one partition archive.
// tag is the partition prefix every key is expected to carry.
func ComputeMetrics(a labels.Archive, tag string) Metrics {
	var m Metrics
	m.Entries = len(a)
	if m.Entries == 0 {
		return m
	}

	glossTokens := 0
	first := true
	for key, e := range a {
		frames := len(e.ImgsPath)
		m.TotalFrames += frames
		if first || frames < m.MinFrames {
			m.MinFrames = frames
		}
		if frames > m.MaxFrames {
			m.MaxFrames = frames
		}
		first = false

		if frames == 0 {
			m.ZeroFrameEntries++
		}
		if e.Length != labels.WordCount(e.Gloss) {
			m.LengthMismatches++
		}
		if tag != "" && labels.EnsurePrefix(key, tag) != key {
			m.UnprefixedEntries++
		}
		if len(e.Extra) > 0 {
			m.EntriesWithExtras++
		}
		glossTokens += e.Length
	}

	m.AvgFrames = float64(m.TotalFrames) / float64(m.Entries)
	m.AvgGlossLength = float64(glossTokens) / float64(m.Entries)
	return m
}
