package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tetraminz/sign_labels/internal/dataset"
	"github.com/tetraminz/sign_labels/internal/labels"
)

// PrintSummary writes the human-readable run summary: split statistics,
// entry counts and one sample entry per partition.
func PrintSummary(w io.Writer, r Result) error {
	if s := r.Split; s != nil {
		fmt.Fprintf(w, "Total samples: %d\n", s.TotalSamples)
		fmt.Fprintf(w, "Total signers: %d\n", s.TotalSigners)
		for _, p := range dataset.Partitions {
			fmt.Fprintf(w, "Samples in %s set: %d\n", p, s.Samples[p])
		}
		for _, p := range dataset.Partitions {
			fmt.Fprintf(w, "%s signers: %s\n", displayName(p), strings.Join(s.Signers[p], ", "))
		}
		for _, ex := range s.Excluded {
			fmt.Fprintf(w, "Excluded signer: %s (%d samples)\n", ex.Speaker, ex.Samples)
		}
	} else {
		fmt.Fprintf(w, "Total samples in all CSV files: %d\n", r.Annotations)
	}

	fmt.Fprintln(w, "New label files created:")
	for _, pr := range r.Partitions {
		fmt.Fprintf(w, "%s: %d samples\n", displayName(pr.Partition), len(pr.Archive))
	}

	for _, pr := range r.Partitions {
		if err := PrintSample(w, displayName(pr.Partition), pr.Archive); err != nil {
			return err
		}
	}
	return nil
}

// PrintSample prints the first entry of a (by sorted key) as indented JSON.
func PrintSample(w io.Writer, title string, a labels.Archive) error {
	if len(a) == 0 {
		fmt.Fprintf(w, "\n%s set is empty!\n", title)
		return nil
	}
	key := a.Keys()[0]
	body, err := json.MarshalIndent(map[string]any{key: a[key].Fields()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sample %q: %w", key, err)
	}
	fmt.Fprintf(w, "\n%s sample:\n%s\n", title, body)
	return nil
}

func displayName(p dataset.Partition) string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
