package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SignerPrefix precedes the signer number in the speaker column.
const SignerPrefix = "Signer"

// ErrUnknownSigner is returned for speaker values that do not carry a signer number.
var ErrUnknownSigner = errors.New("unknown signer identifier")

// Partition names a dataset split.
type Partition string

const (
	Train Partition = "train"
	Dev   Partition = "dev"
	Test  Partition = "test"
)

// Partitions lists the splits in output order.
var Partitions = []Partition{Train, Dev, Test}

// Split is the result of assigning signers to partitions.
type Split struct {
	Records  map[Partition][]Annotation
	Signers  map[Partition][]string
	Excluded []ExcludedSigner
	Total    int
	Speakers int
}

// ExcludedSigner is a speaker whose number maps to no partition.
type ExcludedSigner struct {
	Speaker string
	Number  int
	Samples int
}

// SplitSummary is the human-facing digest of a Split.
type SplitSummary struct {
	TotalSamples int
	TotalSigners int
	Samples      map[Partition]int
	Signers      map[Partition][]string
	Excluded     []ExcludedSigner
}

// GroupBySpeaker groups records by speaker. Speakers are returned in
// first-seen order; records keep their input order within a group.
func GroupBySpeaker(records []Annotation) ([]string, map[string][]Annotation) {
	groups := make(map[string][]Annotation)
	var order []string
	for _, rec := range records {
		if _, seen := groups[rec.Speaker]; !seen {
			order = append(order, rec.Speaker)
		}
		groups[rec.Speaker] = append(groups[rec.Speaker], rec)
	}
	return order, groups
}

// SignerNumber extracts N from "SignerN".
func SignerNumber(speaker string) (int, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(speaker), SignerPrefix)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSigner, speaker)
	}
	return n, nil
}

// PartitionForSigner applies the signer-independent rule: signers 1-7 train,
// 8 test, 9 dev. Any other number belongs to no partition.
func PartitionForSigner(n int) (Partition, bool) {
	switch {
	case n >= 1 && n <= 7:
		return Train, true
	case n == 8:
		return Test, true
	case n == 9:
		return Dev, true
	default:
		return "", false
	}
}

// SplitBySigner regroups records by speaker and assigns every group to
// exactly one partition. Groups whose signer number has no partition are
// reported in Split.Excluded rather than silently lost.
func SplitBySigner(records []Annotation) (Split, error) {
	order, groups := GroupBySpeaker(records)

	split := Split{
		Records:  make(map[Partition][]Annotation, len(Partitions)),
		Signers:  make(map[Partition][]string, len(Partitions)),
		Total:    len(records),
		Speakers: len(order),
	}
	for _, speaker := range order {
		n, err := SignerNumber(speaker)
		if err != nil {
			return Split{}, err
		}
		group := groups[speaker]
		p, ok := PartitionForSigner(n)
		if !ok {
			split.Excluded = append(split.Excluded, ExcludedSigner{Speaker: speaker, Number: n, Samples: len(group)})
			continue
		}
		split.Records[p] = append(split.Records[p], group...)
		split.Signers[p] = append(split.Signers[p], speaker)
	}
	return split, nil
}

// Summary returns per-partition counts and sorted signer sets.
func (s Split) Summary() SplitSummary {
	sum := SplitSummary{
		TotalSamples: s.Total,
		TotalSigners: s.Speakers,
		Samples:      make(map[Partition]int, len(Partitions)),
		Signers:      make(map[Partition][]string, len(Partitions)),
		Excluded:     append([]ExcludedSigner(nil), s.Excluded...),
	}
	for _, p := range Partitions {
		sum.Samples[p] = len(s.Records[p])
		signers := append([]string(nil), s.Signers[p]...)
		sort.Strings(signers)
		sum.Signers[p] = signers
	}
	return sum
}
