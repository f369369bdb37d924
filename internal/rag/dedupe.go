package rag

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// termSet is the set of distinct lowercase terms of a passage.
type termSet map[string]struct{}

// terms splits text on anything that is not a letter or digit, so
// "CVE-2021-44228" yields cve, 2021 and 44228. Single-rune terms carry no
// signal and are skipped.
func terms(text string) termSet {
	set := termSet{}
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(f) > 1 {
			set[f] = struct{}{}
		}
	}
	return set
}

// overlap is the Jaccard index of two term sets. Two empty passages are
// identical; an empty and a non-empty one share nothing.
func overlap(a, b termSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		if len(a) == len(b) {
			return 1
		}
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// outranks reports whether p should survive over q when both say the same
// thing: higher similarity first, then the earlier retrieval rank.
func outranks(p, q ScoredPassage) bool {
	if p.Similarity != q.Similarity {
		return p.Similarity > q.Similarity
	}
	return p.RetrievalRank < q.RetrievalRank
}

// dedupe collapses candidates whose term overlap reaches threshold into the
// one that outranks the others. The same text indexed under two sources counts
// as one passage. Survivors keep their relative order; dropped holds the IDs
// that were removed.
func dedupe(candidates []ScoredPassage, threshold float64) (kept []ScoredPassage, dropped []string) {
	if len(candidates) < 2 {
		return candidates, nil
	}

	sets := make([]termSet, len(candidates))
	for i, c := range candidates {
		sets[i] = terms(c.Content)
	}

	// survivors holds indices into candidates.
	survivors := make([]int, 0, len(candidates))
next:
	for i, c := range candidates {
		for k, j := range survivors {
			if overlap(sets[i], sets[j]) < threshold {
				continue
			}
			if outranks(c, candidates[j]) {
				dropped = append(dropped, candidates[j].ID)
				survivors[k] = i
			} else {
				dropped = append(dropped, c.ID)
			}
			continue next
		}
		survivors = append(survivors, i)
	}

	slices.Sort(survivors)
	kept = make([]ScoredPassage, len(survivors))
	for k, i := range survivors {
		kept[k] = candidates[i]
	}
	return kept, dropped
}
