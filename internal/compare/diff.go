package compare

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeType labels one run of a diff.
type ChangeType string

const (
	Added     ChangeType = "added"
	Removed   ChangeType = "removed"
	Unchanged ChangeType = "unchanged"
)

// Change is one run of consecutive tokens (words or lines) sharing a ChangeType.
// Skipped counts unchanged lines elided from the middle of a long run.
type Change struct {
	Type    ChangeType `json:"type"`
	Value   string     `json:"value"`
	Count   int        `json:"count"`
	Skipped int        `json:"skipped,omitempty"`
}

// DiffStats totals a word diff.
type DiffStats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
	Total     int `json:"total"`
}

// diffTokens diffs two token sequences. Each distinct token is mapped to one rune so the
// character-level differ in diffmatchpatch works on whole tokens.
func diffTokens(a, b []string, sep string) []Change {
	codes := make(map[string]rune)
	var vocab []string
	next := rune(1)
	encode := func(tokens []string) []rune {
		out := make([]rune, len(tokens))
		for i, tok := range tokens {
			r, ok := codes[tok]
			if !ok {
				r = next
				codes[tok] = r
				vocab = append(vocab, tok)
				next++
				// Surrogate halves do not survive a string round trip.
				if next == 0xD800 {
					next = 0xE000
				}
			}
			out[i] = r
		}
		return out
	}
	decode := func(r rune) string {
		if r >= 0xE000 {
			return vocab[r-1-(0xE000-0xD800)]
		}
		return vocab[r-1]
	}

	ra, rb := encode(a), encode(b)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(ra, rb, false)

	changes := make([]Change, 0, len(diffs))
	for _, d := range diffs {
		runes := []rune(d.Text)
		if len(runes) == 0 {
			continue
		}
		tokens := make([]string, len(runes))
		for i, r := range runes {
			tokens[i] = decode(r)
		}
		changes = append(changes, Change{
			Type:  changeType(d.Type),
			Value: strings.Join(tokens, sep),
			Count: len(tokens),
		})
	}
	return changes
}

func changeType(op diffmatchpatch.Operation) ChangeType {
	switch op {
	case diffmatchpatch.DiffInsert:
		return Added
	case diffmatchpatch.DiffDelete:
		return Removed
	}
	return Unchanged
}

// WordDiff diffs a and b word by word.
func WordDiff(a, b string) ([]Change, DiffStats) {
	changes := diffTokens(strings.Fields(a), strings.Fields(b), " ")
	var st DiffStats
	for _, c := range changes {
		switch c.Type {
		case Added:
			st.Added += c.Count
		case Removed:
			st.Removed += c.Count
		default:
			st.Unchanged += c.Count
		}
	}
	st.Total = st.Added + st.Removed + st.Unchanged
	return changes, st
}

// LineDiff diffs a and b line by line. Unchanged runs longer than 2*context lines keep
// context lines on each side; context <= 0 keeps everything.
func LineDiff(a, b string, context int) []Change {
	changes := diffTokens(splitLines(a), splitLines(b), "\n")
	if context <= 0 {
		return changes
	}
	for i, c := range changes {
		if c.Type != Unchanged || c.Count <= 2*context {
			continue
		}
		lines := strings.Split(c.Value, "\n")
		head := lines[:context]
		tail := lines[len(lines)-context:]
		// The first and last runs only need context toward their neighbour.
		switch {
		case i == 0:
			head = nil
		case i == len(changes)-1:
			tail = nil
		}
		kept := append(append([]string{}, head...), tail...)
		changes[i].Skipped = c.Count - len(kept)
		changes[i].Value = strings.Join(kept, "\n")
	}
	return changes
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
