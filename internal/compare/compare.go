// Package compare computes structured differences and similarity scores between two
// extraction results.
package compare

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/docscan/internal/models"
)

// Weights of the two components of the overall similarity.
const (
	JaccardWeight = 0.6
	EditWeight    = 0.4
)

// Options controls text normalization before the word diff.
type Options struct {
	IgnoreCase       bool
	IgnoreWhitespace bool
	// ContextLines bounds the unchanged lines kept around line diff changes.
	ContextLines int
}

// DefaultOptions folds case, collapses whitespace and keeps three context lines.
func DefaultOptions() Options {
	return Options{IgnoreCase: true, IgnoreWhitespace: true, ContextLines: 3}
}

// DocumentInfo summarizes one side of a comparison.
type DocumentInfo struct {
	DocumentType string `json:"document_type"`
	Organization string `json:"organization"`
	Date         string `json:"date"`
	TaxID        string `json:"tax_id"`
	Folio        string `json:"folio"`
	TextLength   int    `json:"text_length"`
}

// TextComparison holds the word and line diffs of the full texts.
type TextComparison struct {
	WordDiff []Change  `json:"word_diff"`
	LineDiff []Change  `json:"line_diff"`
	Stats    DiffStats `json:"stats"`
}

// FieldComparison compares one structured field.
type FieldComparison struct {
	Field      models.Field `json:"field"`
	ValueA     string       `json:"value_a"`
	ValueB     string       `json:"value_b"`
	Changed    bool         `json:"changed"`
	Similarity float64      `json:"similarity"`
}

// Result is the full comparison of two extraction results. It is never modified after
// Compare returns it.
type Result struct {
	ComparedAt  time.Time                        `json:"compared_at"`
	DocumentA   DocumentInfo                     `json:"document_a"`
	DocumentB   DocumentInfo                     `json:"document_b"`
	Text        TextComparison                   `json:"text"`
	Fields      map[models.Field]FieldComparison `json:"fields"`
	Similarity  float64                          `json:"similarity"`
	ChangeScore float64                          `json:"change_score"`
	Summary     Summary                          `json:"summary"`
}

// Comparator compares extraction results.
type Comparator struct {
	opts Options
	now  func() time.Time
}

// New returns a Comparator with opts.
func New(opts Options) *Comparator {
	return &Comparator{opts: opts, now: time.Now}
}

// Compare diffs a against b. A nil or textless side yields similarity 0 rather than an error.
func (c *Comparator) Compare(a, b *models.ExtractionResult) *Result {
	if a == nil {
		a = &models.ExtractionResult{}
	}
	if b == nil {
		b = &models.ExtractionResult{}
	}

	wordDiff, stats := WordDiff(c.normalize(a.FullText), c.normalize(b.FullText))
	res := &Result{
		ComparedAt: c.now(),
		DocumentA:  info(a),
		DocumentB:  info(b),
		Text: TextComparison{
			WordDiff: wordDiff,
			LineDiff: LineDiff(a.FullText, b.FullText, c.opts.ContextLines),
			Stats:    stats,
		},
		Fields:      compareFields(a, b),
		Similarity:  Similarity(a.FullText, b.FullText),
		ChangeScore: ChangeScore(stats),
	}
	res.Summary = summarize(res)
	return res
}

func (c *Comparator) normalize(s string) string {
	if c.opts.IgnoreWhitespace {
		s = strings.Join(strings.Fields(s), " ")
	}
	if c.opts.IgnoreCase {
		s = strings.ToLower(s)
	}
	return s
}

// Similarity combines word-set overlap and edit closeness of two raw texts into [0,1].
// Either text empty yields 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return JaccardWeight*JaccardSimilarity(a, b) + EditWeight*EditSimilarity(a, b)
}

// ChangeScore is the share of added and removed words among all diffed words, in [0,100].
func ChangeScore(st DiffStats) float64 {
	if st.Total == 0 {
		return 0
	}
	return math.Min(100, 100*float64(st.Added+st.Removed)/float64(st.Total))
}

func compareFields(a, b *models.ExtractionResult) map[models.Field]FieldComparison {
	out := make(map[models.Field]FieldComparison, len(models.TrackedFields))
	for _, f := range models.TrackedFields {
		va, vb := a.Field(f), b.Field(f)
		out[f] = FieldComparison{
			Field:      f,
			ValueA:     va,
			ValueB:     vb,
			Changed:    va != vb,
			Similarity: EditSimilarity(strings.ToLower(va), strings.ToLower(vb)),
		}
	}
	return out
}

func info(r *models.ExtractionResult) DocumentInfo {
	return DocumentInfo{
		DocumentType: r.Fields.DocumentType,
		Organization: r.Fields.Organization,
		Date:         r.Fields.Date,
		TaxID:        r.Fields.TaxID,
		Folio:        r.Fields.Folio,
		TextLength:   utf8.RuneCountInString(r.FullText),
	}
}
