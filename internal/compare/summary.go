package compare

import "github.com/hyperjump/docscan/internal/models"

// Overall status labels, from most to least similar.
const (
	StatusNearIdentical = "near-identical"
	StatusVerySimilar   = "very similar, minor changes"
	StatusSimilar       = "similar, significant changes"
	StatusDifferent     = "substantially different"
)

// SignificantFieldThreshold is the field similarity below which a change is significant.
const SignificantFieldThreshold = 0.5

// ManualReviewChangeScore is the change score above which a manual review is recommended.
const ManualReviewChangeScore = 50

// Recommendations attached to a summary.
const (
	RecommendManualReview   = "Substantial text changes detected; review the documents manually."
	RecommendVerifyIdentity = "Organization name changed; verify the identity of the issuing party."
)

var fieldLabels = map[models.Field]string{
	models.FieldDocumentType: "Document type",
	models.FieldOrganization: "Organization",
	models.FieldDate:         "Date",
	models.FieldLocation:     "Location",
	models.FieldTaxID:        "Tax ID",
	models.FieldFolio:        "Folio",
}

// FieldChange describes one changed field in a summary.
type FieldChange struct {
	Field      models.Field `json:"field"`
	Label      string       `json:"label"`
	OldValue   string       `json:"old_value"`
	NewValue   string       `json:"new_value"`
	Similarity float64      `json:"similarity"`
}

// Summary is the human-readable reading of a comparison.
type Summary struct {
	Status          string        `json:"status"`
	Significant     []FieldChange `json:"significant_changes"`
	Minor           []FieldChange `json:"minor_changes"`
	Recommendations []string      `json:"recommendations"`
}

// StatusFor classifies an overall similarity.
func StatusFor(similarity float64) string {
	switch {
	case similarity > 0.95:
		return StatusNearIdentical
	case similarity > 0.8:
		return StatusVerySimilar
	case similarity > 0.6:
		return StatusSimilar
	}
	return StatusDifferent
}

func summarize(r *Result) Summary {
	s := Summary{
		Status:          StatusFor(r.Similarity),
		Significant:     []FieldChange{},
		Minor:           []FieldChange{},
		Recommendations: []string{},
	}
	for _, f := range models.TrackedFields {
		fc := r.Fields[f]
		if !fc.Changed {
			continue
		}
		change := FieldChange{
			Field:      f,
			Label:      fieldLabels[f],
			OldValue:   fc.ValueA,
			NewValue:   fc.ValueB,
			Similarity: fc.Similarity,
		}
		if fc.Similarity < SignificantFieldThreshold {
			s.Significant = append(s.Significant, change)
		} else {
			s.Minor = append(s.Minor, change)
		}
	}
	if r.ChangeScore > ManualReviewChangeScore {
		s.Recommendations = append(s.Recommendations, RecommendManualReview)
	}
	if r.Fields[models.FieldOrganization].Changed {
		s.Recommendations = append(s.Recommendations, RecommendVerifyIdentity)
	}
	return s
}
