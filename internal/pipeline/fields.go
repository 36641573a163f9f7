package pipeline

import (
	"regexp"
	"strings"

	"github.com/hyperjump/docscan/internal/models"
)

// Sentinels returned when no matcher for a field hits.
const (
	DefaultDocumentType = "Documento General"
	NotDetected         = "No detectado"
	NotDetectedFeminine = "No detectada"
)

// Rule is one pattern tried for a field. When Label is set a match yields Label;
// otherwise it yields the trimmed text of capture Group (0 is the whole match).
type Rule struct {
	Pattern *regexp.Regexp
	Group   int
	Label   string
}

func (r Rule) match(text string) (string, bool) {
	m := r.Pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if r.Label != "" {
		return r.Label, true
	}
	if r.Group >= len(m) {
		return "", false
	}
	v := strings.TrimSpace(m[r.Group])
	return v, v != ""
}

// FieldRules holds the ordered matchers and the not-detected sentinel for every field.
type FieldRules struct {
	rules     map[models.Field][]Rule
	sentinels map[models.Field]string
}

// NewFieldRules returns an empty rule set; every field yields its sentinel until rules are added.
func NewFieldRules() *FieldRules {
	return &FieldRules{
		rules:     make(map[models.Field][]Rule),
		sentinels: make(map[models.Field]string),
	}
}

// Add appends rules to field f. Rules are tried in the order they were added.
func (fr *FieldRules) Add(f models.Field, rules ...Rule) *FieldRules {
	fr.rules[f] = append(fr.rules[f], rules...)
	return fr
}

// Sentinel sets the value reported for f when nothing matches.
func (fr *FieldRules) Sentinel(f models.Field, v string) *FieldRules {
	fr.sentinels[f] = v
	return fr
}

// Extract applies every field's rules to text. Fields are independent: a miss on one
// never affects another.
func (fr *FieldRules) Extract(text string) models.DocumentFields {
	var out models.DocumentFields
	for _, f := range models.TrackedFields {
		value := fr.sentinels[f]
		for _, r := range fr.rules[f] {
			if v, ok := r.match(text); ok {
				value = v
				break
			}
		}
		out.Set(f, value)
	}
	return out
}

func label(pattern, name string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Label: name}
}

func capture(pattern string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Group: 1}
}

func whole(pattern string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern)}
}

// DefaultRules returns the matchers for Mexican administrative documents: civil
// protection opinions, certificates, invoices and the like.
func DefaultRules() *FieldRules {
	const months = `enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre`

	return NewFieldRules().
		Add(models.FieldDocumentType,
			label(`(?i)dictamen.*protecci[oó]n\s+civil`, "Dictamen de Protección Civil"),
			label(`(?i)programa\s+interno`, "Programa Interno"),
			label(`(?i)constancia`, "Constancia"),
			label(`(?i)acta`, "Acta"),
			label(`(?i)contrato`, "Contrato"),
			label(`(?i)factura|comprobante\s+fiscal`, "Factura"),
			label(`(?i)certificado`, "Certificado"),
		).
		Sentinel(models.FieldDocumentType, DefaultDocumentType).
		Add(models.FieldOrganization,
			capture(`(?i)raz[oó]n\s+social[:\s]+([^\n]+)`),
			capture(`(?i)empresa[:\s]+([^\n]+)`),
			capture(`(?i)denominaci[oó]n[:\s]+([^\n]+)`),
			capture(`(?i)([A-ZÁÉÍÓÚÑ\s]+(?:S\.A\.|S\.C\.|S\. DE R\.L\.|DE C\.V\.))`),
		).
		Sentinel(models.FieldOrganization, NotDetected).
		Add(models.FieldDate,
			capture(`(?i)fecha[:\s]+(\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})`),
			whole(`(?i)\d{1,2}\s+de\s+(?:`+months+`)\s+de\s+\d{4}`),
			capture(`(\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})`),
		).
		Sentinel(models.FieldDate, NotDetectedFeminine).
		Add(models.FieldLocation,
			capture(`(?i)direcci[oó]n[:\s]+([^\n]+)`),
			capture(`(?i)domicilio[:\s]+([^\n]+)`),
			capture(`(?i)ubicaci[oó]n[:\s]+([^\n]+)`),
		).
		Sentinel(models.FieldLocation, NotDetectedFeminine).
		Add(models.FieldTaxID,
			whole(`[A-ZÑ&]{3,4}\d{6}[A-Z0-9]{3}`),
		).
		Sentinel(models.FieldTaxID, NotDetected).
		Add(models.FieldFolio,
			capture(`(?i)folio[:\s]+([A-Z0-9\-]+)`),
			capture(`(?i)n[uú]mero[:\s]+([A-Z0-9\-]+)`),
		).
		Sentinel(models.FieldFolio, NotDetected)
}
