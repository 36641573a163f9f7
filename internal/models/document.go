// Package models defines core data structures for extraction results, page images, and history records.
package models

import "time"

// Field names one tracked field of an extraction result.
type Field string

const (
	FieldDocumentType Field = "document_type"
	FieldOrganization Field = "organization"
	FieldDate         Field = "date"
	FieldLocation     Field = "location"
	FieldTaxID        Field = "tax_id"
	FieldFolio        Field = "folio"
)

// TrackedFields lists the structured fields in the order they are extracted and compared.
var TrackedFields = []Field{
	FieldDocumentType,
	FieldOrganization,
	FieldDate,
	FieldLocation,
	FieldTaxID,
	FieldFolio,
}

// Method records how a result's text was obtained.
type Method string

const (
	MethodDocumentOCR Method = "document-ocr"
	MethodImageOCR    Method = "image-ocr"
	MethodNativeText  Method = "native-text"
)

// DocumentFields holds the structured fields pulled out of recognized text.
type DocumentFields struct {
	DocumentType string `json:"document_type"`
	Organization string `json:"organization"`
	Date         string `json:"date"`
	Location     string `json:"location"`
	TaxID        string `json:"tax_id"`
	Folio        string `json:"folio"`
}

// Get returns the value of field f, or "" for an unknown field.
func (d DocumentFields) Get(f Field) string {
	switch f {
	case FieldDocumentType:
		return d.DocumentType
	case FieldOrganization:
		return d.Organization
	case FieldDate:
		return d.Date
	case FieldLocation:
		return d.Location
	case FieldTaxID:
		return d.TaxID
	case FieldFolio:
		return d.Folio
	}
	return ""
}

// Set assigns v to field f. Unknown fields are ignored.
func (d *DocumentFields) Set(f Field, v string) {
	switch f {
	case FieldDocumentType:
		d.DocumentType = v
	case FieldOrganization:
		d.Organization = v
	case FieldDate:
		d.Date = v
	case FieldLocation:
		d.Location = v
	case FieldTaxID:
		d.TaxID = v
	case FieldFolio:
		d.Folio = v
	}
}

// ExtractionResult is the output of one pipeline run.
type ExtractionResult struct {
	Fields      DocumentFields `json:"fields"`
	FullText    string         `json:"full_text"`
	Confidence  float64        `json:"confidence"`
	Pages       int            `json:"pages"`
	Method      Method         `json:"method"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Field returns the value of one tracked field.
func (r *ExtractionResult) Field(f Field) string {
	if r == nil {
		return ""
	}
	return r.Fields.Get(f)
}

// PageImage is one rendered page handed to recognition. When HasTextLayer is set the
// page came with embedded text and Data may be empty.
type PageImage struct {
	Number       int    `json:"number"`
	Data         []byte `json:"-"`
	Format       string `json:"format"`
	Text         string `json:"text,omitempty"`
	HasTextLayer bool   `json:"has_text_layer"`
}

// Stage names a pipeline stage reported through progress callbacks.
type Stage string

const (
	StageRasterize Stage = "rasterize"
	StageRecognize Stage = "recognize"
	StageExtract   Stage = "extract"
	StageComplete  Stage = "complete"
)

// ProgressUpdate is reported by the pipeline as it moves through its stages.
// Page and TotalPages are set only during recognition.
type ProgressUpdate struct {
	Stage      Stage   `json:"stage"`
	Progress   float64 `json:"progress"`
	Page       int     `json:"page,omitempty"`
	TotalPages int     `json:"total_pages,omitempty"`
}

// ProgressFunc receives progress updates. It may be nil.
type ProgressFunc func(ProgressUpdate)
