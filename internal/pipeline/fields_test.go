package pipeline

import (
	"testing"

	"github.com/hyperjump/docscan/internal/models"
)

const dictamenText = `GOBIERNO DEL ESTADO
DICTAMEN DE PROTECCIÓN CIVIL
Razón Social: Servicios Integrales del Norte S.A. de C.V.
Fecha: 15/03/2024
Domicilio: Av. Juárez 100, Monterrey
RFC SIN850101AB1
Folio: DPC-2024-001`

func TestDefaultRules_Extract(t *testing.T) {
	got := DefaultRules().Extract(dictamenText)
	want := models.DocumentFields{
		DocumentType: "Dictamen de Protección Civil",
		Organization: "Servicios Integrales del Norte S.A. de C.V.",
		Date:         "15/03/2024",
		Location:     "Av. Juárez 100, Monterrey",
		TaxID:        "SIN850101AB1",
		Folio:        "DPC-2024-001",
	}
	if got != want {
		t.Errorf("Extract:\n got %+v\nwant %+v", got, want)
	}
}

func TestDefaultRules_Sentinels(t *testing.T) {
	got := DefaultRules().Extract("nothing useful here")
	want := models.DocumentFields{
		DocumentType: DefaultDocumentType,
		Organization: NotDetected,
		Date:         NotDetectedFeminine,
		Location:     NotDetectedFeminine,
		TaxID:        NotDetected,
		Folio:        NotDetected,
	}
	if got != want {
		t.Errorf("Extract:\n got %+v\nwant %+v", got, want)
	}
}

func TestDefaultRules_FirstMatchWins(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field models.Field
		want  string
	}{
		{"type order beats text order", "ACTA de entrega\nCONSTANCIA de cumplimiento", models.FieldDocumentType, "Constancia"},
		{"invoice synonym", "Comprobante Fiscal Digital", models.FieldDocumentType, "Factura"},
		{"razon social before empresa", "Empresa: Otra\nRazón social: Principal SA", models.FieldOrganization, "Principal SA"},
		{"corporate suffix", "emitido a CONSTRUCTORA DEL VALLE S.A.", models.FieldOrganization, "emitido a CONSTRUCTORA DEL VALLE S.A."},
		{"long form date", "Monterrey, N.L., a 3 de marzo de 2024", models.FieldDate, "3 de marzo de 2024"},
		{"labelled date before bare date", "vigente 01/01/2020\nFecha: 02-02-2024", models.FieldDate, "02-02-2024"},
		{"bare date", "vigente 01/01/2020", models.FieldDate, "01/01/2020"},
		{"direccion", "Dirección: Calle 5 #20\nDomicilio: otro", models.FieldLocation, "Calle 5 #20"},
		{"ubicacion", "Ubicación: Parque Industrial", models.FieldLocation, "Parque Industrial"},
		{"tax id is case sensitive", "rfc abc850101xyz", models.FieldTaxID, NotDetected},
		{"four letter tax id", "RFC: GOMA800101H12", models.FieldTaxID, "GOMA800101H12"},
		{"numero as folio", "Número: 12345-B", models.FieldFolio, "12345-B"},
	}
	rules := DefaultRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.Extract(tt.text).Get(tt.field)
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestFieldRules_Independent(t *testing.T) {
	// Only folio present: other fields fall back without blocking it.
	got := DefaultRules().Extract("Folio: X-1")
	if got.Folio != "X-1" {
		t.Errorf("folio = %q", got.Folio)
	}
	if got.Organization != NotDetected || got.DocumentType != DefaultDocumentType {
		t.Errorf("other fields should be sentinels: %+v", got)
	}
}
