package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/docscan/internal/keyword"
	"github.com/hyperjump/docscan/internal/models"
	"github.com/hyperjump/docscan/internal/storage"
)

func openTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	indexPath := filepath.Join(dir, "history.bleve")
	s, err := Open(context.Background(), dbPath, indexPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, dbPath, indexPath
}

func result(docType, org, text string, confidence float64) *models.ExtractionResult {
	return &models.ExtractionResult{
		Fields: models.DocumentFields{
			DocumentType: docType,
			Organization: org,
			Date:         "01/02/2024",
			Location:     "Cusco",
			TaxID:        "20600000001",
			Folio:        "17",
		},
		FullText:   text,
		Confidence: confidence,
		Method:     models.MethodDocumentOCR,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s, _, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	id, err := s.Save(ctx, "/inbox/acta.pdf", result("Acta", "Municipalidad", "acta de entrega", 0.85),
		models.SaveMetadata{FileSize: 2048, Duration: 3 * time.Second, Tags: []string{"a"}, Notes: "revisar"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.FileName != "acta.pdf" || rec.FileSize != 2048 || rec.Duration != 3*time.Second {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Notes != "revisar" || rec.Fields.Organization != "Municipalidad" {
		t.Errorf("fields not persisted: %+v", rec)
	}
	if rec.ProcessedAt.IsZero() {
		t.Error("ProcessedAt not defaulted")
	}

	if _, err := s.Get(ctx, id+1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveRejectsDuplicatePathAndTimestamp(t *testing.T) {
	s, _, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	meta := models.SaveMetadata{ProcessedAt: at}

	if _, err := s.Save(ctx, "/inbox/a.pdf", result("Acta", "X", "uno", 0.9), meta); err != nil {
		t.Fatal(err)
	}
	_, err := s.Save(ctx, "/inbox/a.pdf", result("Acta", "X", "uno", 0.9), meta)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("duplicate save err = %v, want ErrPersistence", err)
	}

	count, err := s.index.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("index DocCount = %d after rejected duplicate, want 1", count)
	}
}

func TestStore_SaveNilResult(t *testing.T) {
	s, _, _ := openTestStore(t)
	defer s.Close()
	if _, err := s.Save(context.Background(), "/a.pdf", nil, models.SaveMetadata{}); !errors.Is(err, ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestStore_SearchAndRecent(t *testing.T) {
	s, _, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	inputs := []struct {
		path string
		res  *models.ExtractionResult
	}{
		{"/inbox/acta-1.pdf", result("Acta", "Municipalidad de Lima", "acta de entrega de terreno", 0.9)},
		{"/inbox/factura-1.png", result("Factura", "Comercial Andina", "factura de terreno", 0.7)},
		{"/inbox/acta-2.pdf", result("Acta", "Gobierno Regional", "acta de conformidad", 0.8)},
	}
	var ids []int64
	for i, in := range inputs {
		id, err := s.Save(ctx, in.path, in.res, models.SaveMetadata{ProcessedAt: base.AddDate(0, 0, i)})
		if err != nil {
			t.Fatalf("Save(%s): %v", in.path, err)
		}
		ids = append(ids, id)
	}

	tests := []struct {
		name   string
		query  string
		filter models.HistoryFilter
		want   []int64
	}{
		{"no query", "", models.HistoryFilter{}, []int64{ids[2], ids[1], ids[0]}},
		{"full text", "terreno", models.HistoryFilter{}, []int64{ids[1], ids[0]}},
		{"organization", "andina", models.HistoryFilter{}, []int64{ids[1]}},
		{"file name", "acta", models.HistoryFilter{}, []int64{ids[2], ids[0]}},
		{"query and type", "terreno", models.HistoryFilter{DocumentType: "Acta"}, []int64{ids[0]}},
		{"date range", "", models.HistoryFilter{From: base.AddDate(0, 0, 1), To: base.AddDate(0, 0, 1)}, []int64{ids[1]}},
		{"limit", "acta", models.HistoryFilter{Limit: 1}, []int64{ids[2]}},
		{"no match", "inexistente", models.HistoryFilter{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.query, tt.filter)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("record %d: id %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}

	recent, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != ids[2] {
		t.Errorf("Recent(1) = %v, want newest record", recent)
	}

	if _, err := s.Search(ctx, "", models.HistoryFilter{Limit: -1}); !errors.Is(err, ErrPersistence) {
		t.Errorf("negative limit err = %v, want ErrPersistence", err)
	}
}

func TestStore_Summary(t *testing.T) {
	s, _, _ := openTestStore(t)
	defer s.Close()
	ctx := context.Background()
	base := time.Now()

	for i, r := range []*models.ExtractionResult{
		result("Acta", "A", "uno", 0.9),
		result("Acta", "B", "dos", 0.7),
		result("Oficio", "C", "tres", 0.8),
	} {
		if _, err := s.Save(ctx, "/inbox/doc.pdf", r, models.SaveMetadata{ProcessedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalDocuments != 3 {
		t.Errorf("TotalDocuments = %d, want 3", sum.TotalDocuments)
	}
	if sum.AverageConfidence < 0.799 || sum.AverageConfidence > 0.801 {
		t.Errorf("AverageConfidence = %v, want 0.8", sum.AverageConfidence)
	}
	want := []models.TypeCount{{DocumentType: "Acta", Count: 2}, {DocumentType: "Oficio", Count: 1}}
	if len(sum.TypeDistribution) != len(want) {
		t.Fatalf("TypeDistribution = %+v", sum.TypeDistribution)
	}
	for i := range want {
		if sum.TypeDistribution[i] != want[i] {
			t.Errorf("bucket %d = %+v, want %+v", i, sum.TypeDistribution[i], want[i])
		}
	}
}

// baseIndex names the embedded keyword.Index so it does not collide with
// failingIndex's Index method.
type baseIndex = keyword.Index

// failingIndex fails every Index call and delegates the rest.
type failingIndex struct {
	baseIndex
}

func (f failingIndex) Index(ctx context.Context, id int64, doc keyword.Document) error {
	return errors.New("disk full")
}

func TestStore_SaveRollsBackWhenIndexingFails(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := keyword.NewBleveIndex(filepath.Join(dir, "history.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	s := New(db, failingIndex{baseIndex: idx})
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Save(ctx, "/inbox/a.pdf", result("Acta", "X", "uno", 0.9), models.SaveMetadata{}); !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	n, err := db.CountRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("CountRecords = %d, want 0 after failed indexing", n)
	}
}

func TestOpen_ReindexesWhenIndexIsMissing(t *testing.T) {
	s, dbPath, _ := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		at := time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
		if _, err := s.Save(ctx, "/inbox/informe.pdf", result("Informe", "Sunat", "informe tributario", 0.9), models.SaveMetadata{ProcessedAt: at}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(t.TempDir(), "rebuilt.bleve")
	reopened, err := Open(ctx, dbPath, fresh)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Search(ctx, "tributario", models.HistoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("Search after reindex returned %d records, want 3", len(got))
	}

	usage, err := reopened.DiskUsage()
	if err != nil {
		t.Fatal(err)
	}
	if usage <= 0 {
		t.Errorf("DiskUsage = %d, want > 0", usage)
	}
}
