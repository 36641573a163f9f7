package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// rebuildBatchSize bounds the number of documents per bleve batch during Rebuild.
const rebuildBatchSize = 500

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and tokenizes without stemming, so Spanish words
	// are matched as written.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("file_name", textFieldMapping)
	docMapping.AddFieldMappingsAt("document_type", textFieldMapping)
	docMapping.AddFieldMappingsAt("organization", textFieldMapping)
	docMapping.AddFieldMappingsAt("full_text", textFieldMapping)
	docMapping.AddFieldMappingsAt("record_id", bleve.NewNumericFieldMapping())
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = standard.Name
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is reopened; callers compare DocCount against the database and
// Rebuild when they disagree.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes a document by record id.
func (b *BleveIndex) Index(ctx context.Context, id int64, doc Document) error {
	doc.RecordID = id
	return b.index.Index(docID(id), doc)
}

// Rebuild deletes every indexed document and indexes docs in batches.
func (b *BleveIndex) Rebuild(ctx context.Context, docs map[int64]Document) error {
	existing, err := b.allIDs(ctx)
	if err != nil {
		return err
	}

	batch := b.index.NewBatch()
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to apply batch: %w", err)
		}
		batch.Reset()
		return nil
	}

	for _, id := range existing {
		batch.Delete(id)
		if batch.Size() >= rebuildBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	for id, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc.RecordID = id
		if err := batch.Index(docID(id), doc); err != nil {
			return fmt.Errorf("failed to batch record %d: %w", id, err)
		}
		if batch.Size() >= rebuildBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// Search requires every term of query to appear in the record. Results are ordered
// newest record first, so a limit below the match count drops the oldest matches.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]int64, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []int64{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var q blevequery.Query
	if opts != nil && opts.Fuzziness > 0 {
		q = buildFuzzyQuery(query, opts.Fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetOperator(blevequery.MatchQueryOperatorAnd)
		q = mq
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.SortBy([]string{"-record_id"})
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]int64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// buildFuzzyQuery creates a conjunction of FuzzyQueries, one per term.
// Fuzzy terms are not analyzed, so they are lowercased here to match the index.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := strings.Fields(strings.ToLower(queryStr))
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}

func (b *BleveIndex) allIDs(ctx context.Context) ([]string, error) {
	count, err := b.index.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed records: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id int64) error {
	return b.index.Delete(docID(id))
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}
