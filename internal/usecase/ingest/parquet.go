package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/dsearch/internal/domain"
)

// parquetBatch is the number of rows read per call.
const parquetBatch = 512

// recordColumns holds leaf column indexes of the document fields; -1 when absent.
type recordColumns struct {
	id, title, body, source int
	// meta maps other flat top-level columns to their metadata key.
	meta map[int]string
}

func resolveRecordColumns(pf *parquet.File) recordColumns {
	cols := recordColumns{id: -1, title: -1, body: -1, source: -1, meta: make(map[int]string)}
	for i, path := range pf.Schema().Columns() {
		if len(path) == 0 {
			continue
		}
		switch path[0] {
		case "id":
			cols.id = i
		case "title":
			cols.title = i
		case "body", "text":
			if cols.body < 0 {
				cols.body = i
			}
		case "source":
			cols.source = i
		default:
			// Nested and repeated columns have no flat metadata form.
			if len(path) == 1 {
				cols.meta[i] = path[0]
			}
		}
	}
	return cols
}

// DecodeParquet reads one Record per row. Columns named id, title, body (or
// text) and source fill the document fields; other flat columns become metadata.
func DecodeParquet(r io.ReaderAt, size int64) ([]Record, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet: %w", domain.ErrInvalidDocument, err)
	}
	cols := resolveRecordColumns(pf)
	if cols.title < 0 && cols.body < 0 {
		return nil, fmt.Errorf("%w: parquet file has neither a title nor a body column", domain.ErrInvalidDocument)
	}

	out := make([]Record, 0, pf.NumRows())
	buf := make([]parquet.Row, parquetBatch)
	for _, rg := range pf.RowGroups() {
		rows := parquet.NewRowGroupReader(rg)
		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				out = append(out, rowToRecord(buf[i], cols))
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("read parquet rows: %w", readErr)
			}
		}
	}
	return out, nil
}

func rowToRecord(row parquet.Row, cols recordColumns) Record {
	var rec Record
	for _, v := range row {
		if v.IsNull() {
			continue
		}
		switch c := v.Column(); c {
		case cols.id:
			rec.ID = v.String()
		case cols.title:
			rec.Title = v.String()
		case cols.body:
			rec.Body = v.String()
		case cols.source:
			rec.Source = v.String()
		default:
			name, ok := cols.meta[c]
			if !ok {
				continue
			}
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]any)
			}
			rec.Metadata[name] = parquetScalar(v)
		}
	}
	return rec
}

func parquetScalar(v parquet.Value) any {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return float64(v.Int32())
	case parquet.Int64:
		return float64(v.Int64())
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	default:
		return v.String()
	}
}

// Supported reports whether ReadFile understands the file extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson", ".parquet":
		return true
	}
	return false
}

// ReadFile decodes records from a file chosen by extension: .parquet,
// .jsonl or .ndjson (one object per line), anything else as JSON.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		st, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
		}
		return DecodeParquet(f, st.Size())
	case ".jsonl", ".ndjson":
		return DecodeRecords(f, true)
	default:
		return DecodeRecords(f, false)
	}
}
