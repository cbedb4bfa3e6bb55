package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/domain/document"
)

// maxRecordLine bounds a single JSON Lines record (a parsed document body may be large).
const maxRecordLine = 4 << 20

// Record is the wire form of a parsed document, as produced by external parsers.
type Record struct {
	ID       string         `json:"id,omitempty"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Document validates the record.
func (r Record) Document() (document.Document, error) {
	d, err := document.New(r.ID, r.Title, r.Body, r.Source, r.Metadata)
	if err != nil {
		return document.Document{}, fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err)
	}
	return d, nil
}

// Documents validates every record. The error names the first invalid one.
func Documents(records []Record) ([]document.Document, error) {
	docs := make([]document.Document, len(records))
	for i, r := range records {
		d, err := r.Document()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		docs[i] = d
	}
	return docs, nil
}

// DecodeRecords reads documents from JSON (a single object or an array) or
// from JSON Lines when lines is set. Blank lines are ignored.
func DecodeRecords(r io.Reader, lines bool) ([]Record, error) {
	if lines {
		return decodeLines(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var out []Record
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("%w: decode records: %w", domain.ErrInvalidDocument, err)
		}
		return out, nil
	}
	var one Record
	if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
		return nil, fmt.Errorf("%w: decode record: %w", domain.ErrInvalidDocument, err)
	}
	return []Record{one}, nil
}

func decodeLines(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxRecordLine)
	var out []Record
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrInvalidDocument, line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: line %d exceeds %d bytes", domain.ErrInvalidDocument, line+1, maxRecordLine)
		}
		return nil, fmt.Errorf("read records: %w", err)
	}
	return out, nil
}
