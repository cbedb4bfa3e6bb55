package lexical

import (
	"encoding/json"
	"strconv"

	"github.com/kailas-cloud/dsearch/internal/domain/document"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
)

const fieldMetadata = "metadata"

// buildHashFields flattens a document for HSET. Declared filter fields are
// copied out of the metadata so the index can filter on them; the full
// metadata travels as JSON.
func buildHashFields(doc *document.Document, filterFields filter.Schema) (map[string]string, error) {
	m := map[string]string{
		document.FieldTitle:  doc.Title(),
		document.FieldBody:   doc.Body(),
		document.FieldSource: doc.Source(),
	}

	if meta := doc.Metadata(); len(meta) > 0 {
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		m[fieldMetadata] = string(data)
	}

	for name, kind := range filterFields {
		v, ok := doc.Metadata()[name]
		if !ok {
			continue
		}
		if s, ok := filterValue(v, kind); ok {
			m[name] = s
		}
	}
	return m, nil
}

// filterValue renders a metadata value for a filter field; values of the wrong
// kind for a numeric field are left out of the index.
func filterValue(v any, kind filter.Kind) (string, bool) {
	switch kind {
	case filter.KindNumeric:
		f, ok := v.(float64)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	default:
		switch val := v.(type) {
		case string:
			return val, val != ""
		case bool:
			return strconv.FormatBool(val), true
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64), true
		}
	}
	return "", false
}

// parseHashFields rebuilds a document from its hash.
func parseHashFields(id string, m map[string]string) (document.Document, error) {
	var meta map[string]any
	if raw := m[fieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return document.Document{}, err
		}
	}
	return document.Reconstruct(id, m[document.FieldTitle], m[document.FieldBody], m[document.FieldSource], meta), nil
}
