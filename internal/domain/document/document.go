package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"regexp"
	"strings"
)

var (
	idRegex       = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
	metaKeyRegex  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	reservedNames = map[string]bool{"id": true, "title": true, "body": true, "source": true, "vector": true}
)

// Indexed text fields. Field boosts are keyed by these names.
const (
	FieldTitle  = "title"
	FieldBody   = "body"
	FieldSource = "source"
)

// TextFields lists the indexed text fields in schema order.
var TextFields = []string{FieldTitle, FieldBody, FieldSource}

// Limits for a single document.
const (
	MaxIDLength    = 128
	MaxTitleSize   = 1024
	MaxBodySize    = 1 << 20 // 1MB of parsed text
	MaxMetadataKey = 64
)

// Document is the document aggregate (immutable value object).
type Document struct {
	id       string
	title    string
	body     string
	source   string
	metadata map[string]any
}

// New validates and creates a Document.
// An empty id is derived from the source path, or from title and body when there is no source.
// Metadata values must be scalars: string, bool or a number (stored as float64).
func New(id, title, body, source string, metadata map[string]any) (Document, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(body) == "" {
		return Document{}, fmt.Errorf("title or body is required")
	}
	if len(title) > MaxTitleSize {
		return Document{}, fmt.Errorf("title too large (max %d bytes)", MaxTitleSize)
	}
	if len(body) > MaxBodySize {
		return Document{}, fmt.Errorf("body too large (max %d bytes)", MaxBodySize)
	}

	if id == "" {
		id = DeriveID(title, body, source)
	}
	if err := ValidateID(id); err != nil {
		return Document{}, err
	}

	meta, err := normalizeMetadata(metadata)
	if err != nil {
		return Document{}, err
	}

	return Document{
		id:       id,
		title:    title,
		body:     body,
		source:   source,
		metadata: meta,
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id, title, body, source string, metadata map[string]any) Document {
	return Document{id: id, title: title, body: body, source: source, metadata: metadata}
}

// ValidateID checks a document identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("document ID is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("document ID too long (max %d)", MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("document ID must match [a-zA-Z0-9_.:-]")
	}
	return nil
}

// DeriveID computes a content-addressed identifier.
// The source path identifies a document across re-parses; without one the content does.
func DeriveID(title, body, source string) string {
	h := sha256.New()
	if source != "" {
		h.Write([]byte("source\x00" + source))
	} else {
		h.Write([]byte("content\x00" + title + "\x00" + body))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Title returns the document title.
func (d *Document) Title() string { return d.title }

// Body returns the document body text.
func (d *Document) Body() string { return d.body }

// Source returns the source path the document was parsed from.
func (d *Document) Source() string { return d.source }

// Metadata returns the scalar metadata fields.
func (d *Document) Metadata() map[string]any { return d.metadata }

// EmbeddingText is the text the vector index represents: title, then body.
func (d *Document) EmbeddingText() string {
	switch {
	case d.title == "":
		return d.body
	case d.body == "":
		return d.title
	default:
		return d.title + "\n" + d.body
	}
}

// ContentHash fingerprints the indexed content, used to tell versions apart in logs.
func (d *Document) ContentHash() string {
	sum := sha256.Sum256([]byte(d.title + "\x00" + d.body + "\x00" + d.source))
	return hex.EncodeToString(sum[:8])
}

func normalizeMetadata(in map[string]any) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	if len(in) > MaxMetadataKey {
		return nil, fmt.Errorf("too many metadata fields (max %d)", MaxMetadataKey)
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if !metaKeyRegex.MatchString(k) {
			return nil, fmt.Errorf("metadata key %q must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		if reservedNames[k] {
			return nil, fmt.Errorf("metadata key %q is reserved", k)
		}
		switch val := v.(type) {
		case string, bool, float64:
			out[k] = val
		case float32:
			out[k] = float64(val)
		case int:
			out[k] = float64(val)
		case int64:
			out[k] = float64(val)
		case int32:
			out[k] = float64(val)
		default:
			return nil, fmt.Errorf("metadata %q must be a string, number or bool, got %T", k, v)
		}
	}
	return maps.Clone(out), nil
}
