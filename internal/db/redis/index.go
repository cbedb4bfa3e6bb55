package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/dsearch/internal/db"
)

// CreateIndex issues FT.CREATE for a HASH index over the definition's key
// prefixes. An existing index yields db.ErrIndexExists.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := createArgs(def)
	if err != nil {
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// DropIndex issues FT.DROPINDEX without DD. The indexed hashes stay in place,
// so an index recreated over the same prefix picks them up again.
func (s *Store) DropIndex(ctx context.Context, name string) error {
	cmd := s.b().Arbitrary("FT.DROPINDEX").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return db.ErrIndexNotFound
		}
		return &db.Error{Op: db.OpDropIndex, Err: err}
	}
	return nil
}

// IndexExists reports whether FT.INFO knows the index.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	err := s.do(ctx, cmd).Error()
	switch {
	case err == nil:
		return true, nil
	case isRedisErr(err, "unknown index name"):
		return false, nil
	}
	return false, &db.Error{Op: db.OpIndexInfo, Err: err}
}

// createArgs renders FT.CREATE arguments. Documents and vectors are stored as
// hashes, so HASH is the only storage accepted.
func createArgs(def *db.IndexDefinition) ([]string, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.StorageType != "" && def.StorageType != db.StorageHash {
		return nil, fmt.Errorf("unsupported storage type %q", def.StorageType)
	}

	args := make([]string, 0, 6+len(def.Prefixes)+4*len(def.Fields))
	args = append(args, def.Name, "ON", string(db.StorageHash))
	if n := len(def.Prefixes); n > 0 {
		args = append(args, "PREFIX", strconv.Itoa(n))
		args = append(args, def.Prefixes...)
	}
	args = append(args, "SCHEMA")

	for i := range def.Fields {
		f := &def.Fields[i]
		spec, err := fieldSpec(f)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		args = append(args, f.Name)
		args = append(args, spec...)
	}
	return args, nil
}

// fieldSpec renders the type clause that follows a field name in SCHEMA.
func fieldSpec(f *db.IndexField) ([]string, error) {
	switch f.Type {
	case db.IndexFieldText:
		if f.TextWeight > 0 {
			return []string{"TEXT", "WEIGHT", strconv.FormatFloat(f.TextWeight, 'g', -1, 64)}, nil
		}
		return []string{"TEXT"}, nil
	case db.IndexFieldTag:
		return []string{"TAG"}, nil
	case db.IndexFieldNumeric:
		return []string{"NUMERIC"}, nil
	case db.IndexFieldVector:
		return hnswSpec(f)
	}
	return nil, fmt.Errorf("unknown field type %d", f.Type)
}

// hnswSpec renders a FLOAT32 HNSW vector clause. Zero M or EF_CONSTRUCTION
// keeps the engine defaults.
func hnswSpec(f *db.IndexField) ([]string, error) {
	if f.VectorDim <= 0 {
		return nil, fmt.Errorf("vector DIM must be positive")
	}
	if f.VectorAlgo != "" && f.VectorAlgo != db.VectorHNSW {
		return nil, fmt.Errorf("unsupported vector algorithm %q", f.VectorAlgo)
	}
	distance := f.VectorDistance
	if distance == "" {
		distance = db.DistanceCosine
	}

	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(f.VectorDim),
		"DISTANCE_METRIC", string(distance),
	}
	if f.VectorM > 0 {
		attrs = append(attrs, "M", strconv.Itoa(f.VectorM))
	}
	if f.VectorEFConstruct > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.VectorEFConstruct))
	}
	return append([]string{"VECTOR", string(db.VectorHNSW), strconv.Itoa(len(attrs))}, attrs...), nil
}
