package milvus

import (
	"strconv"
	"strings"

	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
)

// buildExpr translates a filter expression into a Milvus boolean expression
// over the JSON metadata field.
func buildExpr(expr filter.Expression) string {
	if expr.IsEmpty() {
		return ""
	}

	var parts []string
	for _, c := range expr.Must() {
		parts = append(parts, condition(c))
	}
	if should := expr.Should(); len(should) > 0 {
		alts := make([]string, 0, len(should))
		for _, c := range should {
			alts = append(alts, condition(c))
		}
		parts = append(parts, "("+strings.Join(alts, " or ")+")")
	}
	for _, c := range expr.MustNot() {
		parts = append(parts, "not ("+condition(c)+")")
	}
	return strings.Join(parts, " and ")
}

func condition(c filter.Condition) string {
	field := FieldMetadata + "[" + strconv.Quote(c.Key()) + "]"
	if c.IsMatch() {
		return field + " == " + strconv.Quote(c.Match())
	}

	r := c.Range()
	if r == nil {
		return "true"
	}
	var bounds []string
	if r.GT() != nil {
		bounds = append(bounds, field+" > "+formatNum(*r.GT()))
	}
	if r.GTE() != nil {
		bounds = append(bounds, field+" >= "+formatNum(*r.GTE()))
	}
	if r.LT() != nil {
		bounds = append(bounds, field+" < "+formatNum(*r.LT()))
	}
	if r.LTE() != nil {
		bounds = append(bounds, field+" <= "+formatNum(*r.LTE()))
	}
	if len(bounds) == 0 {
		return "true"
	}
	return "(" + strings.Join(bounds, " and ") + ")"
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
