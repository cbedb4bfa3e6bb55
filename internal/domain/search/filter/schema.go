package filter

import "fmt"

// Kind is the index type of a filterable metadata field.
type Kind string

// Field kinds.
const (
	KindTag     Kind = "tag"
	KindNumeric Kind = "numeric"
)

// Schema declares which metadata fields can be filtered on, and how.
type Schema map[string]Kind

// Check rejects conditions on undeclared fields, range conditions on tag
// fields and match conditions on numeric fields.
func (s Schema) Check(expr Expression) error {
	for _, group := range [][]Condition{expr.must, expr.should, expr.mustNot} {
		for _, c := range group {
			kind, ok := s[c.key]
			switch {
			case !ok:
				return fmt.Errorf("field %q is not filterable", c.key)
			case c.IsRange() && kind != KindNumeric:
				return fmt.Errorf("range filter on tag field %q", c.key)
			case c.IsMatch() && kind != KindTag:
				return fmt.Errorf("match filter on numeric field %q", c.key)
			}
		}
	}
	return nil
}
