package filter

import "testing"

func TestSchemaCheck(t *testing.T) {
	schema := Schema{"lang": KindTag, "year": KindNumeric}
	lo := 2000.0
	yearRange, _ := NewRangeFilter(nil, &lo, nil, nil)

	langMatch, _ := NewMatch("lang", "en")
	yearGTE, _ := NewRange("year", yearRange)
	langRange, _ := NewRange("lang", yearRange)
	yearMatch, _ := NewMatch("year", "2020")
	author, _ := NewMatch("author", "bob")

	tests := []struct {
		name    string
		must    []Condition
		mustNot []Condition
		wantErr bool
	}{
		{"empty", nil, nil, false},
		{"declared", []Condition{langMatch, yearGTE}, nil, false},
		{"undeclared", []Condition{author}, nil, true},
		{"undeclared in must_not", nil, []Condition{author}, true},
		{"range on tag", []Condition{langRange}, nil, true},
		{"match on numeric", []Condition{yearMatch}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := NewExpression(tt.must, nil, tt.mustNot)
			if err != nil {
				t.Fatalf("NewExpression: %v", err)
			}
			if err := schema.Check(expr); (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
