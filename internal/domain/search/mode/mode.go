package mode

import "fmt"

// Mode is the search strategy.
type Mode string

// Search mode constants.
const (
	// Hybrid consults the lexical and the vector backend and fuses both.
	Hybrid Mode = "hybrid"
	// Semantic consults only the vector backend.
	Semantic Mode = "semantic"
	// Keyword consults only the lexical backend.
	Keyword Mode = "keyword"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Semantic || m == Keyword
}

// Parse maps an optional user-supplied value to a Mode; empty means Hybrid.
func Parse(s string) (Mode, error) {
	if s == "" {
		return Hybrid, nil
	}
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown search mode %q (want hybrid, semantic or keyword)", s)
	}
	return m, nil
}

// UsesLexical reports whether the lexical backend is consulted.
func (m Mode) UsesLexical() bool { return m == Hybrid || m == Keyword }

// UsesVector reports whether the vector backend is consulted.
func (m Mode) UsesVector() bool { return m == Hybrid || m == Semantic }
