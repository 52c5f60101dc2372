package rdf

import (
	"testing"
	"time"
)

func TestTermTypes(t *testing.T) {
	tests := []struct {
		name     string
		term     Term
		expected TermType
	}{
		{"named node", NewNamedNode("http://example.org/resource"), TermTypeNamedNode},
		{"blank node", NewBlankNode("b1"), TermTypeBlankNode},
		{"literal", NewLiteral("value"), TermTypeLiteral},
		{"variable", NewVariable("x"), TermTypeVariable},
		{"wildcard", Any, TermTypeWildcard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.term.Type() != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.term.Type())
			}
		})
	}
}

func TestTermStrings(t *testing.T) {
	tests := []struct {
		name     string
		term     Term
		expected string
	}{
		{"named node", NewNamedNode("http://example.org/resource"), "<http://example.org/resource>"},
		{"empty named node", NewNamedNode(""), "<>"},
		{"blank node", NewBlankNode("b1"), "_:b1"},
		{"plain literal", NewLiteral("hello"), `"hello"`},
		{"empty literal", NewLiteral(""), `""`},
		{"escaped literal", NewLiteral("say \"hi\"\n"), `"say \"hi\"\n"`},
		{"language literal", NewLiteralWithLanguage("bonjour", "fr"), `"bonjour"@fr`},
		{"typed literal", NewIntegerLiteral(42), `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{"variable", NewVariable("name"), "?name"},
		{"wildcard", Any, "ANY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.term.String() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.term.String())
			}
		})
	}
}

func TestLiteral_Equals(t *testing.T) {
	lit1 := NewLiteral("test")
	lit2 := NewLiteral("test")
	lit3 := NewLiteralWithLanguage("test", "en")
	lit4 := NewLiteralWithDatatype("test", XSDString)
	lit5 := NewLiteralWithDatatype("test", NewNamedNode(XSDString.IRI))

	if !lit1.Equals(lit2) {
		t.Error("Expected equal plain literals to be equal")
	}
	if lit1.Equals(lit3) {
		t.Error("Plain literal should not equal language-tagged literal")
	}
	if lit1.Equals(lit4) {
		t.Error("Plain literal should not equal typed literal")
	}
	if !lit4.Equals(lit5) {
		t.Error("Typed literals with the same datatype IRI should be equal")
	}
	if lit1.Equals(NewNamedNode("test")) {
		t.Error("Literal should not equal NamedNode")
	}
}

func TestVariable_Equals(t *testing.T) {
	if !NewVariable("x").Equals(NewVariable("x")) {
		t.Error("Expected equal variables to be equal")
	}
	if NewVariable("x").Equals(NewVariable("y")) {
		t.Error("Expected different variables to not be equal")
	}
	if NewVariable("x").Equals(Any) {
		t.Error("Variable should not equal the wildcard")
	}
}

func TestIsWildcard(t *testing.T) {
	if !IsWildcard(nil) {
		t.Error("nil should be treated as a wildcard")
	}
	if !IsWildcard(Any) {
		t.Error("Any should be a wildcard")
	}
	if IsWildcard(NewVariable("x")) {
		t.Error("Variables are concrete terms")
	}
}

func TestTriple_Pattern(t *testing.T) {
	s := NewNamedNode("http://example.org/s")
	p := NewNamedNode("http://example.org/p")
	o := NewLiteral("o")

	tests := []struct {
		name      string
		triple    *Triple
		pattern   bool
		universal bool
	}{
		{"concrete", NewTriple(s, p, o), false, false},
		{"wild object", NewPattern(s, p, nil), true, false},
		{"wild predicate", NewTriple(s, Any, o), true, false},
		{"universal", NewPattern(nil, nil, nil), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.triple.IsPattern() != tt.pattern {
				t.Errorf("IsPattern: expected %v", tt.pattern)
			}
			if tt.triple.IsUniversal() != tt.universal {
				t.Errorf("IsUniversal: expected %v", tt.universal)
			}
		})
	}
}

func TestTriple_String(t *testing.T) {
	subject := NewNamedNode("http://example.org/subject")
	predicate := NewNamedNode("http://example.org/predicate")
	object := NewLiteral("value")

	triple := NewTriple(subject, predicate, object)
	expected := "<http://example.org/subject> <http://example.org/predicate> \"value\" ."

	if triple.String() != expected {
		t.Errorf("Expected:\n%s\nGot:\n%s", expected, triple.String())
	}

	pattern := NewPattern(subject, nil, nil)
	if pattern.String() != "<http://example.org/subject> ANY ANY ." {
		t.Errorf("Unexpected pattern string: %s", pattern.String())
	}
}

// ===== Typed Literal Constructor Tests =====

func TestTypedLiteralConstructors(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		lit      *Literal
		value    string
		datatype *NamedNode
	}{
		{"integer", NewIntegerLiteral(42), "42", XSDInteger},
		{"negative integer", NewIntegerLiteral(-7), "-7", XSDInteger},
		{"double", NewDoubleLiteral(3.5), "3.5", XSDDouble},
		{"boolean", NewBooleanLiteral(true), "true", XSDBoolean},
		{"datetime", NewDateTimeLiteral(now), "2024-01-02T03:04:05Z", XSDDateTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.lit.Value != tt.value {
				t.Errorf("Expected value '%s', got '%s'", tt.value, tt.lit.Value)
			}
			if tt.lit.Datatype == nil || tt.lit.Datatype.IRI != tt.datatype.IRI {
				t.Errorf("Expected datatype %s, got %v", tt.datatype, tt.lit.Datatype)
			}
		})
	}
}
