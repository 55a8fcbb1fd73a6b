package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rcwatch/rcwatch/internal/types"
)

func TestParse_Canonical(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"title:Foo", `(AND (LIKE title "Foo"))`},
		{`title:"Main Page"`, `(AND (LIKE title "Main Page"))`},
		{"title:other_field", `(AND (LIKE title "other_field"))`},
		{"title:/^Special:/i", `(AND (LIKE title /^Special:/i))`},
		{"a:(< 1 2)", `(AND (LIKE a (< 1 2)))`},
		{"(< length/new 20) user:Bob", `(AND (< length/new 20) (LIKE user "Bob"))`},
		{"(and #t bot)", `(AND (AND #t bot))`},
		{"(empty? tags)", `(AND (EMPTY? tags))`},
		{"(/ length/old length/new)", `(AND (/ length/old length/new))`},
		{"(IF bot (= user \"x\") (> n 0x10))", `(AND (IF bot (= user "x") (> n 0x10)))`},
		{"", `(AND)`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expr, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v, want nil", tt.input, err)
			}
			if got := expr.String(); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input   string
		wantErr error
	}{
		{")", types.ErrUnexpectedClosingParen},
		{"(AND a))", types.ErrUnexpectedClosingParen},
		{"()", types.ErrUnexpectedClosingParen},
		{"(", types.ErrUnterminatedCall},
		{"(AND a", types.ErrUnterminatedCall},
		{"(OR (= a 1)", types.ErrUnterminatedCall},
		{":", types.ErrUnexpectedColon},
		{"a: :", types.ErrUnexpectedColon},
		{"a:", types.ErrUnexpectedEndOfInput},
		{"(FOO a)", types.ErrUnknownFunction},
		{"(#t a)", types.ErrUnknownFunction},
		{`("AND" a)`, types.ErrUnknownFunction},
		{"(AND 12abc)", types.ErrUnrecognizedToken},
		{strings.Repeat("(NOT ", 100) + "a" + strings.Repeat(")", 100), types.ErrExprTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestParse_UnknownFunctionName(t *testing.T) {
	_, err := Parse("(frobnicate a)")
	var fnErr *FunctionError
	if !errors.As(err, &fnErr) {
		t.Fatalf("Parse() error = %v, want *FunctionError", err)
	}
	if fnErr.Name != "FROBNICATE" {
		t.Errorf("FunctionError.Name = %q, want FROBNICATE", fnErr.Name)
	}
}

func TestParseExpression_LeavesRemainder(t *testing.T) {
	tokens, err := Tokenize("(< a 1) b:c")
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}

	expr, err := ParseExpression(&tokens)
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	if expr.String() != "(< a 1)" {
		t.Errorf("ParseExpression() = %s, want (< a 1)", expr)
	}
	if len(tokens) != 3 {
		t.Fatalf("remaining tokens = %v, want 3", tokens)
	}

	expr, err = ParseExpression(&tokens)
	if err != nil {
		t.Fatalf("ParseExpression() error = %v", err)
	}
	if expr.String() != `(LIKE b "c")` {
		t.Errorf("ParseExpression() = %s, want (LIKE b \"c\")", expr)
	}
	if len(tokens) != 0 {
		t.Errorf("remaining tokens = %v, want none", tokens)
	}

	if _, err := ParseExpression(&tokens); !errors.Is(err, types.ErrUnexpectedEndOfInput) {
		t.Errorf("ParseExpression() on empty input error = %v, want ErrUnexpectedEndOfInput", err)
	}
}

var propertyClauses = []string{
	"title:Foo",
	"(< length/new 20)",
	"path:/abc/i",
	`(= user "Bob")`,
	"(NOT minor)",
	"(> (SIZE comment) 3)",
	"(LIKE title /^Special:/)",
	"(IF bot #f #t)",
	"(!= (+ length/new (- length/old)) 0)",
	"log_params/0:x",
}

var propertyRecords = []string{
	`{}`,
	`{"title": "Foo", "user": "Bob", "minor": false}`,
	`{"path": "abc", "length": {"new": 10, "old": 30}, "comment": "fixed typo"}`,
	`{"title": "Special:Log", "bot": true, "log_params": ["x"]}`,
	`{"title": 5, "length": "long", "comment": null, "path": ["ABC"]}`,
}

// Property-based test: parsing is deterministic and re-serializing the
// parsed form yields the same predicate
func TestParse_PropertyReparseStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	records := make([]any, len(propertyRecords))
	for i, r := range propertyRecords {
		records[i] = decode(t, r)
	}

	properties.Property("canonical form reparses to the same predicate", prop.ForAll(
		func(picks []int) bool {
			if len(picks) == 0 {
				return true
			}
			parts := make([]string, len(picks))
			for i, p := range picks {
				parts[i] = propertyClauses[p]
			}
			text := strings.Join(parts, " ")

			first, err := Parse(text)
			if err != nil {
				return false
			}
			again, err := Parse(text)
			if err != nil || again.String() != first.String() {
				return false
			}

			reparsed, err := Parse(first.String())
			if err != nil || reparsed.String() != "(AND "+first.String()+")" {
				return false
			}

			a, err := Compile(first)
			if err != nil {
				return false
			}
			b, err := Compile(reparsed)
			if err != nil {
				return false
			}
			for _, record := range records {
				if a.Match(record) != b.Match(record) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(propertyClauses)-1)),
	))

	properties.TestingRun(t)
}
