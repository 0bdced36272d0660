package filter_test

import (
	"strings"
	"testing"

	"canon/internal/filter"
)

func TestParseExistsAndCompare(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"exists", "content.hash.sha256?"},
		{"not exists bang", "!content.hash.sha256?"},
		{"not exists keyword", "NOT content.hash.sha256?"},
		{"equals", "content.Make=Apple"},
		{"not equals", "content.Make!=Apple"},
		{"numeric compare", "source.size>1000000"},
		{"quoted value", `content.Title="The Movie"`},
		{"in list", "content.Make IN (Apple, Sony, Canon)"},
		{"grouped or and", "(source.ext=jpg OR source.ext=png) AND source.size>1000000"},
		{"date compare", "content.DateTimeOriginal>=2020-01-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node, err := filter.Parse(tc.expr)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tc.expr, err)
			}
			if node == nil {
				t.Fatalf("Parse(%q) returned nil node", tc.expr)
			}
		})
	}
}

func TestParseGroupedOrAndShape(t *testing.T) {
	node, err := filter.Parse("(source.ext=jpg OR source.ext=png) AND source.size>1000000")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	and, ok := node.(filter.And)
	if !ok {
		t.Fatalf("expected root And node, got %T", node)
	}
	if _, ok := and.Left.(filter.Or); !ok {
		t.Fatalf("expected grouped Or as left child, got %T", and.Left)
	}
	if _, ok := and.Right.(filter.Compare); !ok {
		t.Fatalf("expected Compare as right child, got %T", and.Right)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"unterminated string", `content.Title="unterminated`},
		{"unknown operator", "content.key~=value"},
		{"trailing tokens", "content.key? extra"},
		{"unclosed paren", "(content.key?"},
		{"unknown builtin", "source.bogus=1"},
		{"malformed key", "1bad.key?"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := filter.Parse(tc.expr); err == nil {
				t.Fatalf("expected parse error for %q", tc.expr)
			}
		})
	}
}

func TestParseAllCombinesWithAnd(t *testing.T) {
	node, err := filter.ParseAll([]string{"source.ext=jpg", "content.hash.sha256?"})
	if err != nil {
		t.Fatalf("ParseAll failed: %v", err)
	}
	if _, ok := node.(filter.And); !ok {
		t.Fatalf("expected And root combining multiple filter args, got %T", node)
	}
}

func TestNegationFormsAreEquivalent(t *testing.T) {
	bang, err := filter.Parse("!content.hash.sha256?")
	if err != nil {
		t.Fatalf("Parse (bang) failed: %v", err)
	}
	kw, err := filter.Parse("NOT content.hash.sha256?")
	if err != nil {
		t.Fatalf("Parse (keyword) failed: %v", err)
	}

	bangSQL, bangArgs, err := filter.Compile(bang)
	if err != nil {
		t.Fatalf("Compile (bang) failed: %v", err)
	}
	kwSQL, kwArgs, err := filter.Compile(kw)
	if err != nil {
		t.Fatalf("Compile (keyword) failed: %v", err)
	}
	if bangSQL != kwSQL || len(bangArgs) != len(kwArgs) {
		t.Fatalf("expected equivalent compiled forms, got %q vs %q", bangSQL, kwSQL)
	}
}

func TestCompileProducesParameterizedSQL(t *testing.T) {
	node, err := filter.Parse("content.Make=Apple")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sql, args, err := filter.Compile(node)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if strings.Contains(sql, "Apple") {
		t.Fatalf("expected literal value to be parameterized, not inlined: %s", sql)
	}
	if len(args) == 0 {
		t.Fatal("expected compiled query to carry bind arguments")
	}
}

func TestCompileExtBuiltinUsesLikeEquality(t *testing.T) {
	node, err := filter.Parse("source.ext=jpg")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sql, args, err := filter.Compile(node)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !strings.Contains(sql, "LIKE") {
		t.Fatalf("expected LIKE-based extension match, got %s", sql)
	}
	if len(args) != 1 || args[0] != "jpg" {
		t.Fatalf("expected lowered extension arg, got %#v", args)
	}
}

func TestCompileExtRejectsOrderingOperators(t *testing.T) {
	node, err := filter.Parse("source.ext>jpg")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, _, err := filter.Compile(node); err == nil {
		t.Fatal("expected compile error for ordering operator on source.ext")
	}
}
