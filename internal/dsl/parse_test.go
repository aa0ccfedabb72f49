package dsl

import (
	"testing"

	"github.com/plinthdb/plinth/internal/errs"
)

func TestParseFilterSimple(t *testing.T) {
	f, err := ParseFilter("status.eq.active")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	p, ok := f.(*Predicate)
	if !ok {
		t.Fatalf("expected predicate, got %T", f)
	}
	if p.Column != "status" || p.Op != "eq" || p.Value != "active" {
		t.Errorf("unexpected predicate: %+v", p)
	}
}

func TestParseFilterImplicitAnd(t *testing.T) {
	f, err := ParseFilter("status.eq.active,age.gte.21")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	l, ok := f.(*Logical)
	if !ok || l.Op != "and" || len(l.Children) != 2 {
		t.Fatalf("expected and with 2 children, got %#v", f)
	}
}

func TestParseFilterNested(t *testing.T) {
	f, err := ParseFilter("or(status.eq.active,and(age.gte.21,not(banned.eq.true)))")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	or, ok := f.(*Logical)
	if !ok || or.Op != "or" || len(or.Children) != 2 {
		t.Fatalf("expected or, got %#v", f)
	}
	and, ok := or.Children[1].(*Logical)
	if !ok || and.Op != "and" || len(and.Children) != 2 {
		t.Fatalf("expected nested and, got %#v", or.Children[1])
	}
	not, ok := and.Children[1].(*Logical)
	if !ok || not.Op != "not" || len(not.Children) != 1 {
		t.Fatalf("expected not, got %#v", and.Children[1])
	}
}

func TestParseFilterInAndIs(t *testing.T) {
	f, err := ParseFilter("color.in.(red,green,blue),deleted_at.is.null,owner.is.not_null")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	l := f.(*Logical)
	in := l.Children[0].(*Predicate)
	if in.Op != "in" || len(in.Values) != 3 || in.Values[2] != "blue" {
		t.Errorf("unexpected in predicate: %+v", in)
	}
	isNull := l.Children[1].(*Predicate)
	if !isNull.IsNull || isNull.Negate {
		t.Errorf("unexpected is.null predicate: %+v", isNull)
	}
	notNull := l.Children[2].(*Predicate)
	if !notNull.IsNull || !notNull.Negate {
		t.Errorf("unexpected is.not_null predicate: %+v", notNull)
	}
}

func TestParseFilterQuotedValue(t *testing.T) {
	f, err := ParseFilter(`name.eq."Smith, John (Jr.)"`)
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	p := f.(*Predicate)
	if p.Value != "Smith, John (Jr.)" {
		t.Errorf("quoted value = %q", p.Value)
	}
}

func TestParseFilterMalformed(t *testing.T) {
	bad := []string{
		"status",
		"status.",
		"status.wibble.x",
		"and(status.eq.active",
		"not(a.eq.1,b.eq.2)",
		"color.in.red",
		`name.eq."unterminated`,
		"a.eq.1,,b.eq.2",
		"deleted_at.is.maybe",
	}
	for _, s := range bad {
		if _, err := ParseFilter(s); err == nil {
			t.Errorf("ParseFilter(%q): expected error", s)
		} else if !errs.IsKind(err, errs.KindValidation) {
			t.Errorf("ParseFilter(%q): want validation error, got %v", s, err)
		}
	}
}

func TestParseFilterEmpty(t *testing.T) {
	f, err := ParseFilter("   ")
	if err != nil || f != nil {
		t.Errorf("empty filter should parse to nil, got %v, %v", f, err)
	}
}

func TestParseSelect(t *testing.T) {
	sel, err := ParseSelect("id,full_name:name,author(name,email),tags:labels(*)")
	if err != nil {
		t.Fatalf("ParseSelect: %v", err)
	}
	if len(sel.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(sel.Items))
	}
	if sel.Items[1].Alias != "full_name" || sel.Items[1].Column != "name" {
		t.Errorf("aliased item: %+v", sel.Items[1])
	}
	if len(sel.Embeds) != 2 {
		t.Fatalf("embeds = %d, want 2", len(sel.Embeds))
	}
	if sel.Embeds[0].Relation != "author" || len(sel.Embeds[0].Items) != 2 {
		t.Errorf("author embed: %+v", sel.Embeds[0])
	}
	if sel.Embeds[1].Alias != "tags" || sel.Embeds[1].Relation != "labels" || !sel.Embeds[1].Items[0].Star {
		t.Errorf("labels embed: %+v", sel.Embeds[1])
	}
}

func TestParseSelectDefaultsToStar(t *testing.T) {
	sel, err := ParseSelect("")
	if err != nil {
		t.Fatalf("ParseSelect: %v", err)
	}
	if len(sel.Items) != 1 || !sel.Items[0].Star {
		t.Errorf("empty select should be *, got %+v", sel)
	}
}

func TestParseSelectMalformed(t *testing.T) {
	for _, s := range []string{"id,", "bad name", "rel(a,b", "a:b:c", "rel(inner(x))"} {
		if _, err := ParseSelect(s); err == nil {
			t.Errorf("ParseSelect(%q): expected error", s)
		}
	}
}

func TestParseOrder(t *testing.T) {
	keys, err := ParseOrder("age.desc,name.asc,id")
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("keys = %d", len(keys))
	}
	if !keys[0].Desc || keys[1].Desc || keys[2].Desc {
		t.Errorf("directions wrong: %+v", keys)
	}
	if keys[2].Column != "id" {
		t.Errorf("bare column should default ascending: %+v", keys[2])
	}
}

func TestParseOrderMalformed(t *testing.T) {
	for _, s := range []string{"age.sideways", ".desc", "a..b"} {
		if _, err := ParseOrder(s); err == nil {
			t.Errorf("ParseOrder(%q): expected error", s)
		}
	}
}
