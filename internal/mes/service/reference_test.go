package service

import "testing"

func TestReferencePatternFormat(t *testing.T) {
	p, err := ParseReferencePattern("BO-{ref:04d}")
	if err != nil {
		t.Fatalf("parse pattern: %v", err)
	}
	if got := p.Format(7); got != "BO-0007" {
		t.Fatalf("expected BO-0007, got %s", got)
	}
	if got := p.Format(12345); got != "BO-12345" {
		t.Fatalf("expected BO-12345, got %s", got)
	}
}

func TestReferencePatternNoWidth(t *testing.T) {
	p, err := ParseReferencePattern("WO/{ref}/2026")
	if err != nil {
		t.Fatalf("parse pattern: %v", err)
	}
	if got := p.Format(42); got != "WO/42/2026" {
		t.Fatalf("expected WO/42/2026, got %s", got)
	}
	seq, ok := p.Parse("WO/42/2026")
	if !ok || seq != 42 {
		t.Fatalf("expected seq 42, got %d ok=%v", seq, ok)
	}
}

func TestReferencePatternParse(t *testing.T) {
	p, _ := ParseReferencePattern("BO-{ref:04d}")

	seq, ok := p.Parse("BO-0042")
	if !ok || seq != 42 {
		t.Fatalf("expected seq 42, got %d ok=%v", seq, ok)
	}

	for _, bad := range []string{"XX-0042", "BO-", "BO-abc", ""} {
		if _, ok := p.Parse(bad); ok {
			t.Fatalf("expected parse failure for %q", bad)
		}
	}
}

func TestReferencePatternMissingPlaceholder(t *testing.T) {
	if _, err := ParseReferencePattern("BO-0001"); err == nil {
		t.Fatal("expected error for pattern without placeholder")
	}
}
