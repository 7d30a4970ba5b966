package identity

import (
	"strings"
	"testing"
)

func TestResolveAccountIDDeterministic(t *testing.T) {
	variants := []string{
		"jane.doe@example.com",
		"Jane.Doe@Example.com",
		"  jane.doe@example.com  ",
		"JANE.DOE@EXAMPLE.COM",
	}
	first, err := ResolveAccountID(variants[0])
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	for _, variant := range variants[1:] {
		got, err := ResolveAccountID(variant)
		if err != nil {
			t.Fatalf("resolve %q failed: %v", variant, err)
		}
		if got != first {
			t.Fatalf("variant %q resolved to %q, want %q", variant, got, first)
		}
	}
}

func TestResolveAccountIDShape(t *testing.T) {
	id, err := ResolveAccountID("a@b.test")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.HasPrefix(id, "acc_") {
		t.Fatalf("expected acc_ prefix, got %q", id)
	}
	if len(id) != len("acc_")+accountIDHexLen {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
}

func TestResolveAccountIDDistinctEmails(t *testing.T) {
	a, _ := ResolveAccountID("a@b.test")
	b, _ := ResolveAccountID("b@b.test")
	if a == b {
		t.Fatal("distinct emails resolved to the same id")
	}
}

func TestResolveAccountIDRequiresEmail(t *testing.T) {
	if _, err := ResolveAccountID("   "); err == nil {
		t.Fatal("expected error for blank email")
	}
}

func TestNewEntityID(t *testing.T) {
	id := NewEntityID("ord")
	if !strings.HasPrefix(id, "ord_") {
		t.Fatalf("expected ord_ prefix, got %q", id)
	}
	if NewEntityID("ord") == id {
		t.Fatal("expected generated ids to differ")
	}
	if !strings.HasPrefix(NewEntityID("  "), "ent_") {
		t.Fatal("expected ent_ fallback prefix")
	}
}
