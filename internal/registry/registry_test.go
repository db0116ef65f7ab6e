package registry

import (
	"context"
	"errors"
	"testing"
)

func TestKeywordNormalization(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "lowercased", raw: "Crypto", want: "crypto"},
		{name: "trimmed", raw: "  bitcoin  ", want: "bitcoin"},
		{name: "mixed", raw: " GoLang ", want: "golang"},
		{name: "empty", raw: "   ", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKeyword(tt.raw); got != tt.want {
				t.Fatalf("NormalizeKeyword(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestKeywordsAddRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := NewKeywords(nil)

	if _, err := k.Add(ctx, "Crypto", 1); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if _, err := k.Add(ctx, "  crypto ", 2); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Add error = %v, want ErrAlreadyExists", err)
	}
	if _, err := k.Add(ctx, "   ", 1); !errors.Is(err, ErrInvalid) {
		t.Fatalf("blank Add error = %v, want ErrInvalid", err)
	}

	if _, err := k.Add(ctx, "blockchain", 1); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	got := k.Values()
	want := []string{"crypto", "blockchain"}
	if len(got) != len(want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values()[%d] = %q, want %q (insertion order)", i, got[i], want[i])
		}
	}

	if err := k.Remove(ctx, "CRYPTO"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if err := k.Remove(ctx, "crypto"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove error = %v, want ErrNotFound", err)
	}
	if k.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", k.Len())
	}
}

func TestTargetsUniquePerSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := NewTargets(nil)

	if _, err := tr.Add(ctx, Target{Source: "reddit", ID: "golang"}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	// Same ID under a different source type is fine.
	if _, err := tr.Add(ctx, Target{Source: "news", ID: "golang"}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if _, err := tr.Add(ctx, Target{Source: "Reddit", ID: "golang"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Add error = %v, want ErrAlreadyExists", err)
	}

	if got := len(tr.ListSource("reddit")); got != 1 {
		t.Fatalf("ListSource(reddit) len = %d, want 1", got)
	}
	if err := tr.Remove(ctx, "reddit", "golang"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if err := tr.Remove(ctx, "reddit", "golang"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove error = %v, want ErrNotFound", err)
	}
}

func countPrimaries(list []Destination) int {
	n := 0
	for _, d := range list {
		if d.Primary {
			n++
		}
	}
	return n
}

func TestDestinationsPrimaryInvariant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDestinations(nil)

	if _, err := d.SetPrimary(ctx, 100, 1); err != nil {
		t.Fatalf("SetPrimary error: %v", err)
	}
	if _, err := d.Add(ctx, 200, 1); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if _, err := d.Add(ctx, 200, 1); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Add error = %v, want ErrAlreadyExists", err)
	}

	// Promoting a new primary clears the previous one in one mutation.
	if _, err := d.SetPrimary(ctx, 200, 1); err != nil {
		t.Fatalf("SetPrimary error: %v", err)
	}
	if n := countPrimaries(d.List()); n != 1 {
		t.Fatalf("primary count = %d, want 1", n)
	}
	p, ok := d.Primary()
	if !ok || p.ChatID != 200 {
		t.Fatalf("Primary() = %+v (ok=%v), want chat 200", p, ok)
	}

	// Removing the primary leaves zero primaries, never two.
	if err := d.Remove(ctx, 200); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if n := countPrimaries(d.List()); n != 0 {
		t.Fatalf("primary count after remove = %d, want 0", n)
	}
	if _, ok := d.Primary(); ok {
		t.Fatal("Primary() reported a destination after the primary was removed")
	}
}

func TestOperatorsCreatorProtected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := NewOperators(nil)

	first, err := o.Bootstrap(ctx, 42, "founder")
	if err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}
	if !first {
		t.Fatal("expected first Bootstrap to claim the creator slot")
	}
	if again, _ := o.Bootstrap(ctx, 43, "late"); again {
		t.Fatal("second Bootstrap must not re-claim the creator slot")
	}

	if _, err := o.Grant(ctx, Operator{UserID: 7, Username: "helper", GrantedBy: 42}); err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if _, err := o.Grant(ctx, Operator{UserID: 7, GrantedBy: 42}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Grant error = %v, want ErrAlreadyExists", err)
	}

	if err := o.Revoke(ctx, 42); !errors.Is(err, ErrProtected) {
		t.Fatalf("Revoke(creator) error = %v, want ErrProtected", err)
	}
	if err := o.Revoke(ctx, 7); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if err := o.Revoke(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Revoke error = %v, want ErrNotFound", err)
	}
	if !o.IsOperator(42) {
		t.Fatal("creator should remain an operator")
	}
}
