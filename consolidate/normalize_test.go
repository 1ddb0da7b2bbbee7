package consolidate

import (
	"testing"

	"github.com/jmurren/spintally/rules"
)

// ------------------------------------------------------
// Grouping keys
// ------------------------------------------------------

func TestKey_CaseAndWhitespaceFold(t *testing.T) {
	store := rules.Store{}

	a := Key(store, "The Beatles", "Abbey Road")
	b := Key(store, "the beatles", "  abbey road  ")
	if a != b {
		t.Fatalf("expected identical keys, got %q vs %q", a, b)
	}

	c := Key(store, "The Beatles", "Abbey Road (Remastered)")
	if a == c {
		t.Fatalf("differently-spelled names must not share a key without a rule")
	}
}

func TestKey_UnknownAttributionSentinel(t *testing.T) {
	store := rules.Store{}

	a := Key(store, "", "Intro")
	b := Key(store, "   ", "Intro")
	if a != b {
		t.Fatalf("blank attributions should share the sentinel, got %q vs %q", a, b)
	}

	c := Key(store, "unknown artist", "Intro")
	if a != c {
		t.Fatalf("sentinel key should match the literal sentinel attribution")
	}
}

func TestKey_RuleOverride(t *testing.T) {
	store := rules.Store{}.WithRule(rules.Rule{
		Attribution: "the beatles",
		Canonical:   "Abbey Road",
		Variants:    []string{"abbey road (remastered)"},
		Source:      "interactive",
	})

	a := Key(store, "The Beatles", "Abbey Road")
	b := Key(store, "The Beatles", "Abbey Road (Remastered)")
	if a != b {
		t.Fatalf("rule should map variant onto canonical key, got %q vs %q", a, b)
	}

	// Same name under another artist is untouched by the rule.
	c := Key(store, "Some Tribute Band", "Abbey Road (Remastered)")
	if c == a {
		t.Fatalf("rules are scoped to one attribution")
	}
}

// ------------------------------------------------------
// Heuristic base names
// ------------------------------------------------------

func TestBaseName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Abbey Road", "abbey road"},
		{"Abbey Road (Remastered)", "abbey road"},
		{"Abbey Road [2009 Digital Remaster]", "abbey road"},
		{"Abbey Road - Deluxe Edition", "abbey road"},
		{"Abbey Road: Anniversary Version", "abbey road"},
		{"OK Computer remasterd", "ok computer"},
		{"Amélie", "amelie"},
		{"  Spaced   Out  ", "spaced out"},
	}
	for _, c := range cases {
		if got := BaseName(c.in); got != c.want {
			t.Fatalf("BaseName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBaseName_QualifierOnlyNameKeepsFoldedForm(t *testing.T) {
	// A song literally titled "Deluxe" must not cluster with every name
	// that strips down to nothing.
	if got := BaseName("Deluxe"); got != "deluxe" {
		t.Fatalf("BaseName(\"Deluxe\") = %q, want \"deluxe\"", got)
	}
}

func TestFoldAttribution(t *testing.T) {
	if got := FoldAttribution(" The Beatles "); got != "the beatles" {
		t.Fatalf("got %q", got)
	}
	if got := FoldAttribution(""); got != UnknownAttribution {
		t.Fatalf("blank attribution should fold to sentinel, got %q", got)
	}
}
