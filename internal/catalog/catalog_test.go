package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseTier(t *testing.T) {
	valid := []struct {
		in   string
		want Tier
	}{
		{"common", TierCommon},
		{" Rare ", TierRare},
		{"LEGENDARY", TierLegendary},
		{"uncommon", TierUncommon},
		{"epic", TierEpic},
	}
	for _, tc := range valid {
		got, err := ParseTier(tc.in)
		if err != nil {
			t.Fatalf("ParseTier(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTier(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseTier("mythic"); err == nil {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestStealValues(t *testing.T) {
	if TierCommon.Stealable() {
		t.Fatal("common must sit below the stealable floor")
	}
	for _, tier := range []Tier{TierUncommon, TierRare, TierEpic, TierLegendary} {
		v, ok := tier.StealValue()
		if !ok || v <= 0 {
			t.Fatalf("tier %v: expected a positive steal value", tier)
		}
	}
	lo, _ := TierUncommon.StealValue()
	hi, _ := TierLegendary.StealValue()
	if hi-lo != 70 {
		t.Fatalf("value span = %d, want 70", hi-lo)
	}
}

func TestCardMatches(t *testing.T) {
	c := Card{Name: "Ember Fox", Aliases: []string{"Ember Fox", "fox"}}
	cases := []struct {
		guess string
		want  bool
	}{
		{"ember fox", true},
		{"  EMBER FOX  ", true},
		{"fox", true},
		{"ember", false},
		{"ember foxx", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := c.Matches(tc.guess); got != tc.want {
			t.Fatalf("Matches(%q) = %v, want %v", tc.guess, got, tc.want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected empty catalog to fail")
	}
	if _, err := New([]Card{{Name: "A", Tier: TierCommon, Weight: 0}}); err == nil {
		t.Fatal("expected zero weight to fail")
	}
	if _, err := New([]Card{
		{Name: "A", Tier: TierCommon, Weight: 1},
		{Name: "A", Tier: TierRare, Weight: 1},
	}); err == nil {
		t.Fatal("expected duplicate name to fail")
	}
	if _, err := New([]Card{{Name: "A", Tier: Tier(42), Weight: 1}}); err == nil {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestNewAddsNameAlias(t *testing.T) {
	cat, err := New([]Card{{Name: "Moon Crab", Aliases: []string{"crab"}, Tier: TierRare, Weight: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	card, ok := cat.ByName("Moon Crab")
	if !ok {
		t.Fatal("card missing from catalog")
	}
	if !card.Matches("moon crab") {
		t.Fatal("display name must always be an accepted alias")
	}

	found, ok := cat.Find("crab")
	if !ok || found.Name != "Moon Crab" {
		t.Fatalf("Find(crab) = %v, %v", found.Name, ok)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	raw := []byte(`cards:
  - name: Ember Fox
    aliases: [fox]
    tier: rare
    weight: 40
    asset: assets/ember_fox.png
  - name: Moon Crab
    tier: common
    weight: 100
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("got %d cards, want 2", cat.Len())
	}
	fox, _ := cat.ByName("Ember Fox")
	if fox.Tier != TierRare || fox.Weight != 40 || fox.Asset != "assets/ember_fox.png" {
		t.Fatalf("unexpected card: %+v", fox)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
