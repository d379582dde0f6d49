package catalog

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if c.DropID() != "001" {
		t.Fatalf("drop id = %q", c.DropID())
	}
	for _, tier := range Tiers {
		if len(c.TemplatesFor(tier)) == 0 {
			t.Fatalf("tier %s has no templates", tier)
		}
	}
	for _, id := range []string{"basic", "premium", "mega"} {
		if _, ok := c.Pack(id); !ok {
			t.Fatalf("missing pack type %q", id)
		}
	}
	basic, _ := c.Pack("BASIC")
	if basic.Cards != 3 || basic.Cost != 100 {
		t.Fatalf("basic pack = %+v", basic)
	}
}

func TestParseRarityCaseInsensitive(t *testing.T) {
	tests := []struct {
		in   string
		want Rarity
	}{
		{"common", Common},
		{"Legendary", Legendary},
		{" MYTHIC ", Mythic},
		{"ePiC", Epic},
	}
	for _, tc := range tests {
		got, err := ParseRarity(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q = %s want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParseRarity("shiny"); !errors.Is(err, ErrUnknownRarity) {
		t.Fatalf("expected ErrUnknownRarity, got %v", err)
	}
}

func TestRankOrder(t *testing.T) {
	for i := 1; i < len(Tiers); i++ {
		if Tiers[i-1].Rank() <= Tiers[i].Rank() {
			t.Fatalf("%s should outrank %s", Tiers[i-1], Tiers[i])
		}
	}
	if Common.Rank() != 1 || Mythic.Rank() != 5 {
		t.Fatalf("unexpected ranks common=%d mythic=%d", Common.Rank(), Mythic.Rank())
	}
	if Legendary.Label() != "Legendary" {
		t.Fatalf("label = %q", Legendary.Label())
	}
}

func TestTierFor(t *testing.T) {
	w := DefaultWeights()
	tests := []struct {
		r    float64
		want Rarity
	}{
		{0, Mythic},
		{0.0099, Mythic},
		{0.011, Legendary},
		{0.049, Legendary},
		{0.051, Epic},
		{0.199, Epic},
		{0.201, Rare},
		{0.499, Rare},
		{0.501, Common},
		{0.9999999, Common},
	}
	for _, tc := range tests {
		if got := TierFor(w, tc.r); got != tc.want {
			t.Fatalf("TierFor(%v) = %s want %s", tc.r, got, tc.want)
		}
	}
}

func TestTierForSkipsZeroWeights(t *testing.T) {
	w := Weights{Common: 1}
	for _, r := range []float64{0, 0.3, 0.999} {
		if got := TierFor(w, r); got != Common {
			t.Fatalf("TierFor(%v) = %s want common", r, got)
		}
	}
}

func TestTierForUnnormalisedWeights(t *testing.T) {
	w := Weights{Rare: 3, Common: 1}
	if got := TierFor(w, 0.74); got != Rare {
		t.Fatalf("got %s want rare", got)
	}
	if got := TierFor(w, 0.76); got != Common {
		t.Fatalf("got %s want common", got)
	}
}

func TestValidateEmptyTier(t *testing.T) {
	templates := []CardTemplate{{ID: "c1", Name: "Only", Rarity: Common, BaseClarity: 50}}
	if _, err := New("t", Weights{Common: 1, Rare: 0.5}, templates, nil); !errors.Is(err, ErrEmptyTier) {
		t.Fatalf("expected ErrEmptyTier, got %v", err)
	}
	if _, err := New("t", Weights{Common: 1, Mythic: 0}, templates, nil); err != nil {
		t.Fatalf("zero-weight empty tier should be allowed: %v", err)
	}
	if _, err := New("t", Weights{Common: 0}, templates, nil); !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}
}

func TestValidateTemplates(t *testing.T) {
	tests := []struct {
		name      string
		templates []CardTemplate
		want      error
	}{
		{"clarity too high", []CardTemplate{{ID: "a", Name: "A", Rarity: Common, BaseClarity: 101}}, ErrInvalidTemplate},
		{"missing name", []CardTemplate{{ID: "a", Rarity: Common}}, ErrInvalidTemplate},
		{"duplicate", []CardTemplate{
			{ID: "a", Name: "A", Rarity: Common, BaseClarity: 1},
			{ID: "a", Name: "B", Rarity: Common, BaseClarity: 1},
		}, ErrDuplicateTemplate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New("t", Weights{Common: 1}, tc.templates, nil); !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestLoadRejectsUnknownRarity(t *testing.T) {
	doc := `
[[cards]]
id = "x"
name = "X"
rarity = "shiny"
base_clarity = 10
`
	if _, err := Load(strings.NewReader(doc)); !errors.Is(err, ErrUnknownRarity) {
		t.Fatalf("expected ErrUnknownRarity, got %v", err)
	}
}

func TestOddsNormalise(t *testing.T) {
	odds := Weights{Rare: 3, Common: 1}.Odds()
	if odds[Rare] != 0.75 || odds[Common] != 0.25 || odds[Mythic] != 0 {
		t.Fatalf("odds = %v", odds)
	}
}
