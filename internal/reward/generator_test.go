package reward

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"packrip/internal/catalog"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed*31+7))
}

func singleCommonCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New("test", catalog.Weights{catalog.Common: 1},
		[]catalog.CardTemplate{{ID: "common-only", Name: "Only", Rarity: catalog.Common, BaseClarity: 50}}, nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func TestOpenPackSingleCommonTemplate(t *testing.T) {
	g := New(singleCommonCatalog(t), WithRand(seeded(1)))
	for i := 0; i < 200; i++ {
		cards := g.OpenPack(3)
		if len(cards) != 3 {
			t.Fatalf("got %d cards", len(cards))
		}
		for _, c := range cards {
			if c.Rarity != catalog.Common {
				t.Fatalf("rarity = %s", c.Rarity)
			}
			if c.ClarityIndex < 40 || c.ClarityIndex > 59 {
				t.Fatalf("clarity %d outside [40,59]", c.ClarityIndex)
			}
			if c.TemplateID != "common-only" || c.Name != "Only" {
				t.Fatalf("unexpected template copy %+v", c)
			}
		}
	}
}

func TestOpenPackDefaultCount(t *testing.T) {
	g := New(singleCommonCatalog(t), WithRand(seeded(2)))
	if got := len(g.OpenPack(0)); got != DefaultPackSize {
		t.Fatalf("got %d want %d", got, DefaultPackSize)
	}
}

func TestOpenPackUniqueIDsAndSlots(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	g := New(cat, WithRand(seeded(3)), WithIDs(func() string {
		n++
		return fmt.Sprintf("card-%d", n)
	}))
	cards := g.OpenPack(7)
	seen := map[string]bool{}
	for i, c := range cards {
		if seen[c.ID] {
			t.Fatalf("duplicate id %s", c.ID)
		}
		seen[c.ID] = true
		if c.Slot != i {
			t.Fatalf("slot %d at index %d", c.Slot, i)
		}
	}
}

func TestClarityBounds(t *testing.T) {
	templates := []catalog.CardTemplate{
		{ID: "zero", Name: "Zero", Rarity: catalog.Common, BaseClarity: 0},
		{ID: "three", Name: "Three", Rarity: catalog.Common, BaseClarity: 3},
		{ID: "ninety-seven", Name: "NinetySeven", Rarity: catalog.Common, BaseClarity: 97},
		{ID: "hundred", Name: "Hundred", Rarity: catalog.Common, BaseClarity: 100},
	}
	cat, err := catalog.New("edge", catalog.Weights{catalog.Common: 1}, templates, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := New(cat, WithRand(seeded(4)))
	for _, c := range g.OpenPack(20_000) {
		if c.ClarityIndex < 0 || c.ClarityIndex > 100 {
			t.Fatalf("clarity %d out of range for %s", c.ClarityIndex, c.TemplateID)
		}
	}
}

func TestDistributionMatchesWeights(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	const n = 100_000
	g := New(cat, WithRand(seeded(5)), WithIDs(func() string { return "x" }))
	counts := map[catalog.Rarity]int{}
	for _, c := range g.OpenPack(n) {
		counts[c.Rarity]++
	}

	mythic := float64(counts[catalog.Mythic]) / n
	if mythic < 0.005 || mythic > 0.02 {
		t.Fatalf("mythic frequency %.4f outside [0.005, 0.02]", mythic)
	}
	for tier, want := range cat.Weights().Odds() {
		got := float64(counts[tier]) / n
		// five standard errors
		tol := 5 * math.Sqrt(want*(1-want)/n)
		if math.Abs(got-want) > tol {
			t.Fatalf("%s frequency %.4f want %.4f±%.4f", tier, got, want, tol)
		}
	}
}

func TestOpenUsesPackWeights(t *testing.T) {
	templates := []catalog.CardTemplate{
		{ID: "c", Name: "C", Rarity: catalog.Common, BaseClarity: 40},
		{ID: "m", Name: "M", Rarity: catalog.Mythic, BaseClarity: 90},
	}
	packs := []catalog.PackType{{ID: "whale", Cards: 4, Weights: catalog.Weights{catalog.Mythic: 1}}}
	cat, err := catalog.New("t", catalog.Weights{catalog.Common: 1}, templates, packs)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := cat.Pack("whale")
	cards := New(cat, WithRand(seeded(6))).Open(p)
	if len(cards) != 4 {
		t.Fatalf("got %d cards", len(cards))
	}
	for _, c := range cards {
		if c.Rarity != catalog.Mythic {
			t.Fatalf("rarity = %s", c.Rarity)
		}
	}
}

func TestBestPull(t *testing.T) {
	cards := []OwnedCard{
		{ID: "a", Rarity: catalog.Rare, ClarityIndex: 70, Slot: 0},
		{ID: "b", Rarity: catalog.Epic, ClarityIndex: 30, Slot: 1},
		{ID: "c", Rarity: catalog.Epic, ClarityIndex: 55, Slot: 2},
		{ID: "d", Rarity: catalog.Epic, ClarityIndex: 55, Slot: 3},
		{ID: "e", Rarity: catalog.Common, ClarityIndex: 99, Slot: 4},
	}
	best, ok := BestPull(cards)
	if !ok || best.ID != "c" {
		t.Fatalf("best = %+v", best)
	}
	if _, ok := BestPull(nil); ok {
		t.Fatalf("expected no best pull for empty input")
	}
}

func TestPresentationOrders(t *testing.T) {
	cards := []OwnedCard{
		{ID: "a", Rarity: catalog.Rare, Slot: 0},
		{ID: "b", Rarity: catalog.Mythic, Slot: 1},
		{ID: "c", Rarity: catalog.Common, Slot: 2},
		{ID: "d", Rarity: catalog.Rare, Slot: 3},
	}
	ids := func(cs []OwnedCard) string {
		s := ""
		for _, c := range cs {
			s += c.ID
		}
		return s
	}
	if got := ids(RevealOrder(cards)); got != "cadb" {
		t.Fatalf("reveal order = %s", got)
	}
	if got := ids(SummaryOrder(cards)); got != "badc" {
		t.Fatalf("summary order = %s", got)
	}
	if ids(cards) != "abcd" {
		t.Fatalf("input was reordered")
	}
}
