package reward

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"packrip/internal/catalog"

	"github.com/google/uuid"
)

const (
	DefaultPackSize = 3
	// DefaultJitter bounds clarity variance: a pull lands in [base-10, base+9].
	DefaultJitter = 10
)

type Rand interface {
	Float64() float64
	IntN(n int) int
}

// OwnedCard is a minted instance. Display fields are copied from the template at mint time.
type OwnedCard struct {
	ID           string         `json:"id"`
	TemplateID   string         `json:"template_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Image        string         `json:"image"`
	Category     string         `json:"category"`
	Rarity       catalog.Rarity `json:"rarity"`
	ClarityIndex int            `json:"clarity_index"`
	Slot         int            `json:"slot"`
}

type Generator struct {
	catalog *catalog.Catalog
	jitter  int
	newID   func() string

	mu  sync.Mutex
	rng Rand
}

type Option func(*Generator)

func WithRand(r Rand) Option {
	return func(g *Generator) { g.rng = r }
}

func WithIDs(fn func() string) Option {
	return func(g *Generator) { g.newID = fn }
}

func WithJitter(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.jitter = n
		}
	}
}

func New(cat *catalog.Catalog, opts ...Option) *Generator {
	seed := uint64(time.Now().UnixNano())
	g := &Generator{
		catalog: cat,
		jitter:  DefaultJitter,
		newID:   uuid.NewString,
		rng:     rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Catalog() *catalog.Catalog { return g.catalog }

// OpenPack mints requestedCount cards using the catalog's default drop weights.
func (g *Generator) OpenPack(requestedCount int) []OwnedCard {
	return g.draw(g.catalog.Weights(), requestedCount)
}

// Open mints a pack of the given type with its card count and weight override.
func (g *Generator) Open(p catalog.PackType) []OwnedCard {
	return g.draw(g.catalog.PackWeights(p), p.Cards)
}

func (g *Generator) draw(weights catalog.Weights, count int) []OwnedCard {
	if count <= 0 {
		count = DefaultPackSize
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]OwnedCard, 0, count)
	for slot := 0; slot < count; slot++ {
		tier := catalog.TierFor(weights, g.rng.Float64())
		pool := g.catalog.TemplatesFor(tier)
		// Validate guarantees positive-weight tiers are populated.
		tmpl := pool[g.rng.IntN(len(pool))]
		out = append(out, OwnedCard{
			ID:           g.newID(),
			TemplateID:   tmpl.ID,
			Name:         tmpl.Name,
			Description:  tmpl.Description,
			Image:        tmpl.Image,
			Category:     tmpl.Category,
			Rarity:       tier,
			ClarityIndex: g.clarity(tmpl.BaseClarity),
			Slot:         slot,
		})
	}
	return out
}

func (g *Generator) clarity(base int) int {
	if g.jitter == 0 {
		return clamp(base, 0, 100)
	}
	delta := g.rng.IntN(2*g.jitter) - g.jitter
	return clamp(base+delta, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func better(a, b OwnedCard) bool {
	if a.Rarity.Rank() != b.Rarity.Rank() {
		return a.Rarity.Rank() > b.Rarity.Rank()
	}
	return a.ClarityIndex > b.ClarityIndex
}

// BestPull returns the card with the highest (rarity rank, clarity); the first occurrence wins ties.
func BestPull(cards []OwnedCard) (OwnedCard, bool) {
	if len(cards) == 0 {
		return OwnedCard{}, false
	}
	best := cards[0]
	for _, c := range cards[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

// RevealOrder sorts worst-first for the reveal sequence.
func RevealOrder(cards []OwnedCard) []OwnedCard {
	out := slices.Clone(cards)
	slices.SortStableFunc(out, func(a, b OwnedCard) int {
		if d := a.Rarity.Rank() - b.Rarity.Rank(); d != 0 {
			return d
		}
		return a.Slot - b.Slot
	})
	return out
}

// SummaryOrder sorts best-first for result summaries.
func SummaryOrder(cards []OwnedCard) []OwnedCard {
	out := slices.Clone(cards)
	slices.SortStableFunc(out, func(a, b OwnedCard) int {
		if d := b.Rarity.Rank() - a.Rarity.Rank(); d != 0 {
			return d
		}
		return a.Slot - b.Slot
	})
	return out
}

// Odds reports normalised per-tier probabilities for display.
func Odds(w catalog.Weights) map[catalog.Rarity]float64 {
	return w.Odds()
}
