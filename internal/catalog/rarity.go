package catalog

import (
	"fmt"
	"strings"
)

type Rarity int

const (
	Common Rarity = iota + 1
	Rare
	Epic
	Legendary
	Mythic
)

// Tiers is the canonical traversal order for cumulative weight selection, best first.
var Tiers = []Rarity{Mythic, Legendary, Epic, Rare, Common}

var rarityNames = map[Rarity]string{
	Common:    "common",
	Rare:      "rare",
	Epic:      "epic",
	Legendary: "legendary",
	Mythic:    "mythic",
}

func (r Rarity) Valid() bool {
	_, ok := rarityNames[r]
	return ok
}

// Rank is used for best-pull comparisons: common=1 ... mythic=5.
func (r Rarity) Rank() int {
	if !r.Valid() {
		return 0
	}
	return int(r)
}

func (r Rarity) String() string {
	if name, ok := rarityNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rarity(%d)", int(r))
}

// Label is the stored, title-cased form ("Legendary").
func (r Rarity) Label() string {
	name := r.String()
	if !r.Valid() {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func ParseRarity(s string) (Rarity, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for r, name := range rarityNames {
		if name == key {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRarity, s)
}

func (r Rarity) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRarity, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Rarity) UnmarshalText(b []byte) error {
	parsed, err := ParseRarity(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Weights maps a tier to its drop weight. Weights are relative and need not sum to 1.
type Weights map[Rarity]float64

func DefaultWeights() Weights {
	return Weights{
		Mythic:    0.01,
		Legendary: 0.04,
		Epic:      0.15,
		Rare:      0.30,
		Common:    0.50,
	}
}

func (w Weights) Total() float64 {
	var total float64
	for _, tier := range Tiers {
		if v := w[tier]; v > 0 {
			total += v
		}
	}
	return total
}

func (w Weights) Validate() error {
	for r, v := range w {
		if !r.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownRarity, int(r))
		}
		if v < 0 {
			return fmt.Errorf("%w: %s weight %v is negative", ErrInvalidWeights, r, v)
		}
	}
	if w.Total() <= 0 {
		return fmt.Errorf("%w: no tier has a positive weight", ErrInvalidWeights)
	}
	return nil
}

// Odds returns normalised probabilities per tier.
func (w Weights) Odds() map[Rarity]float64 {
	out := make(map[Rarity]float64, len(Tiers))
	total := w.Total()
	for _, tier := range Tiers {
		if total <= 0 || w[tier] <= 0 {
			out[tier] = 0
			continue
		}
		out[tier] = w[tier] / total
	}
	return out
}

// TierFor maps a uniform draw r in [0,1) onto a tier: weights are accumulated in Tiers order and the
// first tier whose cumulative weight reaches r*total wins. Zero-weight tiers are never selected.
// Floating point slop past the last tier falls back to the lowest positive tier.
func TierFor(w Weights, r float64) Rarity {
	total := w.Total()
	if total <= 0 {
		return Common
	}
	target := r * total
	var cumulative float64
	fallback := Common
	for _, tier := range Tiers {
		weight := w[tier]
		if weight <= 0 {
			continue
		}
		fallback = tier
		cumulative += weight
		if cumulative >= target {
			return tier
		}
	}
	return fallback
}
