package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrUnknownRarity     = errors.New("unknown rarity")
	ErrInvalidWeights    = errors.New("invalid drop weights")
	ErrEmptyTier         = errors.New("rarity tier has weight but no templates")
	ErrInvalidTemplate   = errors.New("invalid card template")
	ErrDuplicateTemplate = errors.New("duplicate card template id")
	ErrInvalidPack       = errors.New("invalid pack type")
)

//go:embed catalog.toml
var defaultCatalog []byte

type CardTemplate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Rarity      Rarity `json:"rarity"`
	BaseClarity int    `json:"base_clarity"`
	Category    string `json:"category"`
}

type PackType struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Cost    int64   `json:"cost"`
	Cards   int     `json:"cards"`
	Weights Weights `json:"weights,omitempty"`
}

// Catalog is immutable once built; lookups are safe for concurrent use.
type Catalog struct {
	dropID    string
	weights   Weights
	templates []CardTemplate
	packs     []PackType
	byTier    map[Rarity][]CardTemplate
}

type fileCatalog struct {
	DropID  string             `toml:"drop_id"`
	Weights map[string]float64 `toml:"weights"`
	Packs   []struct {
		ID      string             `toml:"id"`
		Title   string             `toml:"title"`
		Cost    int64              `toml:"cost"`
		Cards   int                `toml:"cards"`
		Weights map[string]float64 `toml:"weights"`
	} `toml:"packs"`
	Cards []struct {
		ID          string `toml:"id"`
		Name        string `toml:"name"`
		Description string `toml:"description"`
		Image       string `toml:"image"`
		Rarity      string `toml:"rarity"`
		BaseClarity int    `toml:"base_clarity"`
		Category    string `toml:"category"`
	} `toml:"cards"`
}

func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	var raw fileCatalog
	if err := toml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	weights, err := parseWeights(raw.Weights)
	if err != nil {
		return nil, err
	}
	if len(weights) == 0 {
		weights = DefaultWeights()
	}

	templates := make([]CardTemplate, 0, len(raw.Cards))
	for _, c := range raw.Cards {
		rarity, err := ParseRarity(c.Rarity)
		if err != nil {
			return nil, fmt.Errorf("card %q: %w", c.ID, err)
		}
		templates = append(templates, CardTemplate{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Image:       c.Image,
			Rarity:      rarity,
			BaseClarity: c.BaseClarity,
			Category:    c.Category,
		})
	}

	packs := make([]PackType, 0, len(raw.Packs))
	for _, p := range raw.Packs {
		pw, err := parseWeights(p.Weights)
		if err != nil {
			return nil, fmt.Errorf("pack %q: %w", p.ID, err)
		}
		packs = append(packs, PackType{ID: p.ID, Title: p.Title, Cost: p.Cost, Cards: p.Cards, Weights: pw})
	}

	return New(raw.DropID, weights, templates, packs)
}

func parseWeights(in map[string]float64) (Weights, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(Weights, len(in))
	for k, v := range in {
		r, err := ParseRarity(k)
		if err != nil {
			return nil, err
		}
		out[r] = v
	}
	return out, nil
}

// New indexes and validates a catalog. A validation error here is a fatal startup condition.
func New(dropID string, weights Weights, templates []CardTemplate, packs []PackType) (*Catalog, error) {
	c := &Catalog{
		dropID:    strings.TrimSpace(dropID),
		weights:   weights,
		templates: append([]CardTemplate(nil), templates...),
		packs:     append([]PackType(nil), packs...),
		byTier:    make(map[Rarity][]CardTemplate),
	}
	for _, t := range c.templates {
		c.byTier[t.Rarity] = append(c.byTier[t.Rarity], t)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.templates))
	for _, t := range c.templates {
		if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: id and name are required", ErrInvalidTemplate)
		}
		if !t.Rarity.Valid() {
			return fmt.Errorf("%w: %s has no rarity", ErrInvalidTemplate, t.ID)
		}
		if t.BaseClarity < 0 || t.BaseClarity > 100 {
			return fmt.Errorf("%w: %s base clarity %d outside 0..100", ErrInvalidTemplate, t.ID, t.BaseClarity)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTemplate, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	if err := c.checkWeights(c.weights); err != nil {
		return err
	}

	packIDs := make(map[string]struct{}, len(c.packs))
	for _, p := range c.packs {
		if strings.TrimSpace(p.ID) == "" || p.Cards <= 0 || p.Cost < 0 {
			return fmt.Errorf("%w: %q needs an id, a positive card count and a non-negative cost", ErrInvalidPack, p.ID)
		}
		if _, dup := packIDs[p.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidPack, p.ID)
		}
		packIDs[p.ID] = struct{}{}
		if len(p.Weights) > 0 {
			if err := c.checkWeights(p.Weights); err != nil {
				return fmt.Errorf("pack %q: %w", p.ID, err)
			}
		}
	}
	return nil
}

func (c *Catalog) checkWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	for _, tier := range Tiers {
		if w[tier] > 0 && len(c.byTier[tier]) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyTier, tier)
		}
	}
	return nil
}

func (c *Catalog) DropID() string { return c.dropID }

func (c *Catalog) Weights() Weights {
	out := make(Weights, len(c.weights))
	for k, v := range c.weights {
		out[k] = v
	}
	return out
}

func (c *Catalog) Templates() []CardTemplate {
	return append([]CardTemplate(nil), c.templates...)
}

// TemplatesFor returns the templates of one tier. The slice must not be modified.
func (c *Catalog) TemplatesFor(r Rarity) []CardTemplate {
	return c.byTier[r]
}

func (c *Catalog) Packs() []PackType {
	return append([]PackType(nil), c.packs...)
}

func (c *Catalog) Pack(id string) (PackType, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range c.packs {
		if p.ID == id {
			return p, true
		}
	}
	return PackType{}, false
}

// PackWeights resolves the effective drop weights of a pack type.
func (c *Catalog) PackWeights(p PackType) Weights {
	if len(p.Weights) > 0 {
		return p.Weights
	}
	return c.weights
}
