package game

import (
	"time"

	"packrip/internal/catalog"
	"packrip/internal/reward"
)

type Profile struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Username         string     `json:"username"`
	Handle           string     `json:"handle"`
	ClaimedUsername  bool       `json:"claimed_username"`
	Points           int64      `json:"points"`
	AllowTrades      bool       `json:"allow_trades"`
	DailyStreak      int        `json:"daily_streak"`
	LastDailyClaimAt *time.Time `json:"last_daily_claim_at,omitempty"`
	LastSpinAt       *time.Time `json:"last_spin_at,omitempty"`
	TradeRef         string     `json:"trade_ref"`
	UnopenedPacks    int        `json:"unopened_packs"`
	LocalOverride    bool       `json:"local_override,omitempty"`
}

type Pack struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	PackType  string     `json:"pack_type"`
	DropID    string     `json:"drop_id"`
	Opened    bool       `json:"opened"`
	CreatedAt time.Time  `json:"created_at"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
}

type Card struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id,omitempty"`
	TemplateID   string         `json:"template_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Image        string         `json:"image"`
	Category     string         `json:"category"`
	Rarity       catalog.Rarity `json:"rarity"`
	ClarityIndex int            `json:"clarity_index"`
	Grade        string         `json:"grade"`
	Locked       bool           `json:"locked"`
	OwnerCount   int            `json:"owner_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

type OpenResult struct {
	Pack     Pack               `json:"pack"`
	Cards    []reward.OwnedCard `json:"cards"`
	BestPull reward.OwnedCard   `json:"best_pull"`
}

type PurchaseResult struct {
	Packs  []Pack `json:"packs"`
	Points int64  `json:"points"`
}

type TopUpResult struct {
	Bundle Bundle `json:"bundle"`
	Points int64  `json:"points"`
}

type DailyResult struct {
	Streak    int   `json:"streak"`
	CycleDay  int   `json:"cycle_day"`
	Reward    int64 `json:"reward"`
	Points    int64 `json:"points"`
	BonusPack *Pack `json:"bonus_pack,omitempty"`
}

type SpinResult struct {
	Card       reward.OwnedCard `json:"card"`
	NextSpinAt time.Time        `json:"next_spin_at"`
}

type CollectionFilter struct {
	Rarity        catalog.Rarity
	Grade         string
	TradeableOnly bool
	Limit         int
}

// Trader is what other users may learn about a counterparty.
type Trader struct {
	Username string `json:"username"`
	TradeRef string `json:"trade_ref"`
}
