package trade

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal states are absorbing.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown trade status %q", s)
	}
}

type Trade struct {
	ID               string    `json:"id"`
	FromUserID       string    `json:"from_user_id"`
	ToUserID         string    `json:"to_user_id"`
	OfferedCardIDs   []string  `json:"offered_card_ids"`
	RequestedCardIDs []string  `json:"requested_card_ids"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (t Trade) Involves(userID string) bool {
	return userID != "" && (t.FromUserID == userID || t.ToUserID == userID)
}

// Card is the ownership view of a minted card.
type Card struct {
	ID         string
	OwnerID    string
	Locked     bool
	OwnerCount int
}

type Filter struct {
	UserID string
	Status Status
	Limit  int
}

type Proposal struct {
	ToUserID         string   `json:"to_user_id"`
	OfferedCardIDs   []string `json:"offered_card_ids"`
	RequestedCardIDs []string `json:"requested_card_ids"`
	IdempotencyKey   string   `json:"-"`
}

// Store is the persistence contract of the engine. Every mutation is conditional at the storage
// layer: InsertTrade re-checks ownership and the recipient's allow_trades under row locks,
// UpdateTradeStatus is a compare-and-swap on status and AcceptTrade swaps ownership and flips
// status as one unit.
type Store interface {
	SelectCards(ctx context.Context, ids []string) ([]Card, error)
	TradesEnabled(ctx context.Context, userID string) (bool, error)
	InsertTrade(ctx context.Context, t Trade, idempotencyKey string) (Trade, error)
	GetTrade(ctx context.Context, id string) (Trade, error)
	ListTrades(ctx context.Context, f Filter) ([]Trade, error)
	UpdateTradeStatus(ctx context.Context, id string, expected, next Status, now time.Time) (bool, error)
	AcceptTrade(ctx context.Context, id, actingUserID string, now time.Time) (Trade, error)
	ExpireStale(ctx context.Context, now time.Time) ([]Trade, error)
}
