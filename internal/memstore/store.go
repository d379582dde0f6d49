// Package memstore is an in-memory trade.Store. A single mutex stands in for the row locks and
// serializable transactions of the Postgres store, so every method is atomic.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"packrip/internal/trade"
)

type Store struct {
	mu       sync.Mutex
	cards    map[string]trade.Card
	traders  map[string]bool
	trades   map[string]trade.Trade
	idem     map[string]string
	failNext error
}

var _ trade.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		cards:   make(map[string]trade.Card),
		traders: make(map[string]bool),
		trades:  make(map[string]trade.Trade),
		idem:    make(map[string]string),
	}
}

// PutUser registers a trader and their allow-trades flag.
func (s *Store) PutUser(userID string, allowTrades bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traders[userID] = allowTrades
}

func (s *Store) PutCard(c trade.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
}

func (s *Store) Card(id string) (trade.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	return c, ok
}

func (s *Store) SetLocked(id string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cards[id]; ok {
		c.Locked = locked
		s.cards[id] = c
	}
}

// Transfer moves a card outside of any trade, standing in for a settlement elsewhere.
func (s *Store) Transfer(id, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cards[id]; ok {
		c.OwnerID = owner
		c.OwnerCount++
		s.cards[id] = c
	}
}

// FailNext makes the next store call return err.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) injected() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) SelectCards(_ context.Context, ids []string) ([]trade.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	out := make([]trade.Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.cards[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) TradesEnabled(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return false, err
	}
	allow, ok := s.traders[userID]
	if !ok {
		return false, trade.ErrUserNotFound
	}
	return allow, nil
}

func (s *Store) InsertTrade(_ context.Context, t trade.Trade, idempotencyKey string) (trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return trade.Trade{}, err
	}
	key := t.FromUserID + "\x00" + idempotencyKey
	if idempotencyKey != "" {
		if _, ok := s.idem[key]; ok {
			return trade.Trade{}, trade.ErrDuplicateRequest
		}
	}
	if allow, ok := s.traders[t.ToUserID]; !ok {
		return trade.Trade{}, trade.ErrUserNotFound
	} else if !allow {
		return trade.Trade{}, trade.ErrTradesDisabled
	}
	if err := trade.CheckOwnership(s.snapshot(t), t); err != nil {
		return trade.Trade{}, err
	}
	if idempotencyKey != "" {
		s.idem[key] = t.ID
	}
	t.OfferedCardIDs = slices.Clone(t.OfferedCardIDs)
	t.RequestedCardIDs = slices.Clone(t.RequestedCardIDs)
	s.trades[t.ID] = t
	return cloneTrade(t), nil
}

func (s *Store) GetTrade(_ context.Context, id string) (trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return trade.Trade{}, err
	}
	t, ok := s.trades[id]
	if !ok {
		return trade.Trade{}, trade.ErrTradeNotFound
	}
	return cloneTrade(t), nil
}

func (s *Store) ListTrades(_ context.Context, f trade.Filter) ([]trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	out := make([]trade.Trade, 0)
	for _, t := range s.trades {
		if f.UserID != "" && !t.Involves(f.UserID) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, cloneTrade(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateTradeStatus(_ context.Context, id string, expected, next trade.Status, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return false, err
	}
	t, ok := s.trades[id]
	if !ok {
		return false, trade.ErrTradeNotFound
	}
	if t.Status != expected {
		return false, nil
	}
	t.Status = next
	t.UpdatedAt = now
	s.trades[id] = t
	return true, nil
}

func (s *Store) AcceptTrade(_ context.Context, id, actingUserID string, now time.Time) (trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return trade.Trade{}, err
	}
	t, ok := s.trades[id]
	if !ok {
		return trade.Trade{}, trade.ErrTradeNotFound
	}
	if t.ToUserID != actingUserID {
		return trade.Trade{}, trade.ErrNotRecipient
	}
	switch {
	case t.Status == trade.StatusExpired:
		return trade.Trade{}, trade.ErrTradeExpired
	case t.Status != trade.StatusPending:
		return trade.Trade{}, trade.ErrNotPending
	case !now.Before(t.ExpiresAt):
		t.Status = trade.StatusExpired
		t.UpdatedAt = now
		s.trades[id] = t
		return trade.Trade{}, trade.ErrTradeExpired
	}
	if err := trade.CheckOwnership(s.snapshot(t), t); err != nil {
		return trade.Trade{}, err
	}

	for _, cid := range t.OfferedCardIDs {
		c := s.cards[cid]
		c.OwnerID = t.ToUserID
		c.OwnerCount++
		s.cards[cid] = c
	}
	for _, cid := range t.RequestedCardIDs {
		c := s.cards[cid]
		c.OwnerID = t.FromUserID
		c.OwnerCount++
		s.cards[cid] = c
	}
	t.Status = trade.StatusAccepted
	t.UpdatedAt = now
	s.trades[id] = t
	return cloneTrade(t), nil
}

func (s *Store) ExpireStale(_ context.Context, now time.Time) ([]trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	var out []trade.Trade
	for id, t := range s.trades {
		if t.Status != trade.StatusPending || t.ExpiresAt.After(now) {
			continue
		}
		t.Status = trade.StatusExpired
		t.UpdatedAt = now
		s.trades[id] = t
		out = append(out, cloneTrade(t))
	}
	return out, nil
}

func (s *Store) snapshot(t trade.Trade) []trade.Card {
	out := make([]trade.Card, 0, len(t.OfferedCardIDs)+len(t.RequestedCardIDs))
	for _, list := range [][]string{t.OfferedCardIDs, t.RequestedCardIDs} {
		for _, id := range list {
			if c, ok := s.cards[id]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func cloneTrade(t trade.Trade) trade.Trade {
	t.OfferedCardIDs = slices.Clone(t.OfferedCardIDs)
	t.RequestedCardIDs = slices.Clone(t.RequestedCardIDs)
	return t
}
