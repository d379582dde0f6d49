package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"packrip/internal/auth"

	"github.com/google/uuid"
)

const DefaultLockWindow = 12 * time.Hour

type Engine struct {
	store      Store
	log        *slog.Logger
	now        func() time.Time
	newID      func() string
	lockWindow time.Duration
	observe    func(op string, err error)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLockWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockWindow = d
		}
	}
}

func WithIDs(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithObserver registers a callback invoked once per operation with its outcome.
func WithObserver(fn func(op string, err error)) Option {
	return func(e *Engine) { e.observe = fn }
}

func NewEngine(store Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:      store,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		lockWindow: DefaultLockWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) LockWindow() time.Duration { return e.lockWindow }

func (e *Engine) Propose(ctx context.Context, id auth.Identity, p Proposal) (out Trade, err error) {
	defer e.done("propose", &err)
	if err := writable(id); err != nil {
		return out, err
	}
	from := id.UserID()
	to := strings.TrimSpace(p.ToUserID)
	offered := trimIDs(p.OfferedCardIDs)
	requested := trimIDs(p.RequestedCardIDs)

	if to == "" {
		return out, ErrNoRecipient
	}
	if from == to {
		return out, ErrSelfTrade
	}
	if len(offered) == 0 || len(requested) == 0 {
		return out, ErrEmptySelection
	}
	if dup, ok := firstDuplicate(offered, requested); ok {
		return out, fmt.Errorf("%w: %s", ErrDuplicateCard, dup)
	}

	enabled, err := e.store.TradesEnabled(ctx, to)
	if err != nil {
		return out, e.storeErr("trades enabled", err)
	}
	if !enabled {
		return out, ErrTradesDisabled
	}

	all := append(append([]string(nil), offered...), requested...)
	cards, err := e.store.SelectCards(ctx, all)
	if err != nil {
		return out, e.storeErr("select cards", err)
	}
	if err := checkSide(cards, offered, from, ErrCardNotOwned); err != nil {
		return out, err
	}
	if err := checkSide(cards, requested, to, ErrCardNotOwned); err != nil {
		return out, err
	}

	now := e.now()
	t := Trade{
		ID:               e.newID(),
		FromUserID:       from,
		ToUserID:         to,
		OfferedCardIDs:   offered,
		RequestedCardIDs: requested,
		Status:           StatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.lockWindow),
		UpdatedAt:        now,
	}
	created, err := e.store.InsertTrade(ctx, t, strings.TrimSpace(p.IdempotencyKey))
	if err != nil {
		return out, e.storeErr("insert trade", err)
	}
	e.log.Info("trade proposed", "trade_id", created.ID, "from", from, "to", to,
		"offered", len(offered), "requested", len(requested))
	return created, nil
}

func (e *Engine) Accept(ctx context.Context, id auth.Identity, tradeID string) (out Trade, err error) {
	defer e.done("accept", &err)
	t, err := e.pendingFor(ctx, id, tradeID, roleRecipient)
	if err != nil {
		return out, err
	}
	now := e.now()
	if !now.Before(t.ExpiresAt) {
		return out, e.expire(ctx, t, now)
	}
	accepted, err := e.store.AcceptTrade(ctx, t.ID, id.UserID(), now)
	if err != nil {
		return out, e.storeErr("accept trade", err)
	}
	e.log.Info("trade accepted", "trade_id", t.ID, "from", t.FromUserID, "to", t.ToUserID)
	return accepted, nil
}

func (e *Engine) Decline(ctx context.Context, id auth.Identity, tradeID string) (Trade, error) {
	t, err := e.transition(ctx, id, tradeID, roleRecipient, StatusDeclined)
	e.done("decline", &err)
	return t, err
}

func (e *Engine) Cancel(ctx context.Context, id auth.Identity, tradeID string) (Trade, error) {
	t, err := e.transition(ctx, id, tradeID, roleProposer, StatusCancelled)
	e.done("cancel", &err)
	return t, err
}

// ExpireStale is the maintenance sweep. It runs as the system and is safe to call concurrently.
func (e *Engine) ExpireStale(ctx context.Context) (out []Trade, err error) {
	defer e.done("expire", &err)
	expired, err := e.store.ExpireStale(ctx, e.now())
	if err != nil {
		return nil, e.storeErr("expire stale", err)
	}
	if len(expired) > 0 {
		e.log.Info("expired stale trades", "count", len(expired))
	}
	return expired, nil
}

// List returns the caller's trades, newest first, after an opportunistic expiry sweep.
func (e *Engine) List(ctx context.Context, id auth.Identity, f Filter) ([]Trade, error) {
	if id == nil {
		return nil, ErrReadOnlyIdentity
	}
	if !id.CanWrite() {
		return []Trade{}, nil
	}
	if _, err := e.ExpireStale(ctx); err != nil {
		e.log.Warn("opportunistic expiry sweep failed", "err", err)
	}
	f.UserID = id.UserID()
	trades, err := e.store.ListTrades(ctx, f)
	if err != nil {
		return nil, e.storeErr("list trades", err)
	}
	return trades, nil
}

func (e *Engine) Get(ctx context.Context, id auth.Identity, tradeID string) (Trade, error) {
	if id == nil {
		return Trade{}, ErrReadOnlyIdentity
	}
	t, err := e.store.GetTrade(ctx, strings.TrimSpace(tradeID))
	if err != nil {
		return Trade{}, e.storeErr("get trade", err)
	}
	if !t.Involves(id.UserID()) {
		return Trade{}, ErrNotParty
	}
	return t, nil
}

type role int

const (
	roleRecipient role = iota
	roleProposer
)

func (e *Engine) transition(ctx context.Context, id auth.Identity, tradeID string, r role, next Status) (Trade, error) {
	t, err := e.pendingFor(ctx, id, tradeID, r)
	if err != nil {
		return Trade{}, err
	}
	now := e.now()
	if !now.Before(t.ExpiresAt) {
		return Trade{}, e.expire(ctx, t, now)
	}
	ok, err := e.store.UpdateTradeStatus(ctx, t.ID, StatusPending, next, now)
	if err != nil {
		return Trade{}, e.storeErr("update trade status", err)
	}
	if !ok {
		return Trade{}, e.lostRace(ctx, t.ID)
	}
	t.Status = next
	t.UpdatedAt = now
	e.log.Info("trade resolved", "trade_id", t.ID, "status", next)
	return t, nil
}

// pendingFor loads a trade and checks that the identity holds the role the operation needs.
func (e *Engine) pendingFor(ctx context.Context, id auth.Identity, tradeID string, r role) (Trade, error) {
	if err := writable(id); err != nil {
		return Trade{}, err
	}
	tradeID = strings.TrimSpace(tradeID)
	if tradeID == "" {
		return Trade{}, ErrTradeNotFound
	}
	t, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return Trade{}, e.storeErr("get trade", err)
	}
	actor := id.UserID()
	if !t.Involves(actor) {
		return Trade{}, ErrNotParty
	}
	switch r {
	case roleRecipient:
		if actor != t.ToUserID {
			return Trade{}, ErrNotRecipient
		}
	case roleProposer:
		if actor != t.FromUserID {
			return Trade{}, ErrNotProposer
		}
	}
	return t, statusErr(t.Status)
}

func (e *Engine) expire(ctx context.Context, t Trade, now time.Time) error {
	ok, err := e.store.UpdateTradeStatus(ctx, t.ID, StatusPending, StatusExpired, now)
	if err != nil {
		return e.storeErr("expire trade", err)
	}
	if !ok {
		return e.lostRace(ctx, t.ID)
	}
	e.log.Info("trade expired on access", "trade_id", t.ID)
	return ErrTradeExpired
}

// lostRace reports why a compare-and-swap found the trade no longer pending.
func (e *Engine) lostRace(ctx context.Context, tradeID string) error {
	t, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return e.storeErr("reload trade", err)
	}
	if err := statusErr(t.Status); err != nil {
		return err
	}
	return ErrNotPending
}

func (e *Engine) storeErr(op string, err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.log.Error("trade store failure", "op", op, "err", err)
	return transient(op, err)
}

func (e *Engine) done(op string, errp *error) {
	if e.observe != nil {
		e.observe(op, *errp)
	}
}

func statusErr(s Status) error {
	switch s {
	case StatusPending:
		return nil
	case StatusExpired:
		return ErrTradeExpired
	default:
		return fmt.Errorf("%w: %s", ErrNotPending, s)
	}
}

func writable(id auth.Identity) error {
	if id == nil || !id.CanWrite() || strings.TrimSpace(id.UserID()) == "" {
		return ErrReadOnlyIdentity
	}
	return nil
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func firstDuplicate(lists ...[]string) (string, bool) {
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				return id, true
			}
			seen[id] = struct{}{}
		}
	}
	return "", false
}

func checkSide(cards []Card, ids []string, owner string, notOwned error) error {
	byID := make(map[string]Card, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
	}
	for _, id := range ids {
		c, ok := byID[id]
		if !ok || c.OwnerID != owner {
			return fmt.Errorf("%w: %s", notOwned, id)
		}
		if c.Locked {
			return fmt.Errorf("%w: %s", ErrCardLocked, id)
		}
	}
	return nil
}

// CheckOwnership validates both sides of a trade against a snapshot of its cards. Stores call it
// under their row locks; drift is reported as ErrOwnershipChanged.
func CheckOwnership(cards []Card, t Trade) error {
	if err := checkSide(cards, t.OfferedCardIDs, t.FromUserID, ErrOwnershipChanged); err != nil {
		return driftErr(err)
	}
	if err := checkSide(cards, t.RequestedCardIDs, t.ToUserID, ErrOwnershipChanged); err != nil {
		return driftErr(err)
	}
	return nil
}

func driftErr(err error) error {
	if errors.Is(err, ErrCardLocked) {
		return fmt.Errorf("%w: %v", ErrOwnershipChanged, err)
	}
	return err
}
