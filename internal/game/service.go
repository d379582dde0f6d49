package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"packrip/internal/catalog"
	"packrip/internal/db"
	"packrip/internal/reward"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profileColumns = `id, email, coalesce(username, ''), claimed_username, points, allow_trades, daily_streak, last_daily_claim_at, last_spin_at, trade_ref`

const cardColumns = `id, owner_id, template_id, name, description, image, category, rarity, clarity_index, grade, locked, owner_count, created_at`

type Service struct {
	db     *pgxpool.Pool
	log    *slog.Logger
	gen    *reward.Generator
	refKey []byte
	now    func() time.Time
}

func NewService(pool *pgxpool.Pool, gen *reward.Generator, tradeRefKey []byte, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     pool,
		log:    logger,
		gen:    gen,
		refKey: tradeRefKey,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Catalog() *catalog.Catalog { return s.gen.Catalog() }

func (s *Service) EnsureProfile(ctx context.Context, userID, email string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, email, points, allow_trades, trade_ref)
		VALUES ($1, $2, $3, true, $4)
		ON CONFLICT (id) DO NOTHING
	`, userID, strings.TrimSpace(email), StarterPoints, TradeRef(s.refKey, userID))
	return err
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if p.UnopenedPacks, err = s.UnopenedCount(ctx, userID); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LocalProfile is the synthetic, non-persisted profile of a local override identity.
func LocalProfile(userID string) Profile {
	return Profile{
		ID:            userID,
		Email:         "admin@local",
		Username:      "admin",
		Handle:        "admin",
		Points:        999_999,
		LocalOverride: true,
	}
}

func (s *Service) ClaimUsername(ctx context.Context, userID, name string) (Profile, error) {
	clean, err := ValidateUsername(name)
	if err != nil {
		return Profile{}, err
	}
	err = db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		var claimed bool
		if err := tx.QueryRow(ctx, `SELECT claimed_username FROM profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&claimed); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProfileNotFound
			}
			return err
		}
		if claimed {
			return ErrUsernameClaimed
		}
		var taken bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM profiles WHERE lower(username) = lower($1) AND id <> $2)
		`, clean, userID).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return ErrUsernameTaken
		}
		_, err := tx.Exec(ctx, `
			UPDATE profiles SET username = $2, claimed_username = true, updated_at = now()
			WHERE id = $1
		`, userID, clean)
		if db.IsUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	s.log.Info("username claimed", "user_id", userID, "username", clean)
	return s.Profile(ctx, userID)
}

func (s *Service) SetAllowTrades(ctx context.Context, userID string, allow bool) error {
	cmd, err := s.db.Exec(ctx, `UPDATE profiles SET allow_trades = $2, updated_at = now() WHERE id = $1`, userID, allow)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// TopUp credits a bundle. Payment is not collected.
func (s *Service) TopUp(ctx context.Context, userID, bundleID, idem string) (TopUpResult, error) {
	bundle, ok := BundleByID(bundleID)
	if !ok {
		return TopUpResult{}, ErrUnknownBundle
	}
	out := TopUpResult{Bundle: bundle}
	err := db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		if err := claim(ctx, tx, userID, idem, "topup"); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			UPDATE profiles SET points = points + $2, updated_at = now()
			WHERE id = $1
			RETURNING points
		`, userID, bundle.Points).Scan(&out.Points)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return TopUpResult{}, ErrProfileNotFound
	}
	if err != nil {
		return TopUpResult{}, err
	}
	s.log.Info("top up", "user_id", userID, "bundle", bundle.ID, "points", out.Points)
	return out, nil
}

func (s *Service) BuyPacks(ctx context.Context, userID, packType string, quantity int, idem string) (PurchaseResult, error) {
	pt, ok := s.Catalog().Pack(packType)
	if !ok {
		return PurchaseResult{}, ErrUnknownPackType
	}
	if quantity <= 0 || quantity > MaxPacksPerPurchase {
		return PurchaseResult{}, ErrInvalidQuantity
	}
	cost := pt.Cost * int64(quantity)
	var out PurchaseResult
	err := db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		out = PurchaseResult{}
		if err := claim(ctx, tx, userID, idem, "buy_packs"); err != nil {
			return err
		}
		var points int64
		if err := tx.QueryRow(ctx, `SELECT points FROM profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&points); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProfileNotFound
			}
			return err
		}
		if points < cost {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, cost, points)
		}
		if _, err := tx.Exec(ctx, `UPDATE profiles SET points = points - $2, updated_at = now() WHERE id = $1`, userID, cost); err != nil {
			return err
		}
		out.Points = points - cost
		now := s.now()
		for i := 0; i < quantity; i++ {
			p, err := insertPack(ctx, tx, userID, pt.ID, s.Catalog().DropID(), now)
			if err != nil {
				return err
			}
			out.Packs = append(out.Packs, p)
		}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.log.Info("packs purchased", "user_id", userID, "pack_type", pt.ID, "quantity", quantity, "cost", cost)
	return out, nil
}

func (s *Service) ListPacks(ctx context.Context, userID string, unopenedOnly bool) ([]Pack, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, pack_type, drop_id, opened, created_at, opened_at
		FROM packs
		WHERE owner_id = $1 AND (NOT $2 OR NOT opened)
		ORDER BY created_at DESC, id
		LIMIT 200
	`, userID, unopenedOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Pack, 0)
	for rows.Next() {
		var p Pack
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.PackType, &p.DropID, &p.Opened, &p.CreatedAt, &p.OpenedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Service) UnopenedCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM packs WHERE owner_id = $1 AND NOT opened`, userID).Scan(&n)
	return n, err
}

// OpenPack mints the pack's cards and flips it to opened in one transaction. Opening twice is an error.
func (s *Service) OpenPack(ctx context.Context, userID, packID, idem string) (OpenResult, error) {
	var out OpenResult
	err := db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		out = OpenResult{}
		if err := claim(ctx, tx, userID, idem, "open_pack"); err != nil {
			return err
		}
		var p Pack
		err := tx.QueryRow(ctx, `
			SELECT id, owner_id, pack_type, drop_id, opened, created_at, opened_at
			FROM packs
			WHERE id = $1 AND owner_id = $2
			FOR UPDATE
		`, packID, userID).Scan(&p.ID, &p.OwnerID, &p.PackType, &p.DropID, &p.Opened, &p.CreatedAt, &p.OpenedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPackNotFound
		}
		if err != nil {
			return err
		}
		if p.Opened {
			return ErrPackOpened
		}

		var cards []reward.OwnedCard
		if pt, ok := s.Catalog().Pack(p.PackType); ok {
			cards = s.gen.Open(pt)
		} else {
			cards = s.gen.OpenPack(reward.DefaultPackSize)
		}
		now := s.now()
		if err := insertCards(ctx, tx, userID, &p.ID, cards, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE packs SET opened = true, opened_at = $2 WHERE id = $1`, p.ID, now); err != nil {
			return err
		}
		p.Opened = true
		p.OpenedAt = &now
		out.Pack = p
		out.Cards = reward.RevealOrder(cards)
		out.BestPull, _ = reward.BestPull(cards)
		return nil
	})
	if err != nil {
		return OpenResult{}, err
	}
	s.log.Info("pack opened", "user_id", userID, "pack_id", packID, "cards", len(out.Cards),
		"best_rarity", out.BestPull.Rarity.String())
	return out, nil
}

func (s *Service) ClaimDaily(ctx context.Context, userID string) (DailyResult, error) {
	var out DailyResult
	err := db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		out = DailyResult{}
		var streak int
		var last *time.Time
		if err := tx.QueryRow(ctx, `
			SELECT daily_streak, last_daily_claim_at FROM profiles WHERE id = $1 FOR UPDATE
		`, userID).Scan(&streak, &last); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProfileNotFound
			}
			return err
		}
		now := s.now()
		next, err := NextStreak(streak, last, now)
		if err != nil {
			return err
		}
		out.Streak = next
		out.CycleDay = CycleDay(next)
		out.Reward = DailyReward(next)
		if err := tx.QueryRow(ctx, `
			UPDATE profiles
			SET points = points + $2, daily_streak = $3, last_daily_claim_at = $4, updated_at = now()
			WHERE id = $1
			RETURNING points
		`, userID, out.Reward, next, now).Scan(&out.Points); err != nil {
			return err
		}
		if out.CycleDay == StreakCycle {
			bonus, err := insertPack(ctx, tx, userID, "mega", MegaStreakDropID, now)
			if err != nil {
				return err
			}
			out.BonusPack = &bonus
		}
		return nil
	})
	if err != nil {
		return DailyResult{}, err
	}
	s.log.Info("daily claimed", "user_id", userID, "streak", out.Streak, "reward", out.Reward)
	return out, nil
}

func (s *Service) Spin(ctx context.Context, userID string) (SpinResult, error) {
	var out SpinResult
	err := db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		out = SpinResult{}
		var last *time.Time
		if err := tx.QueryRow(ctx, `SELECT last_spin_at FROM profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&last); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProfileNotFound
			}
			return err
		}
		now := s.now()
		if ready := SpinReadyAt(last); now.Before(ready) {
			return fmt.Errorf("%w: next spin at %s", ErrSpinCooldown, ready.Format(time.RFC3339))
		}
		cards := s.gen.OpenPack(1)
		if err := insertCards(ctx, tx, userID, nil, cards, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE profiles SET last_spin_at = $2, updated_at = now() WHERE id = $1`, userID, now); err != nil {
			return err
		}
		out.Card = cards[0]
		out.NextSpinAt = now.Add(SpinCooldown)
		return nil
	})
	if err != nil {
		return SpinResult{}, err
	}
	s.log.Info("spin", "user_id", userID, "rarity", out.Card.Rarity.String())
	return out, nil
}

func (s *Service) Collection(ctx context.Context, userID string, f CollectionFilter) ([]Card, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rarity := ""
	if f.Rarity.Valid() {
		rarity = f.Rarity.String()
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE owner_id = $1
		  AND ($2 = '' OR lower(rarity) = $2)
		  AND ($3 = '' OR grade ILIKE '%' || $3 || '%')
		  AND (NOT $4 OR NOT locked)
		ORDER BY created_at DESC, id
		LIMIT $5
	`, userID, rarity, strings.TrimSpace(f.Grade), f.TradeableOnly, limit)
	if err != nil {
		return nil, err
	}
	return collectCards(rows)
}

// SetCardLocked toggles trade eligibility. It never changes the owner.
func (s *Service) SetCardLocked(ctx context.Context, userID, cardID string, locked bool) (Card, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE cards SET locked = $3
		WHERE id = $1 AND owner_id = $2
		RETURNING `+cardColumns, cardID, userID, locked)
	if err != nil {
		return Card{}, err
	}
	cards, err := collectCards(rows)
	if err != nil {
		return Card{}, err
	}
	if len(cards) == 0 {
		return Card{}, ErrCardNotFound
	}
	return cards[0], nil
}

func (s *Service) SearchTraders(ctx context.Context, userID, query string) ([]Trader, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchQuery {
		return nil, ErrQueryTooShort
	}
	// The pattern admits every username the fuzzy ranking can match; plain substring hits and
	// shorter names fill the candidate window first.
	rows, err := s.db.Query(ctx, `
		SELECT username, trade_ref
		FROM profiles
		WHERE allow_trades AND claimed_username AND id <> $1
		  AND username ILIKE $2 ESCAPE '\'
		ORDER BY (username ILIKE '%' || $3 || '%' ESCAPE '\') DESC, length(username), username
		LIMIT 200
	`, userID, subsequencePattern(query), escapeLike(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var candidates []Trader
	for rows.Next() {
		var t Trader
		if err := rows.Scan(&t.Username, &t.TradeRef); err != nil {
			return nil, err
		}
		candidates = append(candidates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return RankTraders(query, candidates, MaxSearchResults), nil
}

// ResolveTrader maps a trade ref or claimed username to a user id. Users who closed trading still
// resolve so a proposal to them fails with the trade engine's own error.
func (s *Service) ResolveTrader(ctx context.Context, refOrUsername string) (string, error) {
	id, _, err := s.resolveTrader(ctx, refOrUsername)
	return id, err
}

func (s *Service) resolveTrader(ctx context.Context, refOrUsername string) (string, bool, error) {
	key := strings.TrimSpace(refOrUsername)
	if key == "" {
		return "", false, ErrProfileNotFound
	}
	var id string
	var allow bool
	err := s.db.QueryRow(ctx, `
		SELECT id, allow_trades FROM profiles
		WHERE trade_ref = $1 OR (claimed_username AND lower(username) = lower($1))
		LIMIT 1
	`, key).Scan(&id, &allow)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, ErrProfileNotFound
	}
	return id, allow, err
}

// TraderCards lists the tradeable cards of a counterparty with owner ids stripped. Users who closed
// trading show nothing.
func (s *Service) TraderCards(ctx context.Context, ref string) ([]Card, error) {
	ownerID, allow, err := s.resolveTrader(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !allow {
		return nil, ErrProfileNotFound
	}
	cards, err := s.Collection(ctx, ownerID, CollectionFilter{TradeableOnly: true})
	if err != nil {
		return nil, err
	}
	for i := range cards {
		cards[i].OwnerID = ""
	}
	return cards, nil
}

func claim(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	err := db.ClaimIdempotency(ctx, tx, userID, key, action)
	if errors.Is(err, db.ErrDuplicateIdempotency) {
		return ErrDuplicateIdempotency
	}
	return err
}

func insertPack(ctx context.Context, tx pgx.Tx, userID, packType, dropID string, now time.Time) (Pack, error) {
	p := Pack{ID: uuid.NewString(), OwnerID: userID, PackType: packType, DropID: dropID, CreatedAt: now}
	_, err := tx.Exec(ctx, `
		INSERT INTO packs (id, owner_id, pack_type, drop_id, opened, created_at)
		VALUES ($1, $2, $3, $4, false, $5)
	`, p.ID, p.OwnerID, p.PackType, p.DropID, p.CreatedAt)
	return p, err
}

func insertCards(ctx context.Context, tx pgx.Tx, userID string, packID *string, cards []reward.OwnedCard, now time.Time) error {
	cols := []string{"id", "owner_id", "template_id", "name", "description", "image", "category", "rarity", "clarity_index", "pack_id", "created_at"}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"cards"}, cols, pgx.CopyFromSlice(len(cards), func(i int) ([]any, error) {
		c := cards[i]
		return []any{c.ID, userID, c.TemplateID, c.Name, c.Description, c.Image, c.Category, c.Rarity.Label(), c.ClarityIndex, packID, now}, nil
	}))
	if err != nil {
		return err
	}
	if int(n) != len(cards) {
		return fmt.Errorf("inserted %d of %d cards", n, len(cards))
	}
	return nil
}

func collectCards(rows pgx.Rows) ([]Card, error) {
	defer rows.Close()
	out := make([]Card, 0)
	for rows.Next() {
		var c Card
		var rarity string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.TemplateID, &c.Name, &c.Description, &c.Image, &c.Category,
			&rarity, &c.ClarityIndex, &c.Grade, &c.Locked, &c.OwnerCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		r, err := catalog.ParseRarity(rarity)
		if err != nil {
			return nil, err
		}
		c.Rarity = r
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.Username, &p.ClaimedUsername, &p.Points, &p.AllowTrades,
		&p.DailyStreak, &p.LastDailyClaimAt, &p.LastSpinAt, &p.TradeRef)
	if err != nil {
		return Profile{}, err
	}
	p.Handle = DisplayName(p.Username, p.ID)
	return p, nil
}

// subsequencePattern turns "car" into "%c%a%r%", the LIKE form of an in-order subsequence match.
func subsequencePattern(query string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range query {
		b.WriteString(escapeLike(string(r)))
		b.WriteByte('%')
	}
	return b.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
