// Package pgstore implements trade.Store on Postgres. Every mutation runs in a serializable
// transaction with the touched rows locked FOR UPDATE.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"packrip/internal/db"
	"packrip/internal/trade"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tradeColumns = `id, from_user_id, to_user_id, offered_card_ids, requested_card_ids, status, created_at, expires_at, updated_at`

type Trades struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

var _ trade.Store = (*Trades)(nil)

func NewTrades(pool *pgxpool.Pool, logger *slog.Logger) *Trades {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trades{db: pool, log: logger}
}

func (s *Trades) SelectCards(ctx context.Context, ids []string) ([]trade.Card, error) {
	return selectCards(ctx, s.db, ids, false)
}

func (s *Trades) TradesEnabled(ctx context.Context, userID string) (bool, error) {
	var allow bool
	err := s.db.QueryRow(ctx, `SELECT allow_trades FROM profiles WHERE id = $1`, userID).Scan(&allow)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, trade.ErrUserNotFound
	}
	return allow, err
}

func (s *Trades) InsertTrade(ctx context.Context, t trade.Trade, idempotencyKey string) (trade.Trade, error) {
	err := db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		if idempotencyKey != "" {
			if err := db.ClaimIdempotency(ctx, tx, t.FromUserID, idempotencyKey, "trade.propose"); err != nil {
				if errors.Is(err, db.ErrDuplicateIdempotency) {
					return trade.ErrDuplicateRequest
				}
				return err
			}
		}
		// The recipient may have closed trading since the engine checked.
		var allow bool
		err := tx.QueryRow(ctx, `SELECT allow_trades FROM profiles WHERE id = $1 FOR SHARE`, t.ToUserID).Scan(&allow)
		if errors.Is(err, pgx.ErrNoRows) {
			return trade.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if !allow {
			return trade.ErrTradesDisabled
		}
		cards, err := selectCards(ctx, tx, allCards(t), true)
		if err != nil {
			return err
		}
		if err := trade.CheckOwnership(cards, t); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO trades (id, from_user_id, to_user_id, offered_card_ids, requested_card_ids, status, created_at, expires_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, t.ID, t.FromUserID, t.ToUserID, t.OfferedCardIDs, t.RequestedCardIDs, string(t.Status), t.CreatedAt, t.ExpiresAt, t.UpdatedAt)
		return err
	})
	if err != nil {
		return trade.Trade{}, err
	}
	return t, nil
}

func (s *Trades) GetTrade(ctx context.Context, id string) (trade.Trade, error) {
	t, err := scanTrade(s.db.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return trade.Trade{}, trade.ErrTradeNotFound
	}
	return t, err
}

func (s *Trades) ListTrades(ctx context.Context, f trade.Filter) ([]trade.Trade, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE ($1 = '' OR from_user_id = $1 OR to_user_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3
	`, f.UserID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]trade.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Trades) UpdateTradeStatus(ctx context.Context, id string, expected, next trade.Status, now time.Time) (bool, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE trades
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(expected), string(next), now)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, trade.ErrTradeNotFound
	}
	return false, nil
}

func (s *Trades) AcceptTrade(ctx context.Context, id, actingUserID string, now time.Time) (trade.Trade, error) {
	var out trade.Trade
	var expired bool
	err := db.Serializable(ctx, s.db, func(tx pgx.Tx) error {
		expired = false
		t, err := scanTrade(tx.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return trade.ErrTradeNotFound
		}
		if err != nil {
			return err
		}
		if t.ToUserID != actingUserID {
			return trade.ErrNotRecipient
		}
		switch {
		case t.Status == trade.StatusExpired:
			return trade.ErrTradeExpired
		case t.Status != trade.StatusPending:
			return trade.ErrNotPending
		case !now.Before(t.ExpiresAt):
			// Commit the expiry, then report it.
			expired = true
			_, err := tx.Exec(ctx, `UPDATE trades SET status = 'expired', updated_at = $2 WHERE id = $1`, id, now)
			return err
		}

		cards, err := selectCards(ctx, tx, allCards(t), true)
		if err != nil {
			return err
		}
		if err := trade.CheckOwnership(cards, t); err != nil {
			return err
		}
		if err := moveCards(ctx, tx, t.OfferedCardIDs, t.FromUserID, t.ToUserID); err != nil {
			return err
		}
		if err := moveCards(ctx, tx, t.RequestedCardIDs, t.ToUserID, t.FromUserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE trades SET status = 'accepted', updated_at = $2
			WHERE id = $1 AND status = 'pending'
		`, id, now); err != nil {
			return err
		}
		t.Status = trade.StatusAccepted
		t.UpdatedAt = now
		out = t
		return nil
	})
	if err != nil {
		return trade.Trade{}, err
	}
	if expired {
		s.log.Debug("trade expired at accept", "trade_id", id)
		return trade.Trade{}, trade.ErrTradeExpired
	}
	s.log.Debug("trade settled", "trade_id", id, "offered", len(out.OfferedCardIDs), "requested", len(out.RequestedCardIDs))
	return out, nil
}

func (s *Trades) ExpireStale(ctx context.Context, now time.Time) ([]trade.Trade, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE trades
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING `+tradeColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trade.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func selectCards(ctx context.Context, q querier, ids []string, forUpdate bool) ([]trade.Card, error) {
	sql := `SELECT id, owner_id, locked, owner_count FROM cards WHERE id = ANY($1) ORDER BY id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]trade.Card, 0, len(ids))
	for rows.Next() {
		var c trade.Card
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Locked, &c.OwnerCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func moveCards(ctx context.Context, tx pgx.Tx, ids []string, from, to string) error {
	cmd, err := tx.Exec(ctx, `
		UPDATE cards
		SET owner_id = $1, owner_count = owner_count + 1
		WHERE id = ANY($2) AND owner_id = $3 AND NOT locked
	`, to, ids, from)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("%w: moved %d of %d cards", trade.ErrOwnershipChanged, cmd.RowsAffected(), len(ids))
	}
	return nil
}

func scanTrade(row pgx.Row) (trade.Trade, error) {
	var t trade.Trade
	var status string
	err := row.Scan(&t.ID, &t.FromUserID, &t.ToUserID, &t.OfferedCardIDs, &t.RequestedCardIDs,
		&status, &t.CreatedAt, &t.ExpiresAt, &t.UpdatedAt)
	if err != nil {
		return trade.Trade{}, err
	}
	t.Status = trade.Status(strings.ToLower(status))
	return t, nil
}

func allCards(t trade.Trade) []string {
	return append(append([]string(nil), t.OfferedCardIDs...), t.RequestedCardIDs...)
}
