package pgstore_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"packrip/internal/auth"
	"packrip/internal/db"
	"packrip/internal/pgstore"
	"packrip/internal/trade"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("PACKRIP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PACKRIP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, allow bool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO profiles (id, email, allow_trades, trade_ref) VALUES ($1, $2, $3, $4)
	`, id, id+"@example.com", allow, "ref-"+id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedCard(t *testing.T, pool *pgxpool.Pool, owner string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO cards (id, owner_id, template_id, name, rarity, clarity_index)
		VALUES ($1, $2, 'carrot', 'Carrot', 'Common', 50)
	`, id, owner)
	if err != nil {
		t.Fatalf("seed card: %v", err)
	}
	return id
}

func ownerOf(t *testing.T, pool *pgxpool.Pool, cardID string) (string, int) {
	t.Helper()
	var owner string
	var count int
	if err := pool.QueryRow(context.Background(), `SELECT owner_id, owner_count FROM cards WHERE id = $1`, cardID).Scan(&owner, &count); err != nil {
		t.Fatalf("owner of %s: %v", cardID, err)
	}
	return owner, count
}

func TestTradeLifecyclePostgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := pgstore.NewTrades(pool, nil)
	now := time.Now().UTC().Truncate(time.Microsecond)
	engine := trade.NewEngine(store, nil, trade.WithClock(func() time.Time { return now }))

	a := seedUser(t, pool, true)
	b := seedUser(t, pool, true)
	c1 := seedCard(t, pool, a)
	c3 := seedCard(t, pool, b)

	tr, err := engine.Propose(ctx, auth.AuthenticatedIdentity{ID: a}, trade.Proposal{
		ToUserID: b, OfferedCardIDs: []string{c1}, RequestedCardIDs: []string{c3}, IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := engine.Accept(ctx, auth.AuthenticatedIdentity{ID: b}, tr.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if owner, count := ownerOf(t, pool, c1); owner != b || count != 1 {
		t.Fatalf("c1 owner=%s count=%d", owner, count)
	}
	if owner, count := ownerOf(t, pool, c3); owner != a || count != 1 {
		t.Fatalf("c3 owner=%s count=%d", owner, count)
	}
	if _, err := engine.Decline(ctx, auth.AuthenticatedIdentity{ID: b}, tr.ID); !errors.Is(err, trade.ErrNotPending) {
		t.Fatalf("decline after accept: %v", err)
	}
}

func TestStaleOwnershipPostgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	engine := trade.NewEngine(pgstore.NewTrades(pool, nil), nil)

	a := seedUser(t, pool, true)
	b := seedUser(t, pool, true)
	outsider := seedUser(t, pool, true)
	c1 := seedCard(t, pool, a)
	c3 := seedCard(t, pool, b)

	tr, err := engine.Propose(ctx, auth.AuthenticatedIdentity{ID: a}, trade.Proposal{
		ToUserID: b, OfferedCardIDs: []string{c1}, RequestedCardIDs: []string{c3},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE cards SET owner_id = $1 WHERE id = $2`, outsider, c1); err != nil {
		t.Fatalf("drift: %v", err)
	}
	_, err = engine.Accept(ctx, auth.AuthenticatedIdentity{ID: b}, tr.ID)
	if trade.KindOf(err) != trade.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if owner, _ := ownerOf(t, pool, c3); owner != b {
		t.Fatalf("c3 moved to %s", owner)
	}
}

func TestConcurrentAcceptAndExpirePostgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := pgstore.NewTrades(pool, nil)
	engine := trade.NewEngine(store, nil)

	a := seedUser(t, pool, true)
	b := seedUser(t, pool, true)
	c1 := seedCard(t, pool, a)
	c3 := seedCard(t, pool, b)
	tr, err := engine.Propose(ctx, auth.AuthenticatedIdentity{ID: a}, trade.Proposal{
		ToUserID: b, OfferedCardIDs: []string{c1}, RequestedCardIDs: []string{c3},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	var wg sync.WaitGroup
	var acceptErr error
	var expiredOK bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, acceptErr = engine.Accept(ctx, auth.AuthenticatedIdentity{ID: b}, tr.ID)
	}()
	go func() {
		defer wg.Done()
		expiredOK, _ = store.UpdateTradeStatus(ctx, tr.ID, trade.StatusPending, trade.StatusExpired, time.Now().UTC())
	}()
	wg.Wait()

	if (acceptErr == nil) == expiredOK {
		t.Fatalf("exactly one should win: accept=%v expired=%v", acceptErr, expiredOK)
	}
	got, err := store.GetTrade(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	owner, _ := ownerOf(t, pool, c1)
	if (got.Status == trade.StatusAccepted) != (owner == b) {
		t.Fatalf("status %s disagrees with owner %s", got.Status, owner)
	}
}

func TestInsertRejectsClosedRecipientPostgres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := pgstore.NewTrades(pool, nil)

	a := seedUser(t, pool, true)
	b := seedUser(t, pool, false)
	c1 := seedCard(t, pool, a)
	c3 := seedCard(t, pool, b)
	now := time.Now().UTC()
	_, err := store.InsertTrade(ctx, trade.Trade{
		ID: uuid.NewString(), FromUserID: a, ToUserID: b,
		OfferedCardIDs: []string{c1}, RequestedCardIDs: []string{c3},
		Status: trade.StatusPending, CreatedAt: now, ExpiresAt: now.Add(time.Hour), UpdatedAt: now,
	}, "")
	if !errors.Is(err, trade.ErrTradesDisabled) {
		t.Fatalf("expected trades disabled, got %v", err)
	}
}
