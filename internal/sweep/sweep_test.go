package sweep

import (
	"context"
	"errors"
	"testing"

	"packrip/internal/metrics"
	"packrip/internal/trade"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeExpirer struct {
	calls int
	out   []trade.Trade
	err   error
}

func (f *fakeExpirer) ExpireStale(context.Context) ([]trade.Trade, error) {
	f.calls++
	return f.out, f.err
}

type fakeLock struct {
	held     bool
	acquired int
	released []string
	err      error
}

func (l *fakeLock) Acquire(_ context.Context, key string) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.acquired++
	return "tok-" + key, true, nil
}

func (l *fakeLock) Release(_ context.Context, key, token string) error {
	l.released = append(l.released, key+"="+token)
	return nil
}

func TestOnceExpiresUnderLock(t *testing.T) {
	exp := &fakeExpirer{out: []trade.Trade{{ID: "a"}, {ID: "b"}}}
	lock := &fakeLock{}
	before := testutil.ToFloat64(metrics.TradesExpiredTotal)

	n, held, err := New(exp, lock, nil).Once(context.Background())
	if err != nil || !held || n != 2 {
		t.Fatalf("unexpected result n=%d held=%v err=%v", n, held, err)
	}
	if exp.calls != 1 {
		t.Fatalf("expected one sweep, got %d", exp.calls)
	}
	if len(lock.released) != 1 || lock.released[0] != LockKey+"=tok-"+LockKey {
		t.Fatalf("lock not released by holder: %v", lock.released)
	}
	if got := testutil.ToFloat64(metrics.TradesExpiredTotal) - before; got != 2 {
		t.Fatalf("expected expired counter +2, got %v", got)
	}
}

func TestOnceSkipsWhenLockHeld(t *testing.T) {
	exp := &fakeExpirer{}
	before := testutil.ToFloat64(metrics.SweepSkippedTotal)

	n, held, err := New(exp, &fakeLock{held: true}, nil).Once(context.Background())
	if err != nil || held || n != 0 {
		t.Fatalf("unexpected result n=%d held=%v err=%v", n, held, err)
	}
	if exp.calls != 0 {
		t.Fatal("sweep ran without the lock")
	}
	if got := testutil.ToFloat64(metrics.SweepSkippedTotal) - before; got != 1 {
		t.Fatalf("expected skipped counter +1, got %v", got)
	}
}

func TestOnceErrors(t *testing.T) {
	boom := errors.New("boom")

	lock := &fakeLock{}
	_, held, err := New(&fakeExpirer{err: boom}, lock, nil).Once(context.Background())
	if !errors.Is(err, boom) || !held {
		t.Fatalf("expected sweep error under lock, got held=%v err=%v", held, err)
	}
	if len(lock.released) != 1 {
		t.Fatal("lock must be released after a failed sweep")
	}

	_, held, err = New(&fakeExpirer{}, &fakeLock{err: boom}, nil).Once(context.Background())
	if !errors.Is(err, boom) || held {
		t.Fatalf("expected lock error, got held=%v err=%v", held, err)
	}
}

func TestNilLockRunsLocally(t *testing.T) {
	exp := &fakeExpirer{}
	if _, held, err := New(exp, nil, nil).Once(context.Background()); err != nil || !held {
		t.Fatalf("expected local sweep, got held=%v err=%v", held, err)
	}
	if exp.calls != 1 {
		t.Fatal("expected one sweep")
	}
}
