package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingVerifier struct {
	calls int
	fail  bool
}

func (v *countingVerifier) VerifyAccessToken(_ context.Context, token string) (SupabaseUser, error) {
	v.calls++
	if v.fail {
		return SupabaseUser{}, errors.New("verify token status 401")
	}
	return SupabaseUser{ID: "user-" + token, Email: token + "@example.com"}, nil
}

func TestCachedVerifierMemoisesSuccess(t *testing.T) {
	next := &countingVerifier{}
	v := NewCachedVerifier(next, 8, time.Minute)
	for i := 0; i < 3; i++ {
		user, err := v.VerifyAccessToken(context.Background(), "abc")
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if user.ID != "user-abc" {
			t.Fatalf("user = %+v", user)
		}
	}
	if next.calls != 1 {
		t.Fatalf("upstream called %d times", next.calls)
	}
}

func TestCachedVerifierDoesNotCacheFailures(t *testing.T) {
	next := &countingVerifier{fail: true}
	v := NewCachedVerifier(next, 8, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := v.VerifyAccessToken(context.Background(), "bad"); err == nil {
			t.Fatalf("expected error")
		}
	}
	if next.calls != 2 || v.Len() != 0 {
		t.Fatalf("calls=%d cached=%d", next.calls, v.Len())
	}
}

func TestIdentityVariants(t *testing.T) {
	tests := []struct {
		id       Identity
		canWrite bool
		userID   string
	}{
		{AuthenticatedIdentity{ID: "u1", Address: "a@b.c"}, true, "u1"},
		{LocalOverrideIdentity{}, false, LocalOverrideUserID},
	}
	for _, tc := range tests {
		if tc.id.CanWrite() != tc.canWrite || tc.id.UserID() != tc.userID {
			t.Fatalf("%s: canWrite=%v userID=%q", tc.id.Kind(), tc.id.CanWrite(), tc.id.UserID())
		}
		ctx := WithIdentity(context.Background(), tc.id)
		got, ok := FromContext(ctx)
		if !ok || got.UserID() != tc.userID {
			t.Fatalf("context round trip lost identity")
		}
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("empty context should have no identity")
	}
}
