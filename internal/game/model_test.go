package game

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	valid := []string{"veggie_fan", "Rip3", "  padded_ok  ", "model_train", "modern", "Badminton"}
	for _, s := range valid {
		if _, err := ValidateUsername(s); err != nil {
			t.Fatalf("expected username %q to be valid: %v", s, err)
		}
	}

	tests := []struct {
		name string
		want error
	}{
		{name: "ab", want: ErrInvalidUsername},
		{name: strings.Repeat("x", 33), want: ErrInvalidUsername},
		{name: "has space", want: ErrInvalidUsername},
		{name: "dash-name", want: ErrInvalidUsername},
		{name: "TheAdmin", want: ErrBlockedUsername},
		{name: "mod_squad", want: ErrBlockedUsername},
		{name: "SupportBot", want: ErrBlockedUsername},
		{name: "team_mod2", want: ErrBlockedUsername},
		{name: "Mod99", want: ErrBlockedUsername},
		{name: "xfuckx", want: ErrBlockedUsername},
	}
	for _, tc := range tests {
		if _, err := ValidateUsername(tc.name); !errors.Is(err, tc.want) {
			t.Fatalf("ValidateUsername(%q)=%v want %v", tc.name, err, tc.want)
		}
	}
}

func TestHandle(t *testing.T) {
	if got := Handle(""); got != "Collector" {
		t.Fatalf("empty id handle=%q", got)
	}
	// "abcd": sum 394 -> adjective 4, veggie 49%10=9.
	if got := Handle("abcd"); got != "SavoryCabbage-abcd" {
		t.Fatalf("Handle(abcd)=%q", got)
	}
	a := Handle("0f8e2c1a-aaaa-bbbb")
	if a != Handle("0f8e2c1a-aaaa-bbbb") {
		t.Fatalf("handle is not deterministic")
	}
	if !strings.HasSuffix(a, "-0f8e") {
		t.Fatalf("expected 4 char id suffix, got %q", a)
	}
	if got := DisplayName(" rip_king ", "abcd"); got != "rip_king" {
		t.Fatalf("display name=%q", got)
	}
	if got := DisplayName("", "abcd"); got != "SavoryCabbage-abcd" {
		t.Fatalf("display fallback=%q", got)
	}
}

func TestNextStreak(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }
	ptr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name    string
		current int
		last    *time.Time
		now     time.Time
		want    int
		wantErr error
	}{
		{name: "first claim", current: 0, last: nil, now: day(10, 9), want: 1},
		{name: "next day", current: 3, last: ptr(day(9, 23)), now: day(10, 1), want: 4},
		{name: "same day", current: 3, last: ptr(day(10, 1)), now: day(10, 23), want: 3, wantErr: ErrAlreadyClaimed},
		{name: "gap resets", current: 6, last: ptr(day(7, 12)), now: day(10, 12), want: 1},
		{name: "clock behind", current: 2, last: ptr(day(12, 12)), now: day(10, 12), want: 2, wantErr: ErrAlreadyClaimed},
	}
	for _, tc := range tests {
		got, err := NextStreak(tc.current, tc.last, tc.now)
		if !errors.Is(err, tc.wantErr) || got != tc.want {
			t.Fatalf("%s: got (%d, %v) want (%d, %v)", tc.name, got, err, tc.want, tc.wantErr)
		}
	}
}

func TestDailyRewardCycle(t *testing.T) {
	tests := []struct {
		streak int
		day    int
		reward int64
	}{
		{streak: 1, day: 1, reward: 120},
		{streak: 6, day: 6, reward: 320},
		{streak: 7, day: 7, reward: 600},
		{streak: 8, day: 1, reward: 120},
		{streak: 14, day: 7, reward: 600},
		{streak: 0, day: 1, reward: 120},
	}
	for _, tc := range tests {
		if got := CycleDay(tc.streak); got != tc.day {
			t.Fatalf("CycleDay(%d)=%d want %d", tc.streak, got, tc.day)
		}
		if got := DailyReward(tc.streak); got != tc.reward {
			t.Fatalf("DailyReward(%d)=%d want %d", tc.streak, got, tc.reward)
		}
	}
}

func TestSpinReadyAt(t *testing.T) {
	if !SpinReadyAt(nil).IsZero() {
		t.Fatalf("never spun should be ready immediately")
	}
	last := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if got := SpinReadyAt(&last); !got.Equal(last.Add(24 * time.Hour)) {
		t.Fatalf("ready at %s", got)
	}
}

func TestBundleByID(t *testing.T) {
	b, ok := BundleByID(" Value ")
	if !ok || b.Points != 1200 {
		t.Fatalf("value bundle=%+v ok=%v", b, ok)
	}
	if _, ok := BundleByID("whale"); ok {
		t.Fatalf("unknown bundle resolved")
	}
}

func TestTradeRef(t *testing.T) {
	key := []byte("secret")
	a := TradeRef(key, "user-a")
	if a != TradeRef(key, "user-a") {
		t.Fatalf("trade ref is not stable")
	}
	if a == TradeRef(key, "user-b") {
		t.Fatalf("distinct users share a ref")
	}
	if a == TradeRef([]byte("other"), "user-a") {
		t.Fatalf("ref does not depend on key")
	}
	if !strings.HasPrefix(a, "tr_") || len(a) != 3+32 {
		t.Fatalf("unexpected ref shape %q", a)
	}
	if strings.Contains(a, "user-a") {
		t.Fatalf("ref leaks the user id")
	}
}

func TestRankTraders(t *testing.T) {
	candidates := []Trader{
		{Username: "carrot_king", TradeRef: "tr_1"},
		{Username: "bob", TradeRef: "tr_2"},
		{Username: "Car", TradeRef: "tr_3"},
		{Username: "scar_face", TradeRef: "tr_4"},
	}
	got := RankTraders("car", candidates, MaxSearchResults)
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %+v", got)
	}
	if got[0].Username != "Car" {
		t.Fatalf("exact match should rank first, got %+v", got)
	}
	for _, tr := range got {
		if tr.Username == "bob" {
			t.Fatalf("non-match returned")
		}
	}
	if got := RankTraders("car", candidates, 1); len(got) != 1 {
		t.Fatalf("limit not applied: %+v", got)
	}
	if got := RankTraders("  ", candidates, 10); len(got) != 0 {
		t.Fatalf("blank query matched %+v", got)
	}
}

func TestNameWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "mod_squad", want: []string{"mod", "squad"}},
		{in: "TheAdmin", want: []string{"the", "admin"}},
		{in: "rip3king", want: []string{"rip", "3", "king"}},
		{in: "__x__", want: []string{"x"}},
		{in: "modern", want: []string{"modern"}},
	}
	for _, tc := range tests {
		if got := nameWords(tc.in); !slices.Equal(got, tc.want) {
			t.Fatalf("nameWords(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestSubsequencePattern(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "car", want: "%c%a%r%"},
		{in: "a_b", want: `%a%\_%b%`},
		{in: "é%", want: `%é%\%%`},
	}
	for _, tc := range tests {
		if got := subsequencePattern(tc.in); got != tc.want {
			t.Fatalf("subsequencePattern(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("escapeLike=%q", got)
	}
}
