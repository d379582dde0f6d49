package game

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

const (
	StarterPoints = int64(1000)

	SpinCooldown     = 24 * time.Hour
	MegaStreakDropID = "mega-streak"
	StreakCycle      = 7

	MinUsernameLen = 3
	MaxUsernameLen = 32

	MinSearchQuery   = 2
	MaxSearchResults = 10

	MaxPacksPerPurchase = 20
)

// DailyRewards is indexed by cycle day minus one.
var DailyRewards = [StreakCycle]int64{120, 150, 180, 220, 260, 320, 600}

var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrInsufficientFunds    = errors.New("insufficient pack juice")
	ErrUnknownBundle        = errors.New("unknown bundle")
	ErrUnknownPackType      = errors.New("unknown pack type")
	ErrInvalidQuantity      = errors.New("quantity must be between 1 and 20")
	ErrPackNotFound         = errors.New("pack not found")
	ErrPackOpened           = errors.New("pack already opened")
	ErrAlreadyClaimed       = errors.New("daily reward already claimed today")
	ErrSpinCooldown         = errors.New("spin is on cooldown")
	ErrCardNotFound         = errors.New("card not found")
	ErrInvalidUsername      = errors.New("username must be 3-32 letters, digits or underscores")
	ErrBlockedUsername      = errors.New("username contains blocked content")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrUsernameClaimed      = errors.New("username already claimed")
	ErrQueryTooShort        = errors.New("search query must be at least 2 characters")
	ErrReadOnlyIdentity     = errors.New("identity cannot modify game state")
)

type Bundle struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Points int64  `json:"points"`
}

var Bundles = []Bundle{
	{ID: "starter", Title: "Starter Stack", Points: 500},
	{ID: "value", Title: "Value Crate", Points: 1200},
	{ID: "pro", Title: "Pro Vault", Points: 2500},
	{ID: "mega", Title: "Mega Hoard", Points: 5000},
}

func BundleByID(id string) (Bundle, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, b := range Bundles {
		if b.ID == id {
			return b, true
		}
	}
	return Bundle{}, false
}

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// Reserved words are blocked only as whole words, so "mod_squad" is out and "modern" is fine.
var reservedNameWords = []string{"admin", "administrator", "mod", "moderator", "support", "staff"}

var blockedNameFragments = []string{
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

func ValidateUsername(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if !usernameRE.MatchString(clean) {
		return "", ErrInvalidUsername
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return "", ErrBlockedUsername
		}
	}
	for _, word := range nameWords(clean) {
		if slices.Contains(reservedNameWords, word) {
			return "", ErrBlockedUsername
		}
	}
	return clean, nil
}

// nameWords splits a username on underscores, letter/digit changes and lower-to-upper case changes.
func nameWords(name string) []string {
	var words []string
	start := 0
	runes := []rune(name)
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) {
			prev, cur := runes[i-1], runes[i]
			if !(prev == '_' || cur == '_' ||
				unicode.IsDigit(prev) != unicode.IsDigit(cur) ||
				(unicode.IsLower(prev) && unicode.IsUpper(cur))) {
				continue
			}
		}
		if w := strings.Trim(string(runes[start:i]), "_"); w != "" {
			words = append(words, strings.ToLower(w))
		}
		start = i
	}
	return words
}

var (
	handleAdjectives = []string{"Spicy", "Crispy", "Fresh", "Zesty", "Savory", "Bold", "Bright", "Wild", "Cool", "Brave"}
	handleVeggies    = []string{"Carrot", "Tomato", "Pepper", "Broccoli", "Spinach", "Radish", "Bean", "Pea", "Kale", "Cabbage"}
)

// Handle derives the stable display handle shown until a username is claimed.
func Handle(userID string) string {
	if userID == "" {
		return "Collector"
	}
	sum := 0
	for _, r := range userID {
		sum += int(r)
	}
	suffix := userID
	if len(suffix) > 4 {
		suffix = suffix[:4]
	}
	return fmt.Sprintf("%s%s-%s", handleAdjectives[sum%len(handleAdjectives)], handleVeggies[(sum>>3)%len(handleVeggies)], suffix)
}

func DisplayName(username, userID string) string {
	if u := strings.TrimSpace(username); u != "" {
		return u
	}
	return Handle(userID)
}

// NextStreak computes the streak after a claim at now. Days are UTC calendar days.
func NextStreak(current int, last *time.Time, now time.Time) (int, error) {
	if last == nil || current <= 0 {
		return 1, nil
	}
	switch dayDiff(*last, now) {
	case 0:
		return current, ErrAlreadyClaimed
	case 1:
		return current + 1, nil
	default:
		if now.Before(*last) {
			return current, ErrAlreadyClaimed
		}
		return 1, nil
	}
}

func dayDiff(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// CycleDay maps a streak onto its position 1..7 in the reward week.
func CycleDay(streak int) int {
	if streak <= 0 {
		return 1
	}
	return ((streak - 1) % StreakCycle) + 1
}

func DailyReward(streak int) int64 {
	return DailyRewards[CycleDay(streak)-1]
}

// SpinReadyAt reports when the next spin unlocks; the zero time means now.
func SpinReadyAt(last *time.Time) time.Time {
	if last == nil {
		return time.Time{}
	}
	return last.Add(SpinCooldown)
}

// TradeRef is the opaque, keyed reference other users see instead of a raw user id.
func TradeRef(key []byte, userID string) string {
	h, err := blake2b.New(16, key)
	if err != nil {
		// Only reachable with a key over 64 bytes.
		sum := blake2b.Sum256(append(append([]byte(nil), key...), userID...))
		return "tr_" + hex.EncodeToString(sum[:10])
	}
	h.Write([]byte(userID))
	return "tr_" + hex.EncodeToString(h.Sum(nil))
}
