package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"packrip/internal/auth"
)

// refreshBefore is how close to expiry a saved access token gets refreshed.
const refreshBefore = time.Minute

var ErrNoSession = errors.New("no access token found in session")

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
	Override     bool      `json:"override,omitempty"`
}

// NewSession converts an auth response into the saved form.
func NewSession(s auth.Session, now time.Time) Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Email:        s.User.Email,
		UserID:       s.User.ID,
	}
	if s.ExpiresIn > 0 {
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return out
}

// Stale reports whether the access token should be refreshed before use.
func (s Session) Stale(now time.Time) bool {
	if s.Override || s.ExpiresAt.IsZero() || s.RefreshToken == "" {
		return false
	}
	return !now.Add(refreshBefore).Before(s.ExpiresAt)
}

var (
	dirMu    sync.Mutex
	dirSetTo string
)

// SetBaseDir moves session and cache files out of ~/.rip.
func SetBaseDir(dir string) {
	dirMu.Lock()
	defer dirMu.Unlock()
	dirSetTo = strings.TrimSpace(dir)
}

// BaseDir is where the session file and local database live.
func BaseDir() (string, error) {
	dirMu.Lock()
	dir := dirSetTo
	dirMu.Unlock()
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".rip")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// SaveSession writes through a temp file so a crash never leaves a half-written session.
func SaveSession(s Session) error {
	if s.Override {
		return errors.New("override sessions are never saved")
	}
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Fresh refreshes and saves a stale session. A failed refresh returns the old session so the API
// can give the definitive answer.
func Fresh(ctx context.Context, c *Client, s Session, now time.Time) (Session, error) {
	if !s.Stale(now) {
		return s, nil
	}
	next, err := c.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return s, err
	}
	refreshed := NewSession(next, now)
	if refreshed.Email == "" {
		refreshed.Email = s.Email
	}
	if refreshed.UserID == "" {
		refreshed.UserID = s.UserID
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = s.RefreshToken
	}
	return refreshed, SaveSession(refreshed)
}

// OverrideSession is the in-memory session of the local override identity. It is never saved.
func OverrideSession(token string) Session {
	return Session{AccessToken: token, UserID: auth.LocalOverrideUserID, Email: "admin@local", Override: true}
}
