package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid or expired access token")

var _ TokenVerifier = (*SupabaseClient)(nil)

// SupabaseClient talks to the GoTrue endpoints of a Supabase project with the anon key.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	TokenType    string       `json:"token_type"`
	User         SupabaseUser `json:"user"`
}

type SupabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GoTrueError is a non-2xx answer from the auth service.
type GoTrueError struct {
	Status  int
	Code    string
	Message string
}

func (e *GoTrueError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase status %d: %s", e.Status, e.Message)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// SignUp registers an account. With email confirmation on, GoTrue answers with the bare user and
// no tokens; the returned Session then carries only User.
func (c *SupabaseClient) SignUp(ctx context.Context, email, password string) (Session, error) {
	var out struct {
		Session
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", credentials{email, password}, &out); err != nil {
		return Session{}, err
	}
	s := out.Session
	if s.User.ID == "" {
		s.User = SupabaseUser{ID: out.ID, Email: out.Email}
	}
	return s, nil
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", credentials{email, password}, &out)
	return out, err
}

func (c *SupabaseClient) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": refreshToken}, &out)
	return out, err
}

func (c *SupabaseClient) VerifyAccessToken(ctx context.Context, accessToken string) (SupabaseUser, error) {
	var user SupabaseUser
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user)
	var gerr *GoTrueError
	if errors.As(err, &gerr) && (gerr.Status == http.StatusUnauthorized || gerr.Status == http.StatusForbidden) {
		return SupabaseUser{}, ErrInvalidToken
	}
	if err != nil {
		return SupabaseUser{}, fmt.Errorf("verify token: %w", err)
	}
	if user.ID == "" {
		return SupabaseUser{}, ErrInvalidToken
	}
	return user, nil
}

func (c *SupabaseClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.anonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readGoTrueError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readGoTrueError accepts both the OAuth shape (error, error_description) and the newer
// (code, error_code, msg) shape.
func readGoTrueError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	out := &GoTrueError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return out
	}
	for _, m := range []string{payload.ErrorDescription, payload.Msg, payload.Message, payload.Error} {
		if m != "" {
			out.Message = m
			break
		}
	}
	out.Code = payload.ErrorCode
	if out.Code == "" && payload.ErrorDescription != "" {
		out.Code = payload.Error
	}
	return out
}
