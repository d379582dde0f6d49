package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"packrip/internal/auth"
	"packrip/internal/game"
	"packrip/internal/realtime"
	"packrip/internal/trade"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, username string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"username": username,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out, "")
	return out, err
}

type CatalogPack struct {
	ID    string             `json:"id"`
	Title string             `json:"title"`
	Cost  int64              `json:"cost"`
	Cards int                `json:"cards"`
	Odds  map[string]float64 `json:"odds"`
}

type Catalog struct {
	DropID  string             `json:"drop_id"`
	Odds    map[string]float64 `json:"odds"`
	Packs   []CatalogPack      `json:"packs"`
	Bundles []game.Bundle      `json:"bundles"`
}

func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	var out Catalog
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", "", nil, &out, "")
	return out, err
}

func (c *Client) Me(ctx context.Context, accessToken string) (game.Profile, error) {
	var out game.Profile
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ClaimUsername(ctx context.Context, accessToken, username string) (game.Profile, error) {
	var out game.Profile
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/me/username", accessToken, map[string]any{
		"username": username,
	}, &out, "")
	return out, err
}

func (c *Client) SetAllowTrades(ctx context.Context, accessToken string, allow bool) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/me/allow-trades", accessToken, map[string]any{
		"allow": allow,
	}, nil, "")
}

func (c *Client) TopUp(ctx context.Context, accessToken, bundle, idem string) (game.TopUpResult, error) {
	var out game.TopUpResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/store/topup", accessToken, map[string]any{
		"bundle": bundle,
	}, &out, idem)
	return out, err
}

func (c *Client) BuyPacks(ctx context.Context, accessToken, packType string, quantity int, idem string) (game.PurchaseResult, error) {
	var out game.PurchaseResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/packs", accessToken, map[string]any{
		"pack_type": packType,
		"quantity":  quantity,
	}, &out, idem)
	return out, err
}

func (c *Client) ListPacks(ctx context.Context, accessToken string, unopenedOnly bool) ([]game.Pack, error) {
	path := "/v1/packs"
	if unopenedOnly {
		path += "?unopened=1"
	}
	var out struct {
		Packs []game.Pack `json:"packs"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Packs, err
}

func (c *Client) PackCount(ctx context.Context, accessToken string) (int, error) {
	var out struct {
		Unopened int `json:"unopened"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/packs/count", accessToken, nil, &out, "")
	return out.Unopened, err
}

func (c *Client) OpenPack(ctx context.Context, accessToken, packID, idem string) (game.OpenResult, error) {
	var out game.OpenResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/packs/"+url.PathEscape(packID)+"/open", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) Daily(ctx context.Context, accessToken string) (game.DailyResult, error) {
	var out game.DailyResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/daily", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Spin(ctx context.Context, accessToken string) (game.SpinResult, error) {
	var out game.SpinResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/spin", accessToken, nil, &out, "")
	return out, err
}

type CollectionQuery struct {
	Rarity        string
	Grade         string
	TradeableOnly bool
	Limit         int
}

func (c *Client) Collection(ctx context.Context, accessToken string, q CollectionQuery) ([]game.Card, error) {
	v := url.Values{}
	if q.Rarity != "" {
		v.Set("rarity", q.Rarity)
	}
	if q.Grade != "" {
		v.Set("grade", q.Grade)
	}
	if q.TradeableOnly {
		v.Set("tradeable", "1")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/v1/cards"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out struct {
		Cards []game.Card `json:"cards"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Cards, err
}

func (c *Client) LockCard(ctx context.Context, accessToken, cardID string, locked bool) (game.Card, error) {
	var out game.Card
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/cards/"+url.PathEscape(cardID)+"/lock", accessToken, map[string]any{
		"locked": locked,
	}, &out, "")
	return out, err
}

func (c *Client) SearchTraders(ctx context.Context, accessToken, query string) ([]game.Trader, error) {
	var out struct {
		Traders []game.Trader `json:"traders"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/traders/search?q="+url.QueryEscape(query), accessToken, nil, &out, "")
	return out.Traders, err
}

func (c *Client) TraderCards(ctx context.Context, accessToken, ref string) ([]game.Card, error) {
	var out struct {
		Cards []game.Card `json:"cards"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/traders/"+url.PathEscape(ref)+"/cards", accessToken, nil, &out, "")
	return out.Cards, err
}

func (c *Client) ListTrades(ctx context.Context, accessToken, status string) ([]trade.Trade, error) {
	path := "/v1/trades"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Trades []trade.Trade `json:"trades"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Trades, err
}

func (c *Client) ProposeTrade(ctx context.Context, accessToken, to string, offered, requested []string, idem string) (trade.Trade, error) {
	var out trade.Trade
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades", accessToken, map[string]any{
		"to":                 to,
		"offered_card_ids":   offered,
		"requested_card_ids": requested,
	}, &out, idem)
	return out, err
}

func (c *Client) GetTrade(ctx context.Context, accessToken, tradeID string) (trade.Trade, error) {
	var out trade.Trade
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/trades/"+url.PathEscape(tradeID), accessToken, nil, &out, "")
	return out, err
}

// TradeAction posts accept, decline or cancel.
func (c *Client) TradeAction(ctx context.Context, accessToken, tradeID, action string) (trade.Trade, error) {
	var out trade.Trade
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades/"+url.PathEscape(tradeID)+"/"+action, accessToken, nil, &out, "")
	return out, err
}

// Events reads the server-sent event stream until ctx is done or the server hangs up.
func (c *Client) Events(ctx context.Context, accessToken string, fn func(realtime.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	// The stream is long-lived; the client timeout would cut it.
	stream := &http.Client{Transport: c.HTTP.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	return readEvents(resp.Body, fn)
}

func readEvents(r io.Reader, fn func(realtime.Event)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e realtime.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			continue
		}
		fn(e)
	}
	return sc.Err()
}

// Do sends a raw request. Queued offline writes are replayed through it.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) error {
	var in any
	if body != nil {
		in = body
	}
	return c.jsonRequest(ctx, method, path, accessToken, in, nil, idem)
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
	}
	return apiErr
}
