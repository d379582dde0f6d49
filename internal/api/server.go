package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"packrip/internal/auth"
	"packrip/internal/catalog"
	"packrip/internal/config"
	"packrip/internal/db"
	"packrip/internal/game"
	"packrip/internal/metrics"
	"packrip/internal/realtime"
	"packrip/internal/trade"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Accounts is the hosted auth service.
type Accounts interface {
	auth.TokenVerifier
	SignUp(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
}

// Economy is the part of game.Service the handlers use.
type Economy interface {
	Catalog() *catalog.Catalog
	EnsureProfile(ctx context.Context, userID, email string) error
	Profile(ctx context.Context, userID string) (game.Profile, error)
	ClaimUsername(ctx context.Context, userID, name string) (game.Profile, error)
	SetAllowTrades(ctx context.Context, userID string, allow bool) error
	TopUp(ctx context.Context, userID, bundleID, idem string) (game.TopUpResult, error)
	BuyPacks(ctx context.Context, userID, packType string, quantity int, idem string) (game.PurchaseResult, error)
	ListPacks(ctx context.Context, userID string, unopenedOnly bool) ([]game.Pack, error)
	UnopenedCount(ctx context.Context, userID string) (int, error)
	OpenPack(ctx context.Context, userID, packID, idem string) (game.OpenResult, error)
	ClaimDaily(ctx context.Context, userID string) (game.DailyResult, error)
	Spin(ctx context.Context, userID string) (game.SpinResult, error)
	Collection(ctx context.Context, userID string, f game.CollectionFilter) ([]game.Card, error)
	SetCardLocked(ctx context.Context, userID, cardID string, locked bool) (game.Card, error)
	SearchTraders(ctx context.Context, userID, query string) ([]game.Trader, error)
	ResolveTrader(ctx context.Context, refOrUsername string) (string, error)
	TraderCards(ctx context.Context, ref string) ([]game.Card, error)
}

var _ Economy = (*game.Service)(nil)

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	accounts Accounts
	verifier auth.TokenVerifier
	game     Economy
	trades   *trade.Engine
	hub      *realtime.Hub
	search   *limiterSet
	mux      *chi.Mux
}

// New builds the router. verifier may wrap accounts with a cache; nil uses accounts directly.
func New(cfg config.APIConfig, logger *slog.Logger, accounts Accounts, verifier auth.TokenVerifier, econ Economy, trades *trade.Engine, hub *realtime.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if verifier == nil {
		verifier = accounts
	}
	if hub == nil {
		hub = realtime.NewHub(0)
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		accounts: accounts,
		verifier: verifier,
		game:     econ,
		trades:   trades,
		hub:      hub,
		search:   newLimiterSet(cfg.SearchPerMinute),
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The event stream outlives the request timeout.
		r.With(s.authMiddleware).Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Get("/catalog", s.handleCatalog)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/me", s.handleMe)
				r.Post("/me/username", s.handleClaimUsername)
				r.Post("/me/allow-trades", s.handleAllowTrades)

				r.Post("/store/topup", s.handleTopUp)
				r.Get("/packs", s.handleListPacks)
				r.Post("/packs", s.handleBuyPacks)
				r.Get("/packs/count", s.handlePackCount)
				r.Post("/packs/{id}/open", s.handleOpenPack)
				r.Post("/daily", s.handleDaily)
				r.Post("/spin", s.handleSpin)

				r.Get("/cards", s.handleCollection)
				r.Post("/cards/{id}/lock", s.handleLockCard)

				r.Get("/traders/search", s.handleSearchTraders)
				r.Get("/traders/{ref}/cards", s.handleTraderCards)

				r.Get("/trades", s.handleListTrades)
				r.Post("/trades", s.handleProposeTrade)
				r.Get("/trades/{id}", s.handleGetTrade)
				r.Post("/trades/{id}/accept", s.handleAcceptTrade)
				r.Post("/trades/{id}/decline", s.handleDeclineTrade)
				r.Post("/trades/{id}/cancel", s.handleCancelTrade)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if s.isOverrideToken(token) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), auth.LocalOverrideIdentity{})))
			return
		}
		user, err := s.verifier.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		id := auth.AuthenticatedIdentity{ID: user.ID, Address: user.Email}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func (s *Server) isOverrideToken(token string) bool {
	want := s.cfg.LocalOverrideToken
	return want != "" && subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

func identityFrom(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth context")
		return nil, false
	}
	return id, true
}

// writer is identityFrom for handlers that change persisted state.
func writer(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := identityFrom(w, r)
	if !ok {
		return nil, false
	}
	if !id.CanWrite() {
		writeDomainError(w, game.ErrReadOnlyIdentity)
		return nil, false
	}
	return id, true
}

// retryAfterSeconds is sent with transient storage failures.
const retryAfterSeconds = "1"

func writeDomainError(w http.ResponseWriter, err error) {
	if kind := trade.KindOf(err); kind != trade.KindUnknown {
		if trade.Retryable(err) {
			w.Header().Set("Retry-After", retryAfterSeconds)
		}
		writeJSON(w, tradeStatus(kind), map[string]any{"error": err.Error(), "kind": kind})
		return
	}
	switch {
	case errors.Is(err, game.ErrDuplicateIdempotency),
		errors.Is(err, game.ErrPackOpened),
		errors.Is(err, game.ErrAlreadyClaimed),
		errors.Is(err, game.ErrUsernameTaken),
		errors.Is(err, game.ErrUsernameClaimed),
		errors.Is(err, db.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrUnknownBundle),
		errors.Is(err, game.ErrUnknownPackType),
		errors.Is(err, game.ErrInvalidQuantity),
		errors.Is(err, game.ErrInvalidUsername),
		errors.Is(err, game.ErrBlockedUsername),
		errors.Is(err, game.ErrQueryTooShort),
		errors.Is(err, catalog.ErrUnknownRarity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrProfileNotFound),
		errors.Is(err, game.ErrPackNotFound),
		errors.Is(err, game.ErrCardNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrReadOnlyIdentity):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrSpinCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func tradeStatus(k trade.Kind) int {
	switch k {
	case trade.KindValidation:
		return http.StatusBadRequest
	case trade.KindNotFound:
		return http.StatusNotFound
	case trade.KindConflict:
		return http.StatusConflict
	case trade.KindUnauthorized:
		return http.StatusForbidden
	case trade.KindExpired:
		return http.StatusGone
	case trade.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
