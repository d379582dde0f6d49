package api

import (
	"net/http"
	"strconv"
	"strings"

	"packrip/internal/catalog"
	"packrip/internal/game"
	"packrip/internal/metrics"
	"packrip/internal/reward"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(in.Username)
	if username != "" {
		if _, err := game.ValidateUsername(username); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	session, err := s.accounts.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.User.ID != "" {
		if err := s.game.EnsureProfile(r.Context(), session.User.ID, session.User.Email); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if username != "" {
			if _, err := s.game.ClaimUsername(r.Context(), session.User.ID, username); err != nil {
				s.log.Warn("signup username not claimed", "user_id", session.User.ID, "err", err)
			}
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.accounts.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.game.EnsureProfile(r.Context(), session.User.ID, session.User.Email); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.accounts.Refresh(r.Context(), strings.TrimSpace(in.RefreshToken))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type packView struct {
	catalog.PackType
	Odds map[catalog.Rarity]float64 `json:"odds"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	cat := s.game.Catalog()
	packs := make([]packView, 0, len(cat.Packs()))
	for _, p := range cat.Packs() {
		packs = append(packs, packView{PackType: p, Odds: reward.Odds(cat.PackWeights(p))})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drop_id":                   cat.DropID(),
		"odds":                      reward.Odds(cat.Weights()),
		"packs":                     packs,
		"bundles":                   game.Bundles,
		"trade_lock_window_seconds": int64(s.trades.LockWindow().Seconds()),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	if !id.CanWrite() {
		writeJSON(w, http.StatusOK, game.LocalProfile(id.UserID()))
		return
	}
	p, err := s.game.Profile(r.Context(), id.UserID())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleClaimUsername(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	var in struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.game.ClaimUsername(r.Context(), id.UserID(), in.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAllowTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	var in struct {
		Allow bool `json:"allow"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.SetAllowTrades(r.Context(), id.UserID(), in.Allow); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allow_trades": in.Allow})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	var in struct {
		Bundle string `json:"bundle"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.TopUp(r.Context(), id.UserID(), in.Bundle, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	if !id.CanWrite() {
		writeJSON(w, http.StatusOK, map[string]any{"packs": []game.Pack{}})
		return
	}
	out, err := s.game.ListPacks(r.Context(), id.UserID(), r.URL.Query().Get("unopened") == "1")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packs": out})
}

func (s *Server) handleBuyPacks(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	var in struct {
		PackType string `json:"pack_type"`
		Quantity int    `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	out, err := s.game.BuyPacks(r.Context(), id.UserID(), in.PackType, in.Quantity, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handlePackCount(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	if !id.CanWrite() {
		writeJSON(w, http.StatusOK, map[string]any{"unopened": 0})
		return
	}
	n, err := s.game.UnopenedCount(r.Context(), id.UserID())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unopened": n})
}

func (s *Server) handleOpenPack(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	out, err := s.game.OpenPack(r.Context(), id.UserID(), chi.URLParam(r, "id"), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.PacksOpenedTotal.WithLabelValues(out.Pack.PackType).Inc()
	for _, c := range out.Cards {
		metrics.CardsMintedTotal.WithLabelValues(c.Rarity.String()).Inc()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	out, err := s.game.ClaimDaily(r.Context(), id.UserID())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSpin(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	out, err := s.game.Spin(r.Context(), id.UserID())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.CardsMintedTotal.WithLabelValues(out.Card.Rarity.String()).Inc()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var f game.CollectionFilter
	if raw := strings.TrimSpace(q.Get("rarity")); raw != "" {
		rarity, err := catalog.ParseRarity(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		f.Rarity = rarity
	}
	f.Grade = q.Get("grade")
	f.TradeableOnly = q.Get("tradeable") == "1"
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	if !id.CanWrite() {
		writeJSON(w, http.StatusOK, map[string]any{"cards": []game.Card{}})
		return
	}
	out, err := s.game.Collection(r.Context(), id.UserID(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": out})
}

func (s *Server) handleLockCard(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	var in struct {
		Locked bool `json:"locked"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.SetCardLocked(r.Context(), id.UserID(), chi.URLParam(r, "id"), in.Locked)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearchTraders(w http.ResponseWriter, r *http.Request) {
	id, ok := writer(w, r)
	if !ok {
		return
	}
	if !s.search.Allow(id.UserID()) {
		writeError(w, http.StatusTooManyRequests, "too many searches, slow down")
		return
	}
	out, err := s.game.SearchTraders(r.Context(), id.UserID(), r.URL.Query().Get("q"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"traders": out})
}

func (s *Server) handleTraderCards(w http.ResponseWriter, r *http.Request) {
	if _, ok := writer(w, r); !ok {
		return
	}
	out, err := s.game.TraderCards(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": out})
}
