package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"packrip/internal/auth"
	"packrip/internal/game"
	"packrip/internal/trade"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := trade.Filter{}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := trade.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = st
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	out, err := s.trades.List(r.Context(), id, f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (s *Server) handleProposeTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	var in struct {
		To               string   `json:"to"`
		OfferedCardIDs   []string `json:"offered_card_ids"`
		RequestedCardIDs []string `json:"requested_card_ids"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	toUserID := ""
	if id.CanWrite() && strings.TrimSpace(in.To) != "" {
		resolved, err := s.game.ResolveTrader(r.Context(), in.To)
		if errors.Is(err, game.ErrProfileNotFound) {
			err = trade.ErrUserNotFound
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		toUserID = resolved
	}
	out, err := s.trades.Propose(r.Context(), id, trade.Proposal{
		ToUserID:         toUserID,
		OfferedCardIDs:   in.OfferedCardIDs,
		RequestedCardIDs: in.RequestedCardIDs,
		IdempotencyKey:   idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	out, err := s.trades.Get(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcceptTrade(w http.ResponseWriter, r *http.Request) {
	s.tradeAction(w, r, s.trades.Accept)
}

func (s *Server) handleDeclineTrade(w http.ResponseWriter, r *http.Request) {
	s.tradeAction(w, r, s.trades.Decline)
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request) {
	s.tradeAction(w, r, s.trades.Cancel)
}

type tradeOp func(ctx context.Context, id auth.Identity, tradeID string) (trade.Trade, error)

func (s *Server) tradeAction(w http.ResponseWriter, r *http.Request, op tradeOp) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	out, err := op(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
