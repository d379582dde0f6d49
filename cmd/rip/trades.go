package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"packrip/internal/game"
	"packrip/internal/syncq"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

func newTradersCmd(apiBase *string) *cobra.Command {
	traders := &cobra.Command{
		Use:   "traders",
		Short: "Find traders and browse their cards",
	}
	traders.AddCommand(&cobra.Command{
		Use:   "search [query]",
		Short: "Search traders by username",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			query, err := argOrPrompt(args, 0, "Username")
			if err != nil {
				return err
			}
			if len([]rune(query)) < game.MinSearchQuery {
				return game.ErrQueryTooShort
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SearchTraders(ctx, sess.AccessToken, query)
			if err != nil {
				return err
			}
			renderTraders(out)
			return nil
		},
	})
	traders.AddCommand(&cobra.Command{
		Use:   "cards [username|trade_ref]",
		Short: "List a trader's tradeable cards",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ref, err := argOrPrompt(args, 0, "Username or trade ref")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cards, err := newClient(apiBase).TraderCards(ctx, sess.AccessToken, ref)
			if err != nil {
				return err
			}
			renderCollection(cards, false)
			return nil
		},
	})
	return traders
}

func newShareCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "share",
		Short: "Show your trade ref as a QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := newClient(apiBase).Me(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			if p.TradeRef == "" {
				return fmt.Errorf("no trade ref on this profile")
			}
			link := shareLink(*apiBase, p.TradeRef)
			accent.Println("\nScan to send me a trade:")
			qrterminal.GenerateHalfBlock(link, qrterminal.L, os.Stdout)
			fmt.Println(link)
			if !p.AllowTrades {
				printWarn("Incoming trades are off. Turn them on with `rip allow-trades on`.")
			}
			return nil
		},
	}
}

func shareLink(apiBase, ref string) string {
	return strings.TrimRight(apiBase, "/") + "/v1/traders/" + ref + "/cards"
}

func newTradesCmd(apiBase *string) *cobra.Command {
	trades := &cobra.Command{
		Use:     "trades",
		Short:   "Propose and settle card trades",
		Aliases: []string{"trade"},
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List your trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListTrades(ctx, sess.AccessToken, status)
			if err != nil {
				return err
			}
			renderTrades(out, sess.UserID)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (pending, accepted, declined, cancelled, expired)")
	trades.AddCommand(list)

	trades.AddCommand(&cobra.Command{
		Use:   "show [trade_id]",
		Short: "Show one trade",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			id, err := argOrPrompt(args, 0, "Trade id")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			t, err := newClient(apiBase).GetTrade(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderTrade(t)
			return nil
		},
	})

	var offered, requested []string
	propose := &cobra.Command{
		Use:   "propose [username|trade_ref]",
		Short: "Offer your cards for theirs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			to, err := argOrPrompt(args, 0, "Trader (username or trade ref)")
			if err != nil {
				return err
			}
			if len(offered) == 0 {
				if offered, err = promptIDs("Your card ids (comma separated)"); err != nil {
					return err
				}
			}
			if len(requested) == 0 {
				if requested, err = promptIDs("Their card ids (comma separated)"); err != nil {
					return err
				}
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			t, err := newClient(apiBase).ProposeTrade(ctx, sess.AccessToken, to, offered, requested, idem)
			if err != nil {
				return queueOnNetworkError(err, sess, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/trades",
					IdempotencyKey: idem,
				}, map[string]any{"to": to, "offered_card_ids": offered, "requested_card_ids": requested})
			}
			printSuccess(fmt.Sprintf("Trade %s proposed. It expires in %s.", t.ID, expiresIn(t)))
			return nil
		},
	}
	propose.Flags().StringSliceVar(&offered, "offer", nil, "card ids you give")
	propose.Flags().StringSliceVar(&requested, "request", nil, "card ids you want")
	trades.AddCommand(propose)

	trades.AddCommand(
		newTradeActionCmd(apiBase, "accept", "Accept an incoming trade and swap the cards"),
		newTradeActionCmd(apiBase, "decline", "Decline an incoming trade"),
		newTradeActionCmd(apiBase, "cancel", "Cancel a trade you proposed"),
	)
	return trades
}

func newTradeActionCmd(apiBase *string, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [trade_id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			id, err := argOrPrompt(args, 0, "Trade id")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			t, err := newClient(apiBase).TradeAction(ctx, sess.AccessToken, id, action)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Trade %s is now %s.", t.ID, t.Status))
			return nil
		},
	}
}

func promptIDs(label string) ([]string, error) {
	raw, err := promptRequired(label)
	if err != nil {
		return nil, err
	}
	return splitIDs(raw), nil
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
