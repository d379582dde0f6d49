package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"packrip/internal/auth"
	cl "packrip/internal/cli"
	"packrip/internal/config"
	"packrip/internal/game"
	"packrip/internal/syncq"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cliCfg     config.CLIConfig
	sessionAPI *string
)

func main() {
	_ = godotenv.Load()
	cliCfg = config.LoadCLIFromEnv()
	cl.SetBaseDir(cliCfg.CacheDir)
	apiBase := cliCfg.APIBaseURL
	sessionAPI = &apiBase

	root := &cobra.Command{
		Use:          "rip",
		Short:        "Pack Rip CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newMeCmd(&apiBase),
		newUsernameCmd(&apiBase),
		newAllowTradesCmd(&apiBase),
		newStoreCmd(&apiBase),
		newTopUpCmd(&apiBase),
		newBuyCmd(&apiBase),
		newPacksCmd(&apiBase),
		newOpenCmd(&apiBase),
		newDailyCmd(&apiBase),
		newSpinCmd(&apiBase),
		newCollectionCmd(&apiBase),
		newLockCmd(&apiBase, true),
		newLockCmd(&apiBase, false),
		newTradersCmd(&apiBase),
		newShareCmd(&apiBase),
		newTradesCmd(&apiBase),
		newWatchCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// loadSession returns the saved session, or the read-only override session when enabled.
func loadSession() (cl.Session, error) {
	if cliCfg.LocalOverride {
		if cliCfg.OverrideToken == "" {
			return cl.Session{}, errors.New("RIP_LOCAL_OVERRIDE is set but RIP_LOCAL_OVERRIDE_TOKEN is empty")
		}
		return cl.OverrideSession(cliCfg.OverrideToken), nil
	}
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	if sess.Stale(time.Now()) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if sess, err = cl.Fresh(ctx, newClient(sessionAPI), sess, time.Now()); err != nil {
			printWarn(fmt.Sprintf("Session refresh failed: %v", err))
		}
	}
	return sess, nil
}

func saveAuthSession(email string, s auth.Session) error {
	sess := cl.NewSession(s, time.Now())
	if sess.Email == "" {
		sess.Email = email
	}
	return cl.SaveSession(sess)
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Pack Rip account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			username, err := promptOptional("Username (optional)")
			if err != nil {
				return err
			}
			if username != "" {
				if username, err = game.ValidateUsername(username); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Signup(ctx, email, password, username)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `rip login`.")
				return nil
			}
			if err := saveAuthSession(email, session); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Pack Rip",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveAuthSession(email, session); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newMeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your profile",
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
			renderProfile(p)
			return nil
		},
	}
}

func newUsernameCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "username [name]",
		Short: "Claim your username (once)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			name, err := argOrPrompt(args, 0, "Username")
			if err != nil {
				return err
			}
			name, err = game.ValidateUsername(name)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := newClient(apiBase).ClaimUsername(ctx, sess.AccessToken, name)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Username claimed: %s", p.Username))
			return nil
		},
	}
}

func newAllowTradesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "allow-trades [on|off]",
		Short: "Allow or block incoming trade offers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			var choice string
			if len(args) > 0 {
				choice = strings.ToLower(strings.TrimSpace(args[0]))
			} else if choice, err = promptChoice("Allow trades", []string{"on", "off"}, "on"); err != nil {
				return err
			}
			if choice != "on" && choice != "off" {
				return fmt.Errorf("expected on or off, got %q", choice)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).SetAllowTrades(ctx, sess.AccessToken, choice == "on"); err != nil {
				return err
			}
			printSuccess("Trades " + choice + ".")
			return nil
		},
	}
}

func newStoreCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "store",
		Short: "Show pack types, odds and point bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cat, err := newClient(apiBase).Catalog(ctx)
			if err != nil {
				return err
			}
			renderStore(cat)
			return nil
		},
	}
}

func newTopUpCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "topup [bundle]",
		Short: "Add pack juice from a bundle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			bundle, err := argOrPrompt(args, 0, "Bundle")
			if err != nil {
				return err
			}
			if _, ok := game.BundleByID(bundle); !ok {
				return game.ErrUnknownBundle
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).TopUp(ctx, sess.AccessToken, bundle, idem)
			if err != nil {
				return queueOnNetworkError(err, sess, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/store/topup",
					IdempotencyKey: idem,
				}, map[string]any{"bundle": bundle})
			}
			printSuccess(fmt.Sprintf("Added %d from %s. Balance: %d", out.Bundle.Points, out.Bundle.Title, out.Points))
			return nil
		},
	}
}

func newBuyCmd(apiBase *string) *cobra.Command {
	var qty int
	cmd := &cobra.Command{
		Use:   "buy [pack_type]",
		Short: "Buy packs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			packType, err := argOrPrompt(args, 0, "Pack type")
			if err != nil {
				return err
			}
			if qty < 1 || qty > game.MaxPacksPerPurchase {
				return game.ErrInvalidQuantity
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).BuyPacks(ctx, sess.AccessToken, packType, qty, idem)
			if err != nil {
				return queueOnNetworkError(err, sess, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/packs",
					IdempotencyKey: idem,
				}, map[string]any{"pack_type": packType, "quantity": qty})
			}
			printSuccess(fmt.Sprintf("Bought %d %s pack(s). Balance: %d", len(out.Packs), packType, out.Points))
			return nil
		},
	}
	cmd.Flags().IntVarP(&qty, "qty", "n", 1, "number of packs")
	return cmd
}

func newPacksCmd(apiBase *string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "packs",
		Short: "List your packs",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			packs, err := newClient(apiBase).ListPacks(ctx, sess.AccessToken, !all)
			if err != nil {
				return err
			}
			renderPacks(packs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include opened packs")
	return cmd
}

func newOpenCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "open [pack_id]",
		Short: "Rip open a pack (defaults to your oldest unopened pack)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)

			var packID string
			if len(args) > 0 {
				packID = strings.TrimSpace(args[0])
			} else {
				packs, err := client.ListPacks(ctx, sess.AccessToken, true)
				if err != nil {
					return err
				}
				if len(packs) == 0 {
					printInfo("No unopened packs. Try `rip buy basic`.")
					return nil
				}
				packID = packs[len(packs)-1].ID
			}
			out, err := client.OpenPack(ctx, sess.AccessToken, packID, uuid.NewString())
			if err != nil {
				return err
			}
			renderOpen(out)
			return nil
		},
	}
}

func newDailyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Claim the daily reward",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Daily(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Day %d/%d of your streak (%d): +%d. Balance: %d", out.CycleDay, game.StreakCycle, out.Streak, out.Reward, out.Points))
			if out.BonusPack != nil {
				accent.Println("Streak bonus: a mega pack is waiting in `rip packs`.")
			}
			return nil
		},
	}
}

func newSpinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "spin",
		Short: "Spin for a free card",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Spin(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			fmt.Println(renderCard(out.Card.Name, out.Card.Rarity, out.Card.ClarityIndex, ""))
			printInfo("Next spin: " + out.NextSpinAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
}

func newCollectionCmd(apiBase *string) *cobra.Command {
	var q cl.CollectionQuery
	var cached bool
	cmd := &cobra.Command{
		Use:     "collection",
		Short:   "List your cards",
		Aliases: []string{"cards"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			rarity, err := parseRarityFlag(q.Rarity)
			if err != nil {
				return err
			}
			store, err := openLocalStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if cached {
				cards, err := store.Cards(sess.UserID, rarity, q.Grade, q.TradeableOnly)
				if err != nil {
					return err
				}
				renderCollection(cards, true)
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cards, err := newClient(apiBase).Collection(ctx, sess.AccessToken, q)
			if err != nil {
				if !cl.IsAPIError(err) {
					printWarn("API unreachable, showing cached cards.")
					cards, cerr := store.Cards(sess.UserID, rarity, q.Grade, q.TradeableOnly)
					if cerr != nil {
						return err
					}
					renderCollection(cards, true)
					return nil
				}
				return err
			}
			// Only a full listing is a faithful snapshot of the collection.
			if q.Rarity == "" && q.Grade == "" && !q.TradeableOnly && q.Limit == 0 {
				if err := store.ReplaceCards(sess.UserID, cards); err != nil {
					printWarn(fmt.Sprintf("Could not update local cache: %v", err))
				}
			}
			renderCollection(cards, false)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Rarity, "rarity", "", "filter by rarity (common, rare, epic, legendary, mythic)")
	cmd.Flags().StringVar(&q.Grade, "grade", "", "filter by grade substring")
	cmd.Flags().BoolVar(&q.TradeableOnly, "tradeable", false, "only unlocked cards")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum cards to show")
	cmd.Flags().BoolVar(&cached, "cached", false, "read the local cache instead of the API")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the local collection cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			store, err := openLocalStore()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.ClearCards(sess.UserID)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Cleared %d cached card(s).", n))
			return nil
		},
	})
	return cmd
}

func newLockCmd(apiBase *string, locked bool) *cobra.Command {
	use, short := "unlock [card_id]", "Make a card tradeable again"
	if locked {
		use, short = "lock [card_id]", "Lock a card so it cannot be traded"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			cardID, err := argOrPrompt(args, 0, "Card id")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			card, err := newClient(apiBase).LockCard(ctx, sess.AccessToken, cardID, locked)
			if err != nil {
				return err
			}
			state := "unlocked"
			if card.Locked {
				state = "locked"
			}
			printSuccess(fmt.Sprintf("%s is now %s.", card.Name, state))
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession()
			if err != nil {
				return err
			}
			store, err := openLocalStore()
			if err != nil {
				return err
			}
			defer store.Close()
			queue, err := store.Pending(sess.UserID)
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			replayed, remaining := 0, 0
			for _, q := range queue {
				body, err := q.BodyMap()
				if err == nil {
					err = client.Do(ctx, q.Method, q.Path, sess.AccessToken, body, q.IdempotencyKey)
				}
				var apiErr *cl.APIError
				switch {
				case err == nil:
					replayed++
					_ = store.Done(q.ID)
				case errors.As(err, &apiErr):
					// The server has answered; retrying the same key cannot change that.
					printError(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
					_ = store.Done(q.ID)
				default:
					remaining++
					_ = store.Failed(q.ID)
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
				}
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, remaining))
			return nil
		},
	}
}

func openLocalStore() (*syncq.Store, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

// queueOnNetworkError keeps an idempotent write for `rip sync` when the API could not be reached.
func queueOnNetworkError(err error, sess cl.Session, q syncq.Command, body map[string]any) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) || sess.Override {
		return err
	}
	store, serr := openLocalStore()
	if serr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	defer store.Close()
	if serr := store.Push(sess.UserID, q.Method, q.Path, body, q.IdempotencyKey); serr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	printWarn("API unreachable. Queued for `rip sync`.")
	return nil
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx {
		if v := strings.TrimSpace(args[idx]); v != "" {
			return v, nil
		}
	}
	return promptRequired(label)
}
