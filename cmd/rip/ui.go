package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"packrip/internal/catalog"
	cl "packrip/internal/cli"
	"packrip/internal/game"
	"packrip/internal/reward"
	"packrip/internal/trade"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var rarityColors = map[catalog.Rarity]lipgloss.Color{
	catalog.Common:    lipgloss.Color("245"),
	catalog.Rare:      lipgloss.Color("39"),
	catalog.Epic:      lipgloss.Color("135"),
	catalog.Legendary: lipgloss.Color("214"),
	catalog.Mythic:    lipgloss.Color("197"),
}

var rarityPrinters = map[catalog.Rarity]*color.Color{
	catalog.Common:    color.New(color.FgWhite),
	catalog.Rare:      color.New(color.FgBlue, color.Bold),
	catalog.Epic:      color.New(color.FgMagenta, color.Bold),
	catalog.Legendary: color.New(color.FgYellow, color.Bold),
	catalog.Mythic:    color.New(color.FgRed, color.Bold),
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo on a terminal and falls back to a plain prompt for pipes.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func parseRarityFlag(s string) (catalog.Rarity, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return catalog.ParseRarity(s)
}

func rarityText(r catalog.Rarity) string {
	if p, ok := rarityPrinters[r]; ok {
		return p.Sprint(r.Label())
	}
	return r.String()
}

// renderCard draws one card as a bordered box tinted by rarity.
func renderCard(name string, r catalog.Rarity, clarity int, footer string) string {
	border, ok := rarityColors[r]
	if !ok {
		border = lipgloss.Color("245")
	}
	title := lipgloss.NewStyle().Bold(true).Foreground(border).Render(truncate(name, 22))
	body := []string{
		title,
		lipgloss.NewStyle().Foreground(border).Render(strings.ToUpper(r.String())),
		fmt.Sprintf("clarity %d/100", clarity),
		clarityBar(clarity, 20),
	}
	if footer != "" {
		body = append(body, lipgloss.NewStyle().Faint(true).Render(footer))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(26).
		Render(strings.Join(body, "\n"))
}

func clarityBar(clarity, width int) string {
	filled := clarity * width / 100
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderProfile(p game.Profile) {
	accent.Printf("\n== %s ==\n", game.DisplayName(p.Username, p.ID))
	if p.LocalOverride {
		printWarn("Local override session (read-only).")
	}
	fmt.Printf("Email:          %s\n", p.Email)
	fmt.Printf("Handle:         %s\n", p.Handle)
	fmt.Printf("Pack juice:     %d\n", p.Points)
	fmt.Printf("Unopened packs: %d\n", p.UnopenedPacks)
	fmt.Printf("Daily streak:   %d\n", p.DailyStreak)
	fmt.Printf("Allow trades:   %t\n", p.AllowTrades)
	fmt.Printf("Trade ref:      %s\n", p.TradeRef)
	if !p.ClaimedUsername {
		printInfo("Claim a username with `rip username <name>` so traders can find you.")
	}
	fmt.Println()
}

func renderStore(cat cl.Catalog) {
	accent.Printf("\n== STORE (drop %s) ==\n", cat.DropID)
	fmt.Printf("%-10s %-18s %8s %6s  %s\n", "PACK", "TITLE", "COST", "CARDS", "ODDS")
	for _, p := range cat.Packs {
		fmt.Printf("%-10s %-18s %8d %6d  %s\n", p.ID, truncate(p.Title, 18), p.Cost, p.Cards, formatOdds(p.Odds))
	}
	fmt.Println()
	accent.Println("Bundles")
	for _, b := range cat.Bundles {
		fmt.Printf("%-10s %-18s %8d\n", b.ID, truncate(b.Title, 18), b.Points)
	}
	fmt.Println()
}

func formatOdds(odds map[string]float64) string {
	parts := make([]string, 0, len(odds))
	for _, r := range catalog.Tiers {
		if p, ok := odds[r.String()]; ok {
			parts = append(parts, fmt.Sprintf("%s %.1f%%", r.String(), p*100))
		}
	}
	return strings.Join(parts, ", ")
}

func renderPacks(packs []game.Pack) {
	accent.Println("\n== PACKS ==")
	if len(packs) == 0 {
		printInfo("No packs.")
		return
	}
	fmt.Printf("%-36s %-10s %-14s %-8s %-16s\n", "ID", "TYPE", "DROP", "OPENED", "BOUGHT")
	for _, p := range packs {
		opened := "no"
		if p.Opened {
			opened = "yes"
		}
		fmt.Printf("%-36s %-10s %-14s %-8s %-16s\n", p.ID, p.PackType, truncate(p.DropID, 14), opened, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

// renderOpen reveals cards weakest first so the best pull lands last.
func renderOpen(out game.OpenResult) {
	accent.Printf("\n== RIPPED %s PACK ==\n", strings.ToUpper(out.Pack.PackType))
	boxes := make([]string, 0, len(out.Cards))
	for _, c := range reward.RevealOrder(out.Cards) {
		boxes = append(boxes, renderCard(c.Name, c.Rarity, c.ClarityIndex, fmt.Sprintf("slot %d", c.Slot+1)))
	}
	for i := 0; i < len(boxes); i += 3 {
		end := min(i+3, len(boxes))
		fmt.Println(lipgloss.JoinHorizontal(lipgloss.Top, boxes[i:end]...))
	}
	best := out.BestPull
	fmt.Printf("Best pull: %s (%s, clarity %d)\n\n", best.Name, rarityText(best.Rarity), best.ClarityIndex)
}

func renderCollection(cards []game.Card, cached bool) {
	title := "COLLECTION"
	if cached {
		title += " (cached)"
	}
	accent.Printf("\n== %s ==\n", title)
	if len(cards) == 0 {
		printInfo("No cards.")
		return
	}
	fmt.Printf("%-36s %-22s %-10s %7s %-12s %6s\n", "ID", "NAME", "RARITY", "CLARITY", "GRADE", "LOCKED")
	counts := map[catalog.Rarity]int{}
	for _, c := range cards {
		counts[c.Rarity]++
		locked := ""
		if c.Locked {
			locked = "yes"
		}
		// Pad before colouring; escape codes break %-10s.
		fmt.Printf("%-36s %-22s %s %7d %-12s %6s\n",
			c.ID,
			truncate(c.Name, 22),
			padColored(rarityText(c.Rarity), c.Rarity.Label(), 10),
			c.ClarityIndex,
			truncate(c.Grade, 12),
			locked,
		)
	}
	parts := make([]string, 0, len(counts))
	for _, r := range catalog.Tiers {
		if n := counts[r]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", r.String(), n))
		}
	}
	fmt.Printf("\n%d card(s): %s\n\n", len(cards), strings.Join(parts, ", "))
}

func padColored(colored, plain string, width int) string {
	if pad := width - len(plain); pad > 0 {
		return colored + strings.Repeat(" ", pad)
	}
	return colored
}

func renderTraders(traders []game.Trader) {
	accent.Println("\n== TRADERS ==")
	if len(traders) == 0 {
		printInfo("No traders found.")
		return
	}
	fmt.Printf("%-24s %s\n", "USERNAME", "TRADE REF")
	for _, t := range traders {
		fmt.Printf("%-24s %s\n", truncate(t.Username, 24), t.TradeRef)
	}
	fmt.Println()
}

func renderTrades(trades []trade.Trade, me string) {
	accent.Println("\n== TRADES ==")
	if len(trades) == 0 {
		printInfo("No trades.")
		return
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].CreatedAt.After(trades[j].CreatedAt) })
	fmt.Printf("%-36s %-9s %-10s %7s %9s %-16s\n", "ID", "ROLE", "STATUS", "OFFER", "REQUEST", "EXPIRES")
	for _, t := range trades {
		role := "incoming"
		if t.FromUserID == me {
			role = "outgoing"
		}
		fmt.Printf("%-36s %-9s %s %7d %9d %-16s\n",
			t.ID,
			role,
			padColored(statusText(t.Status), string(t.Status), 10),
			len(t.OfferedCardIDs),
			len(t.RequestedCardIDs),
			expiresIn(t),
		)
	}
	fmt.Println()
}

func renderTrade(t trade.Trade) {
	accent.Printf("\n== TRADE %s ==\n", t.ID)
	fmt.Printf("Status:    %s\n", statusText(t.Status))
	fmt.Printf("From:      %s\n", game.Handle(t.FromUserID))
	fmt.Printf("To:        %s\n", game.Handle(t.ToUserID))
	fmt.Printf("Offered:   %s\n", strings.Join(t.OfferedCardIDs, ", "))
	fmt.Printf("Requested: %s\n", strings.Join(t.RequestedCardIDs, ", "))
	fmt.Printf("Created:   %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Printf("Expires:   %s\n", expiresIn(t))
	fmt.Println()
}

func statusText(s trade.Status) string {
	switch s {
	case trade.StatusPending:
		return warn.Sprint(s)
	case trade.StatusAccepted:
		return success.Sprint(s)
	case trade.StatusDeclined, trade.StatusExpired:
		return danger.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func expiresIn(t trade.Trade) string {
	if t.Status != trade.StatusPending {
		return "-"
	}
	left := time.Until(t.ExpiresAt)
	if left <= 0 {
		return "due"
	}
	return left.Round(time.Minute).String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
