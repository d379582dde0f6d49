package game

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// traderSource implements fuzzy.Source over usernames.
type traderSource []Trader

func (t traderSource) Len() int            { return len(t) }
func (t traderSource) String(i int) string { return strings.ToLower(t[i].Username) }

// RankTraders orders candidates by fuzzy match quality against query and keeps at most limit.
// Candidates that do not match at all are dropped.
func RankTraders(query string, candidates []Trader, limit int) []Trader {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(candidates) == 0 {
		return []Trader{}
	}
	matches := fuzzy.FindFrom(query, traderSource(candidates))
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Trader, 0, len(matches))
	for _, m := range matches {
		out = append(out, candidates[m.Index])
	}
	return out
}
