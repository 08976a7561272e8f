package domain

import "sort"

// RankedPlayer is a leaderboard row.
type RankedPlayer struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Score       int    `json:"score"`
	SeatOrder   int    `json:"seatOrder"`
}

// Rank orders players for the leaderboard: score descending, ties broken
// by seat order ascending so the earliest joiner wins. Players that left
// keep their place; the rule is the same live and after the fact.
func Rank(players []Player) []RankedPlayer {
	ranked := make([]RankedPlayer, 0, len(players))
	for _, p := range players {
		ranked = append(ranked, RankedPlayer{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			SeatOrder:   p.SeatOrder,
		})
	}
	sortRanked(ranked)
	return ranked
}

func sortRanked(ranked []RankedPlayer) {
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].SeatOrder < ranked[j].SeatOrder
	})
}

// ResultSummary is the read shape for a finished session, buildable from
// a live snapshot or from a serialized hot-seat payload.
type ResultSummary struct {
	Mode           Mode           `json:"mode"`
	TotalQuestions int            `json:"totalQuestions"`
	Players        []RankedPlayer `json:"players"`
	Winner         string         `json:"winner"`
}

// SummarizeSnapshot builds a ResultSummary from a live snapshot.
func SummarizeSnapshot(snap Snapshot) ResultSummary {
	return Summarize(snap.Session.Mode, len(snap.Session.QuestionIDs), snap.Players)
}

// Summarize ranks the given players and names the winner. The winner is
// the top-ranked player's display name; empty when there are no players.
func Summarize(mode Mode, totalQuestions int, players []Player) ResultSummary {
	ranked := Rank(players)
	summary := ResultSummary{
		Mode:           mode,
		TotalQuestions: totalQuestions,
		Players:        ranked,
	}
	if len(ranked) > 0 {
		summary.Winner = ranked[0].DisplayName
	}
	return summary
}
