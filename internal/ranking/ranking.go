// Package ranking orders submissions by votes and assigns competition ranks.
package ranking

import (
	"sort"

	"odaiboard/internal/models"
)

type Entry struct {
	Submission models.Submission
	Rank       int
	Winner     bool
}

// Rank sorts a copy of subs by votes descending, then creation time
// ascending, and assigns standard competition ranks (1, 1, 3, ...).
// Submissions tied on both keys keep their input order.
func Rank(subs []models.Submission) []Entry {
	sorted := make([]models.Submission, len(subs))
	copy(sorted, subs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Votes != sorted[j].Votes {
			return sorted[i].Votes > sorted[j].Votes
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	entries := make([]Entry, len(sorted))
	lastVotes, lastRank := 0, 0
	for i, sub := range sorted {
		rank := i + 1
		if i > 0 && sub.Votes == lastVotes {
			rank = lastRank
		}
		entries[i] = Entry{Submission: sub, Rank: rank}
		lastVotes, lastRank = sub.Votes, rank
	}
	return entries
}

// Results ranks subs and marks every rank-1 entry as a winner, unless
// nobody has received a vote.
func Results(subs []models.Submission) []Entry {
	entries := Rank(subs)
	if len(entries) == 0 || entries[0].Submission.Votes <= 0 {
		return entries
	}
	for i := range entries {
		if entries[i].Rank != 1 {
			break
		}
		entries[i].Winner = true
	}
	return entries
}
