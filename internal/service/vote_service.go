package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/ledger"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
	"odaiboard/internal/ranking"
	"odaiboard/internal/store"
)

type Voter interface {
	CastOrToggleVote(ctx context.Context, topicID, voterID, submissionID string) (ledger.Outcome, error)
}

// Board is the voting view of a topic.
type Board struct {
	Topic   models.Topic
	Phase   phase.Result
	Entries []ranking.Entry
	// MyVote is the submission the caller voted for, empty if none.
	MyVote string
}

type Results struct {
	Topic   models.Topic
	Entries []ranking.Entry
}

type VoteService struct {
	store store.Store
	voter Voter
	now   func() time.Time
	log   zerolog.Logger
}

func NewVoteService(st store.Store, voter Voter, log zerolog.Logger) *VoteService {
	return &VoteService{
		store: st,
		voter: voter,
		now:   time.Now,
		log:   log.With().Str("component", "votes").Logger(),
	}
}

// Vote casts, moves or withdraws the user's ballot while the topic is in
// its voting phase.
func (s *VoteService) Vote(ctx context.Context, user models.User, topicID, submissionID string) (ledger.Outcome, error) {
	topic, err := visibleTopic(ctx, s.store, user.ID, topicID)
	if err != nil {
		return ledger.Outcome{}, err
	}
	if phase.Evaluate(topic.Window(), s.now()).Phase != phase.Voting {
		return ledger.Outcome{}, ErrVotingClosed
	}
	return s.voter.CastOrToggleVote(ctx, topicID, user.ID, submissionID)
}

// Board returns the submissions in live rank order with the caller's
// ballot. Winners are never marked here.
func (s *VoteService) Board(ctx context.Context, viewerID, topicID string) (Board, error) {
	topic, err := visibleTopic(ctx, s.store, viewerID, topicID)
	if err != nil {
		return Board{}, err
	}
	subs, err := s.store.ListSubmissions(ctx, topicID)
	if err != nil {
		return Board{}, err
	}

	board := Board{
		Topic:   topic,
		Phase:   phase.Evaluate(topic.Window(), s.now()),
		Entries: ranking.Rank(subs),
	}
	if viewerID == "" {
		return board, nil
	}
	ballot, err := s.store.GetBallot(ctx, topicID, viewerID)
	switch {
	case err == nil:
		board.MyVote = ballot.SubmissionID
	case !errors.Is(err, store.ErrNotFound):
		return Board{}, err
	}
	return board, nil
}

// Results returns the final ranking once voting has ended.
func (s *VoteService) Results(ctx context.Context, viewerID, topicID string) (Results, error) {
	topic, err := visibleTopic(ctx, s.store, viewerID, topicID)
	if err != nil {
		return Results{}, err
	}
	if phase.Evaluate(topic.Window(), s.now()).Phase != phase.Results {
		return Results{}, ErrResultsPending
	}
	subs, err := s.store.ListSubmissions(ctx, topicID)
	if err != nil {
		return Results{}, err
	}
	return Results{Topic: topic, Entries: ranking.Results(subs)}, nil
}
