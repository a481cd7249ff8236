// Package ledger records votes. It is the only writer of ballots and of
// submission vote counts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/feed"
	"odaiboard/internal/models"
	"odaiboard/internal/store"
)

var ErrInvalidVote = errors.New("invalid vote")

type Action string

const (
	ActionCast      Action = "cast"
	ActionSwitched  Action = "switched"
	ActionWithdrawn Action = "withdrawn"
)

// Outcome describes what a committed vote did.
type Outcome struct {
	Action       Action
	SubmissionID string
	// PreviousID is the submission the ballot pointed at before a switch.
	PreviousID string
}

type Ledger struct {
	tx  store.TxRunner
	pub feed.Publisher
	now func() time.Time
	log zerolog.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(tx store.TxRunner, pub feed.Publisher, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		tx:  tx,
		pub: pub,
		now: func() time.Time { return time.Now().UTC() },
		log: log.With().Str("component", "ledger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CastOrToggleVote applies voterID's pick of submissionID in topicID:
// a first pick casts, picking the same submission again withdraws, and
// picking another submission moves the ballot. Counts and the ballot change
// together or not at all.
//
// The transaction is detached from ctx cancellation; once started it runs
// to commit or failure.
func (l *Ledger) CastOrToggleVote(ctx context.Context, topicID, voterID, submissionID string) (Outcome, error) {
	if topicID == "" || voterID == "" || submissionID == "" {
		return Outcome{}, fmt.Errorf("%w: topic, voter and submission are required", ErrInvalidVote)
	}

	ctx = context.WithoutCancel(ctx)

	var out Outcome
	err := l.tx.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = l.apply(ctx, tx, topicID, voterID, submissionID)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("vote %s/%s: %w", topicID, submissionID, err)
	}

	l.log.Debug().
		Str("topic_id", topicID).
		Str("voter_id", voterID).
		Str("submission_id", submissionID).
		Str("action", string(out.Action)).
		Msg("vote committed")

	feed.Notify(ctx, l.pub, l.log, feed.Event{Kind: feed.KindSubmissions, TopicID: topicID, DocID: submissionID})
	feed.Notify(ctx, l.pub, l.log, feed.Event{Kind: feed.KindBallot, TopicID: topicID, DocID: voterID})

	return out, nil
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, topicID, voterID, submissionID string) (Outcome, error) {
	now := l.now()

	ballot, err := tx.GetBallot(ctx, topicID, voterID)
	hasBallot := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Outcome{}, fmt.Errorf("read ballot: %w", err)
	}

	target, err := tx.GetSubmission(ctx, topicID, submissionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("read submission: %w", err)
	}

	if hasBallot && ballot.SubmissionID == submissionID {
		if err := tx.SetVotes(ctx, topicID, submissionID, decrement(target.Votes)); err != nil {
			return Outcome{}, err
		}
		if err := tx.DeleteBallot(ctx, topicID, voterID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionWithdrawn, SubmissionID: submissionID}, nil
	}

	// All reads happen before the first write.
	var previous *models.Submission
	if hasBallot {
		prev, err := tx.GetSubmission(ctx, topicID, ballot.SubmissionID)
		switch {
		case err == nil:
			previous = &prev
		case errors.Is(err, store.ErrNotFound):
			// deleted since the ballot was cast
		default:
			return Outcome{}, fmt.Errorf("read previous submission: %w", err)
		}
	}

	if err := tx.SetVotes(ctx, topicID, submissionID, target.Votes+1); err != nil {
		return Outcome{}, err
	}
	if previous != nil {
		if err := tx.SetVotes(ctx, topicID, previous.ID, decrement(previous.Votes)); err != nil {
			return Outcome{}, err
		}
	}

	createdAt := now
	if hasBallot {
		createdAt = ballot.CreatedAt
	}
	if err := tx.PutBallot(ctx, models.Ballot{
		TopicID:      topicID,
		VoterID:      voterID,
		SubmissionID: submissionID,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}); err != nil {
		return Outcome{}, err
	}

	if hasBallot {
		return Outcome{Action: ActionSwitched, SubmissionID: submissionID, PreviousID: ballot.SubmissionID}, nil
	}
	return Outcome{Action: ActionCast, SubmissionID: submissionID}, nil
}

func decrement(votes int) int {
	if votes <= 0 {
		return 0
	}
	return votes - 1
}
