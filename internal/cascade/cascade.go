// Package cascade removes a topic together with everything stored under it.
package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/feed"
	"odaiboard/internal/models"
)

type Phase string

const (
	PhaseSubmissions Phase = "submissions"
	PhaseBallots     Phase = "ballots"
	PhaseTopic       Phase = "topic"
)

// Error reports the step at which a deletion stopped. Everything deleted
// before that step stays deleted.
type Error struct {
	Phase Phase
	DocID string
	Err   error
}

func (e *Error) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("cascade delete: %s %s: %v", e.Phase, e.DocID, e.Err)
	}
	return fmt.Sprintf("cascade delete: %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Store interface {
	ListSubmissions(ctx context.Context, topicID string) ([]models.Submission, error)
	DeleteSubmission(ctx context.Context, topicID, submissionID string) error
	ListBallots(ctx context.Context, topicID string) ([]models.Ballot, error)
	DeleteBallot(ctx context.Context, topicID, voterID string) error
	DeleteTopic(ctx context.Context, topicID string) error
}

type BlobStore interface {
	DeleteByPath(ctx context.Context, path string) error
}

// RetryQueue takes blob deletions that failed inline.
type RetryQueue interface {
	EnqueueBlobDelete(ctx context.Context, path string) error
}

// defaultBlobTimeout bounds each inline image delete.
const defaultBlobTimeout = 10 * time.Second

type Deleter struct {
	store       Store
	blobs       BlobStore
	retry       RetryQueue
	pub         feed.Publisher
	log         zerolog.Logger
	blobTimeout time.Duration
}

type Option func(*Deleter)

// WithBlobTimeout caps how long one image delete may take before it is
// handed to the retry queue.
func WithBlobTimeout(d time.Duration) Option {
	return func(del *Deleter) {
		if d > 0 {
			del.blobTimeout = d
		}
	}
}

// NewDeleter builds a Deleter. retry and pub may be nil.
func NewDeleter(store Store, blobs BlobStore, retry RetryQueue, pub feed.Publisher, log zerolog.Logger, opts ...Option) *Deleter {
	d := &Deleter{
		store:       store,
		blobs:       blobs,
		retry:       retry,
		pub:         pub,
		log:         log.With().Str("component", "cascade").Logger(),
		blobTimeout: defaultBlobTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeleteTopicAndChildren deletes, in order, each submission's image and
// document, every ballot, and finally the topic. Image deletion is best
// effort. A document deletion failure stops the cascade and the topic
// document is left in place.
func (d *Deleter) DeleteTopicAndChildren(ctx context.Context, topicID string) error {
	subs, err := d.store.ListSubmissions(ctx, topicID)
	if err != nil {
		return &Error{Phase: PhaseSubmissions, Err: err}
	}
	for _, sub := range subs {
		d.deleteBlob(ctx, topicID, sub.StoragePath)
		if err := d.store.DeleteSubmission(ctx, topicID, sub.ID); err != nil {
			return &Error{Phase: PhaseSubmissions, DocID: sub.ID, Err: err}
		}
	}

	ballots, err := d.store.ListBallots(ctx, topicID)
	if err != nil {
		return &Error{Phase: PhaseBallots, Err: err}
	}
	for _, ballot := range ballots {
		if err := d.store.DeleteBallot(ctx, topicID, ballot.VoterID); err != nil {
			return &Error{Phase: PhaseBallots, DocID: ballot.VoterID, Err: err}
		}
	}

	if err := d.store.DeleteTopic(ctx, topicID); err != nil {
		return &Error{Phase: PhaseTopic, DocID: topicID, Err: err}
	}

	d.log.Info().
		Str("topic_id", topicID).
		Int("submissions", len(subs)).
		Int("ballots", len(ballots)).
		Msg("topic deleted")

	feed.Notify(ctx, d.pub, d.log, feed.Event{Kind: feed.KindTopicDeleted, TopicID: topicID})
	return nil
}

func (d *Deleter) deleteBlob(ctx context.Context, topicID, path string) {
	if path == "" || d.blobs == nil {
		return
	}
	blobCtx, cancel := context.WithTimeout(ctx, d.blobTimeout)
	err := d.blobs.DeleteByPath(blobCtx, path)
	cancel()
	if err == nil {
		return
	}

	d.log.Warn().Err(err).Str("topic_id", topicID).Str("path", path).Msg("delete image failed, continuing")
	if d.retry == nil {
		return
	}
	if err := d.retry.EnqueueBlobDelete(ctx, path); err != nil {
		d.log.Warn().Err(err).Str("path", path).Msg("enqueue image delete failed")
	}
}
