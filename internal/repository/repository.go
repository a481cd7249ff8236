package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"odaiboard/internal/models"
	"odaiboard/internal/store"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed store.Store.
type Store struct {
	*TopicRepository
	*SubmissionRepository
	*BallotRepository

	pool        *pgxpool.Pool
	maxAttempts int
	log         zerolog.Logger
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, maxAttempts int, log zerolog.Logger) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Store{
		TopicRepository:      NewTopicRepository(pool),
		SubmissionRepository: NewSubmissionRepository(pool),
		BallotRepository:     NewBallotRepository(pool),
		pool:                 pool,
		maxAttempts:          maxAttempts,
		log:                  log.With().Str("component", "store").Logger(),
	}
}

// RunInTx runs fn in a SERIALIZABLE transaction. Serialization failures,
// deadlocks and unique violations roll back and rerun fn.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return retryConflicts(ctx, s.maxAttempts, s.log, func() error {
		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{q: tx})
		})
	})
}

// retryConflicts calls attempt until it succeeds, fails with anything other
// than a conflict, or has run maxAttempts times.
func retryConflicts(ctx context.Context, maxAttempts int, log zerolog.Logger, attempt func() error) error {
	var err error
	for n := 1; n <= maxAttempts; n++ {
		err = classify(attempt())
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		if n == maxAttempts {
			break
		}

		log.Debug().Err(err).Int("attempt", n).Msg("transaction conflict, retrying")
		backoff := time.NewTimer(time.Duration(rand.IntN(n*20)+5) * time.Millisecond)
		select {
		case <-backoff.C:
		case <-ctx.Done():
			backoff.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, err)
}

type pgTx struct {
	q querier
}

func (t *pgTx) GetBallot(ctx context.Context, topicID, voterID string) (models.Ballot, error) {
	return getBallot(ctx, t.q, topicID, voterID)
}

func (t *pgTx) GetSubmission(ctx context.Context, topicID, submissionID string) (models.Submission, error) {
	return getSubmission(ctx, t.q, topicID, submissionID)
}

func (t *pgTx) SetVotes(ctx context.Context, topicID, submissionID string, votes int) error {
	const query = `
		UPDATE submissions SET votes = $3 WHERE topic_id = $1 AND id = $2
	`
	cmd, err := t.q.Exec(ctx, query, topicID, submissionID, votes)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) PutBallot(ctx context.Context, ballot models.Ballot) error {
	const query = `
		INSERT INTO votes (topic_id, voter_id, submission_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic_id, voter_id) DO UPDATE
		SET submission_id = EXCLUDED.submission_id,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := t.q.Exec(ctx, query,
		ballot.TopicID,
		ballot.VoterID,
		ballot.SubmissionID,
		ballot.CreatedAt,
		ballot.UpdatedAt,
	)
	return classify(err)
}

func (t *pgTx) DeleteBallot(ctx context.Context, topicID, voterID string) error {
	return deleteBallot(ctx, t.q, topicID, voterID)
}

// classify maps driver errors onto the store error set.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		case "42501":
			return fmt.Errorf("%w: %w", store.ErrPermissionDenied, err)
		case "23503":
			return fmt.Errorf("%w: %w", store.ErrNotFound, err)
		}
		return err
	}

	var netErr net.Error
	if pgconn.Timeout(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}
