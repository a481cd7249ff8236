package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"odaiboard/internal/models"
)

// BallotRepository reads and removes ballots outside of vote transactions.
// Ballots are only written through Store.RunInTx.
type BallotRepository struct {
	pool *pgxpool.Pool
}

func NewBallotRepository(pool *pgxpool.Pool) *BallotRepository {
	return &BallotRepository{pool: pool}
}

func (r *BallotRepository) GetBallot(ctx context.Context, topicID, voterID string) (models.Ballot, error) {
	return getBallot(ctx, r.pool, topicID, voterID)
}

func (r *BallotRepository) ListBallots(ctx context.Context, topicID string) ([]models.Ballot, error) {
	const query = `
		SELECT topic_id, voter_id, submission_id, created_at, updated_at
		FROM votes WHERE topic_id = $1 ORDER BY voter_id
	`

	rows, err := r.pool.Query(ctx, query, topicID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var ballots []models.Ballot
	for rows.Next() {
		var b models.Ballot
		if err := rows.Scan(&b.TopicID, &b.VoterID, &b.SubmissionID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, classify(err)
		}
		ballots = append(ballots, b)
	}
	return ballots, classify(rows.Err())
}

func (r *BallotRepository) DeleteBallot(ctx context.Context, topicID, voterID string) error {
	return deleteBallot(ctx, r.pool, topicID, voterID)
}

func getBallot(ctx context.Context, q querier, topicID, voterID string) (models.Ballot, error) {
	const query = `
		SELECT topic_id, voter_id, submission_id, created_at, updated_at
		FROM votes WHERE topic_id = $1 AND voter_id = $2
	`

	var b models.Ballot
	if err := q.QueryRow(ctx, query, topicID, voterID).Scan(
		&b.TopicID,
		&b.VoterID,
		&b.SubmissionID,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return models.Ballot{}, classify(err)
	}
	return b, nil
}

func deleteBallot(ctx context.Context, q querier, topicID, voterID string) error {
	const query = `DELETE FROM votes WHERE topic_id = $1 AND voter_id = $2`
	_, err := q.Exec(ctx, query, topicID, voterID)
	return classify(err)
}
