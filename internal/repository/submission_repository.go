package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"odaiboard/internal/models"
	"odaiboard/internal/store"
)

const submissionColumns = `
	topic_id, id, user_id, image_url, storage_path, caption, votes, created_at, updated_at
`

type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) CreateSubmission(ctx context.Context, sub models.Submission) error {
	const query = `
		INSERT INTO submissions (` + submissionColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.pool.Exec(ctx, query,
		sub.TopicID,
		sub.ID,
		sub.UserID,
		sub.ImageURL,
		sub.StoragePath,
		sub.Caption,
		sub.Votes,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	return classify(err)
}

// UpdateSubmissionImage swaps the image of a submission. The vote count is
// left alone so a re-upload keeps its votes.
func (r *SubmissionRepository) UpdateSubmissionImage(ctx context.Context, topicID, submissionID string, image store.ImageUpdate) error {
	const query = `
		UPDATE submissions
		SET image_url = $3, storage_path = $4, caption = $5, updated_at = $6
		WHERE topic_id = $1 AND id = $2
	`
	cmd, err := r.pool.Exec(ctx, query,
		topicID,
		submissionID,
		image.ImageURL,
		image.StoragePath,
		image.Caption,
		image.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *SubmissionRepository) GetSubmission(ctx context.Context, topicID, submissionID string) (models.Submission, error) {
	return getSubmission(ctx, r.pool, topicID, submissionID)
}

func (r *SubmissionRepository) FindSubmissionByUser(ctx context.Context, topicID, userID string) (models.Submission, error) {
	const query = `SELECT ` + submissionColumns + ` FROM submissions WHERE topic_id = $1 AND user_id = $2`

	sub, err := scanSubmission(r.pool.QueryRow(ctx, query, topicID, userID))
	if err != nil {
		return models.Submission{}, classify(err)
	}
	return sub, nil
}

func (r *SubmissionRepository) ListSubmissions(ctx context.Context, topicID string) ([]models.Submission, error) {
	const query = `
		SELECT ` + submissionColumns + ` FROM submissions
		WHERE topic_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, topicID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, classify(err)
		}
		subs = append(subs, sub)
	}
	return subs, classify(rows.Err())
}

func (r *SubmissionRepository) DeleteSubmission(ctx context.Context, topicID, submissionID string) error {
	const query = `DELETE FROM submissions WHERE topic_id = $1 AND id = $2`
	_, err := r.pool.Exec(ctx, query, topicID, submissionID)
	return classify(err)
}

func getSubmission(ctx context.Context, q querier, topicID, submissionID string) (models.Submission, error) {
	const query = `SELECT ` + submissionColumns + ` FROM submissions WHERE topic_id = $1 AND id = $2`

	sub, err := scanSubmission(q.QueryRow(ctx, query, topicID, submissionID))
	if err != nil {
		return models.Submission{}, classify(err)
	}
	return sub, nil
}

func scanSubmission(row pgx.Row) (models.Submission, error) {
	var sub models.Submission
	err := row.Scan(
		&sub.TopicID,
		&sub.ID,
		&sub.UserID,
		&sub.ImageURL,
		&sub.StoragePath,
		&sub.Caption,
		&sub.Votes,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	return sub, err
}
