package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"odaiboard/internal/models"
)

const topicColumns = `
	id, title, description, hint, prompt, rule_aspect, rule_style, rule_seed, visibility,
	publish_at, upload_end_at, voting_end_at, created_by, created_by_username, is_active,
	created_at, updated_at
`

type TopicRepository struct {
	pool *pgxpool.Pool
}

func NewTopicRepository(pool *pgxpool.Pool) *TopicRepository {
	return &TopicRepository{pool: pool}
}

func (r *TopicRepository) CreateTopic(ctx context.Context, topic models.Topic) error {
	const query = `
		INSERT INTO topics (` + topicColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err := r.pool.Exec(ctx, query,
		topic.ID,
		topic.Title,
		topic.Description,
		topic.Hint,
		topic.Prompt,
		topic.Rules.Aspect,
		topic.Rules.Style,
		topic.Rules.Seed,
		topic.Visibility,
		topic.PublishAt,
		topic.UploadEndAt,
		topic.VotingEndAt,
		topic.CreatedBy,
		topic.CreatedByUsername,
		topic.IsActive,
		topic.CreatedAt,
		topic.UpdatedAt,
	)
	return classify(err)
}

func (r *TopicRepository) GetTopic(ctx context.Context, topicID string) (models.Topic, error) {
	const query = `SELECT ` + topicColumns + ` FROM topics WHERE id = $1`

	topic, err := scanTopic(r.pool.QueryRow(ctx, query, topicID))
	if err != nil {
		return models.Topic{}, classify(err)
	}
	return topic, nil
}

func (r *TopicRepository) ListTopics(ctx context.Context) ([]models.Topic, error) {
	const query = `SELECT ` + topicColumns + ` FROM topics ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, classify(err)
		}
		topics = append(topics, topic)
	}
	return topics, classify(rows.Err())
}

func (r *TopicRepository) DeleteTopic(ctx context.Context, topicID string) error {
	const query = `DELETE FROM topics WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, topicID)
	return classify(err)
}

func scanTopic(row pgx.Row) (models.Topic, error) {
	var topic models.Topic
	err := row.Scan(
		&topic.ID,
		&topic.Title,
		&topic.Description,
		&topic.Hint,
		&topic.Prompt,
		&topic.Rules.Aspect,
		&topic.Rules.Style,
		&topic.Rules.Seed,
		&topic.Visibility,
		&topic.PublishAt,
		&topic.UploadEndAt,
		&topic.VotingEndAt,
		&topic.CreatedBy,
		&topic.CreatedByUsername,
		&topic.IsActive,
		&topic.CreatedAt,
		&topic.UpdatedAt,
	)
	return topic, err
}
