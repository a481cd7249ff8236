package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	TaskBlobDelete = "blob.delete"
	TaskThumbnail  = "thumbnail"
	TaskSweep      = "sweep"
)

// Producer appends background tasks to the worker stream.
type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) enqueue(ctx context.Context, values map[string]any) error {
	if _, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result(); err != nil {
		return fmt.Errorf("enqueue %v: %w", values["type"], err)
	}
	return nil
}

// EnqueueBlobDelete retries an image deletion that failed inline.
func (p *Producer) EnqueueBlobDelete(ctx context.Context, path string) error {
	return p.enqueue(ctx, map[string]any{
		"type": TaskBlobDelete,
		"path": path,
	})
}

func (p *Producer) EnqueueThumbnail(ctx context.Context, topicID, submissionID, path string) error {
	return p.enqueue(ctx, map[string]any{
		"type":         TaskThumbnail,
		"topicId":      topicID,
		"submissionId": submissionID,
		"path":         path,
	})
}

// EnqueueSweep asks a worker to remove images whose topic is gone.
func (p *Producer) EnqueueSweep(ctx context.Context) error {
	return p.enqueue(ctx, map[string]any{
		"type": TaskSweep,
	})
}
