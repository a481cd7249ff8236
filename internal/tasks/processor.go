package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"odaiboard/internal/models"
	"odaiboard/internal/queue"
	"odaiboard/internal/storage"
	"odaiboard/internal/store"
)

// orphanGrace protects uploads whose submission document is not written yet.
const orphanGrace = time.Hour

type BlobStore interface {
	DeleteByPath(ctx context.Context, key string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	PutThumbnail(ctx context.Context, originalKey string, r io.Reader, size int64, contentType string) (string, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

type Catalog interface {
	GetTopic(ctx context.Context, topicID string) (models.Topic, error)
	ListSubmissions(ctx context.Context, topicID string) ([]models.Submission, error)
}

type Processor struct {
	blobs     BlobStore
	catalog   Catalog
	thumbEdge int
	now       func() time.Time
	logger    zerolog.Logger
}

type TaskPayload struct {
	Type         string `json:"type"`
	Path         string `json:"path"`
	TopicID      string `json:"topicId"`
	SubmissionID string `json:"submissionId"`
}

func NewProcessor(blobs BlobStore, catalog Catalog, thumbEdge int, logger zerolog.Logger) *Processor {
	if thumbEdge <= 0 {
		thumbEdge = 480
	}
	return &Processor{
		blobs:     blobs,
		catalog:   catalog,
		thumbEdge: thumbEdge,
		now:       time.Now,
		logger:    logger.With().Str("component", "tasks").Logger(),
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case queue.TaskBlobDelete:
		return p.handleBlobDelete(ctx, payload)
	case queue.TaskThumbnail:
		return p.handleThumbnail(ctx, payload)
	case queue.TaskSweep:
		return p.handleSweep(ctx)
	default:
		p.logger.Warn().Str("type", payload.Type).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

func (p *Processor) handleBlobDelete(ctx context.Context, payload TaskPayload) error {
	if payload.Path == "" {
		return nil
	}
	if err := p.blobs.DeleteByPath(ctx, payload.Path); err != nil {
		return err
	}
	p.logger.Info().Str("path", payload.Path).Msg("image deleted")
	return nil
}

func (p *Processor) handleThumbnail(ctx context.Context, payload TaskPayload) error {
	src, err := p.blobs.Open(ctx, payload.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			p.logger.Info().Str("path", payload.Path).Msg("no decoder for image, thumbnail skipped")
			return nil
		}
		return fmt.Errorf("decode %s: %w", payload.Path, err)
	}

	thumb := imaging.Fit(img, p.thumbEdge, p.thumbEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(82)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	url, err := p.blobs.PutThumbnail(ctx, payload.Path, &buf, int64(buf.Len()), "image/jpeg")
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("topic_id", payload.TopicID).
		Str("submission_id", payload.SubmissionID).
		Str("url", url).
		Msg("thumbnail stored")
	return nil
}

// handleSweep removes images left behind by deleted topics and by
// re-uploads whose inline delete failed.
func (p *Processor) handleSweep(ctx context.Context) error {
	keys, err := p.blobs.ListKeys(ctx, storage.SubmissionPrefix)
	if err != nil {
		return err
	}

	byTopic := make(map[string][]string)
	for _, key := range keys {
		topicID, ok := storage.TopicIDFromKey(key)
		if !ok {
			continue
		}
		byTopic[topicID] = append(byTopic[topicID], key)
	}

	removed := 0
	for topicID, topicKeys := range byTopic {
		orphans, err := p.orphans(ctx, topicID, topicKeys)
		if err != nil {
			p.logger.Warn().Err(err).Str("topic_id", topicID).Msg("sweep topic failed")
			continue
		}
		for _, key := range orphans {
			if err := p.blobs.DeleteByPath(ctx, key); err != nil {
				p.logger.Warn().Err(err).Str("path", key).Msg("sweep delete failed")
				continue
			}
			removed++
		}
	}

	p.logger.Info().Int("scanned", len(keys)).Int("removed", removed).Msg("sweep finished")
	return nil
}

func (p *Processor) orphans(ctx context.Context, topicID string, keys []string) ([]string, error) {
	if _, err := p.catalog.GetTopic(ctx, topicID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return keys, nil
		}
		return nil, err
	}

	subs, err := p.catalog.ListSubmissions(ctx, topicID)
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		referenced[sub.StoragePath] = struct{}{}
	}

	cutoff := p.now().Add(-orphanGrace)
	var out []string
	for _, key := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		if uploaded, ok := uploadTime(key); ok && uploaded.After(cutoff) {
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

// uploadTime reads the millisecond timestamp that prefixes the file name.
func uploadTime(key string) (time.Time, bool) {
	name := key[strings.LastIndex(key, "/")+1:]
	stamp, _, ok := strings.Cut(name, "_")
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
