package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/feed"
	"odaiboard/internal/ids"
	"odaiboard/internal/media/sniffer"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
	"odaiboard/internal/storage"
	"odaiboard/internal/store"
)

type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress func(percent int)) (string, error)
	DeleteByPath(ctx context.Context, key string) error
}

type TaskQueue interface {
	EnqueueBlobDelete(ctx context.Context, path string) error
	EnqueueThumbnail(ctx context.Context, topicID, submissionID, path string) error
}

type SubmissionInput struct {
	User     models.User
	TopicID  string
	Filename string
	// Declared is the client's Content-Type, checked against the sniffed one.
	Declared string
	File     io.Reader
	Size     int64
	Caption  string
}

type SubmissionService struct {
	store    store.Store
	blobs    BlobStore
	tasks    TaskQueue
	pub      feed.Publisher
	maxBytes int64
	now      func() time.Time
	log      zerolog.Logger
}

func NewSubmissionService(st store.Store, blobs BlobStore, tasks TaskQueue, pub feed.Publisher, maxBytes int64, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		store:    st,
		blobs:    blobs,
		tasks:    tasks,
		pub:      pub,
		maxBytes: maxBytes,
		now:      time.Now,
		log:      log.With().Str("component", "submissions").Logger(),
	}
}

// Upload stores the user's image for a topic in its upload phase. A user has
// at most one submission per topic; uploading again replaces the image and
// keeps the votes.
func (s *SubmissionService) Upload(ctx context.Context, input SubmissionInput) (models.Submission, error) {
	if input.File == nil || input.User.ID == "" {
		return models.Submission{}, fmt.Errorf("%w: file required", ErrInvalidInput)
	}
	if input.Size <= 0 {
		return models.Submission{}, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if s.maxBytes > 0 && input.Size > s.maxBytes {
		return models.Submission{}, ErrFileTooLarge
	}

	topic, err := visibleTopic(ctx, s.store, input.User.ID, input.TopicID)
	if err != nil {
		return models.Submission{}, err
	}
	if phase.Evaluate(topic.Window(), s.now()).Phase != phase.Upload {
		return models.Submission{}, ErrUploadClosed
	}

	detected, head, err := sniffer.Detect(input.File)
	if err != nil {
		if errors.Is(err, sniffer.ErrUnknownType) {
			return models.Submission{}, ErrUnsupportedImage
		}
		return models.Submission{}, fmt.Errorf("read head: %w", err)
	}
	if input.Declared != "" && input.Declared != "application/octet-stream" && input.Declared != detected.MIME {
		return models.Submission{}, fmt.Errorf("%w: declared %s, actual %s", ErrUnsupportedImage, input.Declared, detected.MIME)
	}

	now := s.now().UTC()
	key := storage.SubmissionKey(topic.ID, input.User.ID, input.Filename, now)
	body := io.MultiReader(bytes.NewReader(head), input.File)

	logger := s.log.With().Str("topic_id", topic.ID).Str("user_id", input.User.ID).Str("key", key).Logger()
	url, err := s.blobs.Upload(ctx, key, body, input.Size, detected.MIME, func(percent int) {
		logger.Debug().Int("percent", percent).Msg("upload progress")
	})
	if err != nil {
		return models.Submission{}, fmt.Errorf("upload image: %w", err)
	}

	caption := strings.TrimSpace(input.Caption)
	sub, err := s.save(ctx, topic.ID, input.User.ID, url, key, caption, now)
	if err != nil {
		s.discard(ctx, key)
		return models.Submission{}, err
	}

	if err := s.tasks.EnqueueThumbnail(ctx, sub.TopicID, sub.ID, sub.StoragePath); err != nil {
		logger.Warn().Err(err).Msg("enqueue thumbnail failed")
	}
	feed.Notify(ctx, s.pub, s.log, feed.Event{Kind: feed.KindSubmissions, TopicID: topic.ID, DocID: sub.ID})
	logger.Info().Str("submission_id", sub.ID).Msg("submission stored")
	return sub, nil
}

// save replaces the user's existing submission or creates a new one. A
// concurrent first upload by the same user turns the create into a replace.
func (s *SubmissionService) save(ctx context.Context, topicID, userID, url, key, caption string, now time.Time) (models.Submission, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.store.FindSubmissionByUser(ctx, topicID, userID)
		switch {
		case err == nil:
			update := store.ImageUpdate{ImageURL: url, StoragePath: key, Caption: caption, UpdatedAt: now}
			if err := s.store.UpdateSubmissionImage(ctx, topicID, existing.ID, update); err != nil {
				return models.Submission{}, fmt.Errorf("replace submission: %w", err)
			}
			if existing.StoragePath != "" && existing.StoragePath != key {
				s.discard(ctx, existing.StoragePath)
			}
			existing.ImageURL = url
			existing.StoragePath = key
			existing.Caption = caption
			existing.UpdatedAt = now
			return existing, nil
		case !errors.Is(err, store.ErrNotFound):
			return models.Submission{}, err
		}

		sub := models.Submission{
			TopicID:     topicID,
			ID:          ids.New(),
			UserID:      userID,
			ImageURL:    url,
			StoragePath: key,
			Caption:     caption,
			Votes:       0,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = s.store.CreateSubmission(ctx, sub)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return models.Submission{}, fmt.Errorf("create submission: %w", err)
		}
	}
	return models.Submission{}, fmt.Errorf("create submission: %w", store.ErrConflict)
}

// discard deletes a blob best-effort and hands failures to the worker.
func (s *SubmissionService) discard(ctx context.Context, key string) {
	err := s.blobs.DeleteByPath(ctx, key)
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Str("key", key).Msg("blob delete failed, queued for retry")
	if err := s.tasks.EnqueueBlobDelete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("enqueue blob delete failed")
	}
}

// Mine returns the caller's submission for a topic.
func (s *SubmissionService) Mine(ctx context.Context, user models.User, topicID string) (models.Submission, error) {
	if _, err := visibleTopic(ctx, s.store, user.ID, topicID); err != nil {
		return models.Submission{}, err
	}
	return s.store.FindSubmissionByUser(ctx, topicID, user.ID)
}

// List returns a topic's submissions oldest first.
func (s *SubmissionService) List(ctx context.Context, viewerID, topicID string) ([]models.Submission, error) {
	if _, err := visibleTopic(ctx, s.store, viewerID, topicID); err != nil {
		return nil, err
	}
	return s.store.ListSubmissions(ctx, topicID)
}

func visibleTopic(ctx context.Context, topics store.TopicStore, viewerID, topicID string) (models.Topic, error) {
	if topicID == "" {
		return models.Topic{}, store.ErrNotFound
	}
	topic, err := topics.GetTopic(ctx, topicID)
	if err != nil {
		return models.Topic{}, err
	}
	if !topic.VisibleTo(viewerID) {
		return models.Topic{}, store.ErrNotFound
	}
	return topic, nil
}
