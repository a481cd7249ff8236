package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/feed"
	"odaiboard/internal/ids"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
	"odaiboard/internal/store"
)

type TopicDeleter interface {
	DeleteTopicAndChildren(ctx context.Context, topicID string) error
}

// Schedule controls the weekly template used when a topic is created without
// explicit dates.
type Schedule struct {
	Location *time.Location
	Hour     int
}

type TopicService struct {
	topics   store.TopicStore
	deleter  TopicDeleter
	pub      feed.Publisher
	schedule Schedule
	now      func() time.Time
	log      zerolog.Logger
}

func NewTopicService(topics store.TopicStore, deleter TopicDeleter, pub feed.Publisher, schedule Schedule, log zerolog.Logger) *TopicService {
	if schedule.Location == nil {
		schedule.Location = time.UTC
	}
	return &TopicService{
		topics:   topics,
		deleter:  deleter,
		pub:      pub,
		schedule: schedule,
		now:      time.Now,
		log:      log.With().Str("component", "topics").Logger(),
	}
}

type TopicInput struct {
	Title       string
	Description string
	Hint        string
	Prompt      string
	Rules       models.Rules
	Visibility  models.Visibility
	PublishAt   *time.Time
	UploadEndAt *time.Time
	VotingEndAt *time.Time
	// WeekOffset picks the template week when PublishAt is empty: 0 is the
	// current week, 1 the next.
	WeekOffset int
}

// WeekAt returns the given ISO weekday (1 = Monday) at hour:00 in the week
// containing ref, shifted by weekOffset weeks.
func WeekAt(ref time.Time, isoWeekday int, hour int, weekOffset int, loc *time.Location) time.Time {
	ref = ref.In(loc)
	current := int(ref.Weekday())
	if current == 0 {
		current = 7
	}
	day := ref.AddDate(0, 0, isoWeekday-current+7*weekOffset)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
}

// fillSchedule applies the Monday/Wednesday/Friday template to any missing
// instant.
func (s *TopicService) fillSchedule(in *TopicInput) {
	if in.PublishAt == nil {
		pub := WeekAt(s.now(), 1, s.schedule.Hour, in.WeekOffset, s.schedule.Location)
		in.PublishAt = &pub
	}
	if in.UploadEndAt == nil {
		wed := WeekAt(*in.PublishAt, 3, s.schedule.Hour, 0, s.schedule.Location)
		in.UploadEndAt = &wed
	}
	if in.VotingEndAt == nil {
		fri := WeekAt(*in.PublishAt, 5, s.schedule.Hour, 0, s.schedule.Location)
		in.VotingEndAt = &fri
	}
}

func validateTopic(in TopicInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTopic)
	}
	if !in.PublishAt.Before(*in.UploadEndAt) {
		return fmt.Errorf("%w: publish must be before upload end", ErrInvalidTopic)
	}
	if !in.UploadEndAt.Before(*in.VotingEndAt) {
		return fmt.Errorf("%w: upload end must be before voting end", ErrInvalidTopic)
	}
	switch in.Visibility {
	case models.VisibilityPublic, models.VisibilityPrivate:
	default:
		return fmt.Errorf("%w: visibility %q", ErrInvalidTopic, in.Visibility)
	}
	return nil
}

func (s *TopicService) Create(ctx context.Context, creator models.User, in TopicInput) (models.Topic, error) {
	if in.Visibility == "" {
		in.Visibility = models.VisibilityPublic
	}
	s.fillSchedule(&in)
	if err := validateTopic(in); err != nil {
		return models.Topic{}, err
	}

	now := s.now().UTC()
	topic := models.Topic{
		ID:          ids.New(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Hint:        strings.TrimSpace(in.Hint),
		Prompt:      strings.TrimSpace(in.Prompt),
		Rules: models.Rules{
			Aspect: strings.TrimSpace(in.Rules.Aspect),
			Style:  strings.TrimSpace(in.Rules.Style),
			Seed:   strings.TrimSpace(in.Rules.Seed),
		},
		Visibility:        in.Visibility,
		PublishAt:         utc(in.PublishAt),
		UploadEndAt:       utc(in.UploadEndAt),
		VotingEndAt:       utc(in.VotingEndAt),
		CreatedBy:         creator.ID,
		CreatedByUsername: creator.Username,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.topics.CreateTopic(ctx, topic); err != nil {
		return models.Topic{}, fmt.Errorf("create topic: %w", err)
	}

	s.log.Info().Str("topic_id", topic.ID).Str("created_by", creator.ID).Msg("topic created")
	feed.Notify(ctx, s.pub, s.log, feed.Event{Kind: feed.KindTopic, TopicID: topic.ID})
	return topic, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// Get returns a topic the viewer may see. Private topics of other users look
// missing.
func (s *TopicService) Get(ctx context.Context, viewerID, topicID string) (models.Topic, error) {
	return visibleTopic(ctx, s.topics, viewerID, topicID)
}

// List returns the topics visible to viewerID, newest first.
func (s *TopicService) List(ctx context.Context, viewerID string) ([]models.Topic, error) {
	topics, err := s.topics.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	visible := topics[:0]
	for _, t := range topics {
		if t.VisibleTo(viewerID) {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

// ListAll returns every topic regardless of visibility.
func (s *TopicService) ListAll(ctx context.Context) ([]models.Topic, error) {
	return s.topics.ListTopics(ctx)
}

func (s *TopicService) Evaluate(topic models.Topic) phase.Result {
	return phase.Evaluate(topic.Window(), s.now())
}

// Delete removes a topic and all its children. Only the creator and admins
// may delete.
func (s *TopicService) Delete(ctx context.Context, actor models.User, topicID string) error {
	topic, err := s.topics.GetTopic(ctx, topicID)
	if err != nil {
		return err
	}
	if !canManage(actor, topic) {
		return ErrForbidden
	}
	return s.deleter.DeleteTopicAndChildren(ctx, topicID)
}

func canManage(actor models.User, topic models.Topic) bool {
	switch actor.Role {
	case models.UserRoleAdmin, models.UserRoleSuperAdmin:
		return true
	}
	return actor.ID != "" && actor.ID == topic.CreatedBy
}
