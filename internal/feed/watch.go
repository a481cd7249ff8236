package feed

import (
	"context"
	"errors"

	"odaiboard/internal/models"
	"odaiboard/internal/store"
)

// Reader is the read side of the store a Watcher re-queries on change.
type Reader interface {
	GetTopic(ctx context.Context, topicID string) (models.Topic, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)
	ListSubmissions(ctx context.Context, topicID string) ([]models.Submission, error)
	GetBallot(ctx context.Context, topicID, voterID string) (models.Ballot, error)
}

type TopicSnapshot struct {
	Topic  models.Topic
	Exists bool
	Err    error
}

type TopicsSnapshot struct {
	Topics []models.Topic
	Err    error
}

type SubmissionsSnapshot struct {
	Submissions []models.Submission
	Err         error
}

type BallotSnapshot struct {
	Ballot models.Ballot
	Exists bool
	Err    error
}

// Watcher delivers the current state of a document or collection
// immediately, then a fresh snapshot after every relevant change, until the
// context is cancelled.
type Watcher struct {
	reader Reader
	sub    Subscriber
}

func NewWatcher(reader Reader, sub Subscriber) *Watcher {
	return &Watcher{reader: reader, sub: sub}
}

func (w *Watcher) Topic(ctx context.Context, topicID string) (<-chan TopicSnapshot, error) {
	relevant := func(ev Event) bool {
		return ev.TopicID == topicID && (ev.Kind == KindTopic || ev.Kind == KindTopicDeleted)
	}
	load := func(ctx context.Context) TopicSnapshot {
		topic, err := w.reader.GetTopic(ctx, topicID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return TopicSnapshot{}
		case err != nil:
			return TopicSnapshot{Err: err}
		}
		return TopicSnapshot{Topic: topic, Exists: true}
	}
	return watch(ctx, w.sub, TopicChannel(topicID), relevant, load)
}

// Topics also refreshes on phase announcements so listings pick up the new
// phase of each topic.
func (w *Watcher) Topics(ctx context.Context) (<-chan TopicsSnapshot, error) {
	relevant := func(ev Event) bool {
		return ev.Kind == KindTopic || ev.Kind == KindTopicDeleted || ev.Kind == KindPhase
	}
	load := func(ctx context.Context) TopicsSnapshot {
		topics, err := w.reader.ListTopics(ctx)
		return TopicsSnapshot{Topics: topics, Err: err}
	}
	return watch(ctx, w.sub, TopicsChannel, relevant, load)
}

func (w *Watcher) Submissions(ctx context.Context, topicID string) (<-chan SubmissionsSnapshot, error) {
	relevant := func(ev Event) bool {
		return ev.TopicID == topicID && (ev.Kind == KindSubmissions || ev.Kind == KindTopicDeleted)
	}
	load := func(ctx context.Context) SubmissionsSnapshot {
		subs, err := w.reader.ListSubmissions(ctx, topicID)
		return SubmissionsSnapshot{Submissions: subs, Err: err}
	}
	return watch(ctx, w.sub, TopicChannel(topicID), relevant, load)
}

func (w *Watcher) Ballot(ctx context.Context, topicID, voterID string) (<-chan BallotSnapshot, error) {
	relevant := func(ev Event) bool {
		if ev.TopicID != topicID {
			return false
		}
		return (ev.Kind == KindBallot && ev.DocID == voterID) || ev.Kind == KindTopicDeleted
	}
	load := func(ctx context.Context) BallotSnapshot {
		ballot, err := w.reader.GetBallot(ctx, topicID, voterID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return BallotSnapshot{}
		case err != nil:
			return BallotSnapshot{Err: err}
		}
		return BallotSnapshot{Ballot: ballot, Exists: true}
	}
	return watch(ctx, w.sub, TopicChannel(topicID), relevant, load)
}

// watch subscribes before the first load so no change between the two is
// missed. Events queued while a load runs are folded into the next load.
func watch[T any](ctx context.Context, sub Subscriber, channel string, relevant Match, load func(context.Context) T) (<-chan T, error) {
	events, err := sub.Subscribe(ctx, channel, relevant)
	if err != nil {
		return nil, err
	}

	out := make(chan T)
	go func() {
		defer close(out)

		send := func(v T) bool {
			select {
			case out <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(load(ctx)) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !relevant(ev) {
					continue
				}
				if !drain(events) {
					return
				}
				if !send(load(ctx)) {
					return
				}
			}
		}
	}()

	return out, nil
}

// drain empties the events already queued, reporting false once the
// subscription has closed.
func drain(events <-chan Event) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
