// Package feed carries change notifications for topics, submissions and
// ballots, and turns them into live snapshot streams.
//
// Events only say that something changed. Subscribers re-read the current
// state from the store on every event. Brokers buffer only the events a
// subscriber matches, so when a full buffer forces a drop, a matching
// wake-up published after the dropped change is still queued.
package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindTopic        Kind = "topic"
	KindTopicDeleted Kind = "topic_deleted"
	KindSubmissions  Kind = "submissions"
	KindBallot       Kind = "ballot"
	KindPhase        Kind = "phase"
)

// TopicsChannel carries changes to the topic list.
const TopicsChannel = "topics"

// TopicChannel carries changes to one topic and its children.
func TopicChannel(topicID string) string {
	return "topic:" + topicID
}

type Event struct {
	Kind    Kind      `json:"kind"`
	TopicID string    `json:"topicId"`
	DocID   string    `json:"docId,omitempty"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, channel string, ev Event) error
}

// Match selects the events a subscriber wants buffered. A nil Match
// accepts every event.
type Match func(Event) bool

func (m Match) accepts(ev Event) bool {
	return m == nil || m(ev)
}

type Subscriber interface {
	// Subscribe delivers the events published on channel that match, until
	// ctx is done, then closes the returned channel.
	Subscribe(ctx context.Context, channel string, match Match) (<-chan Event, error)
}

type Broker interface {
	Publisher
	Subscriber
}

// Notify publishes ev on the topic's channel and, for list-level changes,
// on TopicsChannel. Failures are logged: the change has already committed.
func Notify(ctx context.Context, pub Publisher, log zerolog.Logger, ev Event) {
	if pub == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	channels := []string{TopicChannel(ev.TopicID)}
	switch ev.Kind {
	case KindTopic, KindTopicDeleted, KindPhase:
		channels = append(channels, TopicsChannel)
	}

	for _, ch := range channels {
		if err := pub.Publish(ctx, ch, ev); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch).
				Str("kind", string(ev.Kind)).
				Str("topic_id", ev.TopicID).
				Msg("publish change event failed")
		}
	}
}
