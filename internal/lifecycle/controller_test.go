package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/feed"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
	"odaiboard/internal/store/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

type harness struct {
	db     *memstore.Store
	broker *feed.LocalBroker
	clock  *fakeClock
	c      *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:     memstore.New(),
		broker: feed.NewLocalBroker(),
		clock:  &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
	}
	h.c = NewController(
		feed.NewWatcher(h.db, h.broker),
		WithClock(h.clock.Now),
		WithTickInterval(5*time.Millisecond),
	)
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) putTopic(t *testing.T, topic models.Topic) {
	t.Helper()
	ctx := context.Background()
	_ = h.db.DeleteTopic(ctx, topic.ID)
	if err := h.db.CreateTopic(ctx, topic); err != nil {
		t.Fatal(err)
	}
	feed.Notify(ctx, h.broker, zerolog.Nop(), feed.Event{Kind: feed.KindTopic, TopicID: topic.ID})
}

func waitFor(t *testing.T, c *Controller, want State, topicID string) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v := c.Current()
		if v.State == want && v.TopicID == topicID {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("view = %+v, want %s for %q", c.Current(), want, topicID)
	return View{}
}

func ptr(t time.Time) *time.Time { return &t }

func weekTopic(id string, publish time.Time) models.Topic {
	return models.Topic{
		ID:          id,
		Title:       id,
		PublishAt:   ptr(publish),
		UploadEndAt: ptr(publish.Add(48 * time.Hour)),
		VotingEndAt: ptr(publish.Add(96 * time.Hour)),
	}
}

func TestStartsWithNoSelection(t *testing.T) {
	h := newHarness(t)
	if v := <-h.c.Views(); v.State != StateNoSelection {
		t.Fatalf("initial view = %+v", v)
	}
	h.c.Select("")
	waitFor(t, h.c, StateNoSelection, "")
}

func TestMissingTopicIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.c.Select("nope")
	if v := h.c.Current(); v.State != StateLoading && v.State != StateNotFound {
		t.Fatalf("view right after select = %+v", v)
	}
	waitFor(t, h.c, StateNotFound, "nope")
}

func TestDeadlinesAdvanceWithoutWrites(t *testing.T) {
	h := newHarness(t)
	publish := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	h.putTopic(t, weekTopic("t1", publish))

	h.c.Select("t1")
	v := waitFor(t, h.c, StatePending, "t1")
	if v.Deadline == nil || !v.Deadline.Equal(publish) {
		t.Fatalf("pending deadline = %v", v.Deadline)
	}

	h.clock.Set(publish)
	waitFor(t, h.c, StateUpload, "t1")

	h.clock.Set(publish.Add(48 * time.Hour))
	waitFor(t, h.c, StateVoting, "t1")

	h.clock.Set(publish.Add(96 * time.Hour))
	v = waitFor(t, h.c, StateResults, "t1")
	if v.Deadline != nil {
		t.Fatalf("results deadline = %v, want nil", v.Deadline)
	}
}

func TestLegacyTopicShowsUploadWithAdvisory(t *testing.T) {
	h := newHarness(t)
	h.putTopic(t, models.Topic{ID: "old", Title: "old"})

	h.c.Select("old")
	v := waitFor(t, h.c, StateUpload, "old")
	if v.Advisory != phase.AdvisoryLegacy {
		t.Fatalf("advisory = %q", v.Advisory)
	}
}

func TestDeletedTopicBecomesNotFound(t *testing.T) {
	h := newHarness(t)
	h.putTopic(t, models.Topic{ID: "t1"})
	h.c.Select("t1")
	waitFor(t, h.c, StateUpload, "t1")

	_ = h.db.DeleteTopic(context.Background(), "t1")
	feed.Notify(context.Background(), h.broker, zerolog.Nop(), feed.Event{Kind: feed.KindTopicDeleted, TopicID: "t1"})
	waitFor(t, h.c, StateNotFound, "t1")
}

func TestSwitchingTopicsIgnoresOldSubscription(t *testing.T) {
	h := newHarness(t)
	publish := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	h.putTopic(t, weekTopic("t1", publish))
	h.putTopic(t, models.Topic{ID: "t2"})

	h.c.Select("t1")
	waitFor(t, h.c, StatePending, "t1")

	h.c.Select("t2")
	waitFor(t, h.c, StateUpload, "t2")

	_ = h.db.DeleteTopic(context.Background(), "t1")
	feed.Notify(context.Background(), h.broker, zerolog.Nop(), feed.Event{Kind: feed.KindTopicDeleted, TopicID: "t1"})

	time.Sleep(30 * time.Millisecond)
	if v := h.c.Current(); v.TopicID != "t2" || v.State != StateUpload {
		t.Fatalf("view after old topic changed = %+v", v)
	}
}

func TestTopicEditsAreReflected(t *testing.T) {
	h := newHarness(t)
	publish := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	h.putTopic(t, weekTopic("t1", publish))
	h.c.Select("t1")
	waitFor(t, h.c, StatePending, "t1")

	h.putTopic(t, weekTopic("t1", publish.Add(-2*time.Hour)))
	waitFor(t, h.c, StateUpload, "t1")
}

func TestCloseClosesViews(t *testing.T) {
	h := newHarness(t)
	h.c.Select("t1")
	h.c.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-h.c.Views():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("views not closed")
		}
	}
}
