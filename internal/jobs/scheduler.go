package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"odaiboard/internal/config"
	"odaiboard/internal/feed"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
)

const jobTimeout = 30 * time.Second

type TopicLister interface {
	ListTopics(ctx context.Context) ([]models.Topic, error)
}

type PhaseCache interface {
	Load(ctx context.Context) (map[string]phase.Phase, error)
	Save(ctx context.Context, topicID string, p phase.Phase) error
	Forget(ctx context.Context, topicIDs ...string) error
}

type SweepQueue interface {
	EnqueueSweep(ctx context.Context) error
}

// Scheduler runs the API's periodic jobs: announcing phase changes to
// listeners and asking a worker to sweep orphaned images.
type Scheduler struct {
	cron   *cron.Cron
	topics TopicLister
	phases PhaseCache
	queue  SweepQueue
	pub    feed.Publisher
	cfg    config.JobsConfig
	now    func() time.Time
	log    zerolog.Logger
}

func NewScheduler(topics TopicLister, phases PhaseCache, queue SweepQueue, pub feed.Publisher, cfg config.JobsConfig, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:   c,
		topics: topics,
		phases: phases,
		queue:  queue,
		pub:    pub,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.PhaseSpec, s.runAnnounce); err != nil {
		return err
	}
	if s.queue != nil {
		if _, err := s.cron.AddFunc(s.cfg.SweepSpec, s.enqueueSweep); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runAnnounce() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.AnnouncePhases(ctx); err != nil {
		s.log.Error().Err(err).Msg("phase announce failed")
	}
}

// AnnouncePhases evaluates every active topic and publishes a phase event for
// each one whose phase differs from the last run. Topics seen for the first
// time are recorded silently. It returns the ids it announced.
func (s *Scheduler) AnnouncePhases(ctx context.Context) ([]string, error) {
	topics, err := s.topics.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	known, err := s.phases.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var announced []string
	for _, topic := range topics {
		if !topic.IsActive {
			continue
		}
		current := phase.Evaluate(topic.Window(), now).Phase
		last, seen := known[topic.ID]
		delete(known, topic.ID)
		if seen && last == current {
			continue
		}
		if err := s.phases.Save(ctx, topic.ID, current); err != nil {
			return announced, err
		}
		if !seen {
			continue
		}

		s.log.Info().
			Str("topic_id", topic.ID).
			Str("from", string(last)).
			Str("to", string(current)).
			Msg("topic phase changed")
		feed.Notify(ctx, s.pub, s.log, feed.Event{Kind: feed.KindPhase, TopicID: topic.ID, DocID: string(current)})
		announced = append(announced, topic.ID)
	}

	if len(known) > 0 {
		gone := make([]string, 0, len(known))
		for id := range known {
			gone = append(gone, id)
		}
		if err := s.phases.Forget(ctx, gone...); err != nil {
			return announced, err
		}
	}
	return announced, nil
}

func (s *Scheduler) enqueueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.queue.EnqueueSweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("enqueue sweep failed")
		return
	}
	s.log.Info().Msg("orphan sweep enqueued")
}
