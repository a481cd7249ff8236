// Package lifecycle tracks which contest page a browsing session should see.
//
// A Controller follows one selected topic at a time. It combines live topic
// snapshots with a clock so the view moves from pending to upload to voting
// to results exactly when the topic's deadlines pass, without any write to
// the topic.
package lifecycle

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/feed"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
)

type State string

const (
	StateNoSelection State = "no-selection"
	StateLoading     State = "loading"
	StateNotFound    State = "not-found"
	StatePending     State = "pending"
	StateUpload      State = "upload"
	StateVoting      State = "voting"
	StateResults     State = "results"
)

// View is what the session should render.
type View struct {
	State    State          `json:"state"`
	TopicID  string         `json:"topicId,omitempty"`
	Topic    *models.Topic  `json:"-"`
	Advisory phase.Advisory `json:"advisory,omitempty"`
	Deadline *time.Time     `json:"deadline,omitempty"`
	Err      error          `json:"-"`
}

type TopicSource interface {
	Topic(ctx context.Context, topicID string) (<-chan feed.TopicSnapshot, error)
}

const maxTick = time.Second

type Controller struct {
	src  TopicSource
	now  func() time.Time
	tick time.Duration
	log  zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	current View
	out     chan View
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTickInterval sets how often deadlines are re-checked. Values above one
// second are clamped.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 && d <= maxTick {
			c.tick = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func NewController(src TopicSource, opts ...Option) *Controller {
	c := &Controller{
		src:     src,
		now:     time.Now,
		tick:    maxTick,
		log:     zerolog.Nop(),
		current: View{State: StateNoSelection},
		out:     make(chan View, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.out <- c.current
	return c
}

// Views delivers view changes. Only the latest unread view is kept.
func (c *Controller) Views() <-chan View {
	return c.out
}

func (c *Controller) Current() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Select switches the session to topicID, or clears the selection when it is
// empty. The previous topic's subscription is cancelled first and anything it
// still delivers is ignored.
func (c *Controller) Select(topicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++

	if topicID == "" {
		c.setLocked(View{State: StateNoSelection})
		return
	}
	c.setLocked(View{State: StateLoading, TopicID: topicID})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(ctx, c.gen, topicID)
}

// Close stops the subscription and closes Views.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.out)
}

func (c *Controller) run(ctx context.Context, gen uint64, topicID string) {
	defer c.wg.Done()

	last := View{State: StateLoading, TopicID: topicID}

	snaps, err := c.src.Topic(ctx, topicID)
	if err != nil {
		c.log.Warn().Err(err).Str("topic_id", topicID).Msg("subscribe topic failed")
		last.Err = err
		c.apply(gen, last)
		return
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	var topic *models.Topic
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			switch {
			case snap.Err != nil:
				last.Err = snap.Err
			case !snap.Exists:
				topic = nil
				last = View{State: StateNotFound, TopicID: topicID}
			default:
				t := snap.Topic
				topic = &t
				last = c.evaluate(topic)
			}
			c.apply(gen, last)
		case <-ticker.C:
			if topic == nil {
				continue
			}
			last = c.evaluate(topic)
			c.apply(gen, last)
		}
	}
}

func (c *Controller) evaluate(topic *models.Topic) View {
	r := phase.Evaluate(topic.Window(), c.now())
	return View{
		State:    stateFor(r.Phase),
		TopicID:  topic.ID,
		Topic:    topic,
		Advisory: r.Advisory,
		Deadline: r.Deadline,
	}
}

func stateFor(p phase.Phase) State {
	switch p {
	case phase.Pending:
		return StatePending
	case phase.Upload:
		return StateUpload
	case phase.Voting:
		return StateVoting
	case phase.Results:
		return StateResults
	default:
		return StateLoading
	}
}

func (c *Controller) apply(gen uint64, v View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	if reflect.DeepEqual(c.current, v) {
		return
	}
	c.setLocked(v)
}

// setLocked must be called with mu held. It is the only sender on out, so
// after draining the send cannot block.
func (c *Controller) setLocked(v View) {
	c.current = v
	select {
	case <-c.out:
	default:
	}
	c.out <- v
}
