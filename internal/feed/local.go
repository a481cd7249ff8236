package feed

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// LocalBroker fans events out to subscribers in the same process.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]Match
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[chan Event]Match)}
}

func (b *LocalBroker) Publish(_ context.Context, channel string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, match := range b.subs[channel] {
		if !match.accepts(ev) {
			continue
		}
		select {
		case ch <- ev:
		default:
			// a full buffer already holds later matching wake-ups
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string, match Match) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan Event]Match)
	}
	b.subs[channel][ch] = match
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}
