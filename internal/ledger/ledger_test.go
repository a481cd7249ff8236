package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/feed"
	"odaiboard/internal/models"
	"odaiboard/internal/store"
	"odaiboard/internal/store/memstore"
)

const topicID = "t1"

func newStore(t *testing.T, submissions int, opts ...memstore.Option) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	db := memstore.New(opts...)
	if err := db.CreateTopic(ctx, models.Topic{ID: topicID, Title: "night"}); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < submissions; i++ {
		sub := models.Submission{
			TopicID:   topicID,
			ID:        fmt.Sprintf("s%d", i),
			UserID:    fmt.Sprintf("author%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.CreateSubmission(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func votes(t *testing.T, db *memstore.Store, id string) int {
	t.Helper()
	sub, err := db.GetSubmission(context.Background(), topicID, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return sub.Votes
}

func TestCastToggleSwitch(t *testing.T) {
	db := newStore(t, 2)
	ctx := context.Background()

	clock := time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)
	l := New(db, nil, zerolog.Nop(), WithClock(func() time.Time { return clock }))

	out, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0")
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if out.Action != ActionCast || votes(t, db, "s0") != 1 {
		t.Fatalf("cast outcome = %+v, votes = %d", out, votes(t, db, "s0"))
	}
	firstCast := clock

	clock = clock.Add(time.Minute)
	out, err = l.CastOrToggleVote(ctx, topicID, "v1", "s1")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if out.Action != ActionSwitched || out.PreviousID != "s0" {
		t.Fatalf("switch outcome = %+v", out)
	}
	if votes(t, db, "s0") != 0 || votes(t, db, "s1") != 1 {
		t.Fatalf("after switch s0=%d s1=%d", votes(t, db, "s0"), votes(t, db, "s1"))
	}
	ballot, err := db.GetBallot(ctx, topicID, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if ballot.SubmissionID != "s1" || !ballot.CreatedAt.Equal(firstCast) || !ballot.UpdatedAt.Equal(clock) {
		t.Fatalf("ballot after switch = %+v", ballot)
	}

	out, err = l.CastOrToggleVote(ctx, topicID, "v1", "s1")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Action != ActionWithdrawn || votes(t, db, "s1") != 0 {
		t.Fatalf("withdraw outcome = %+v, votes = %d", out, votes(t, db, "s1"))
	}
	if _, err := db.GetBallot(ctx, topicID, "v1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ballot after withdraw err = %v", err)
	}
}

func TestToggleIsIdempotentOverPairs(t *testing.T) {
	db := newStore(t, 1)
	l := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0"); err != nil {
			t.Fatal(err)
		}
		if _, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0"); err != nil {
			t.Fatal(err)
		}
	}
	if got := votes(t, db, "s0"); got != 0 {
		t.Fatalf("votes = %d after cast/withdraw pairs", got)
	}
	if ballots, _ := db.ListBallots(ctx, topicID); len(ballots) != 0 {
		t.Fatalf("ballots = %+v", ballots)
	}
}

func TestMissingTargetMutatesNothing(t *testing.T) {
	db := newStore(t, 1)
	l := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0"); err != nil {
		t.Fatal(err)
	}

	_, err := l.CastOrToggleVote(ctx, topicID, "v1", "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	ballot, _ := db.GetBallot(ctx, topicID, "v1")
	if ballot.SubmissionID != "s0" || votes(t, db, "s0") != 1 {
		t.Fatalf("state changed: ballot=%+v votes=%d", ballot, votes(t, db, "s0"))
	}
}

func TestSwitchAwayFromDeletedSubmission(t *testing.T) {
	db := newStore(t, 2)
	l := New(db, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0"); err != nil {
		t.Fatal(err)
	}
	_ = db.DeleteSubmission(ctx, topicID, "s0")

	out, err := l.CastOrToggleVote(ctx, topicID, "v1", "s1")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if out.Action != ActionSwitched || votes(t, db, "s1") != 1 {
		t.Fatalf("outcome = %+v votes = %d", out, votes(t, db, "s1"))
	}
}

func TestCountsNeverGoNegative(t *testing.T) {
	db := newStore(t, 2)
	ctx := context.Background()

	// Ballots that point at zero-count submissions, as left behind by a
	// manual data fix.
	err := db.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.PutBallot(ctx, models.Ballot{TopicID: topicID, VoterID: "v1", SubmissionID: "s0"}); err != nil {
			return err
		}
		return tx.PutBallot(ctx, models.Ballot{TopicID: topicID, VoterID: "v2", SubmissionID: "s0"})
	})
	if err != nil {
		t.Fatal(err)
	}

	l := New(db, nil, zerolog.Nop())
	if _, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := l.CastOrToggleVote(ctx, topicID, "v2", "s1"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got := votes(t, db, "s0"); got != 0 {
		t.Fatalf("s0 votes = %d, want 0", got)
	}
}

func TestVoteSurvivesCallerCancellation(t *testing.T) {
	db := newStore(t, 1)
	l := New(db, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0"); err != nil {
		t.Fatalf("vote with cancelled caller: %v", err)
	}
	if got := votes(t, db, "s0"); got != 1 {
		t.Fatalf("votes = %d, want 1", got)
	}
}

func TestRejectsEmptyArguments(t *testing.T) {
	l := New(newStore(t, 1), nil, zerolog.Nop())
	if _, err := l.CastOrToggleVote(context.Background(), topicID, "", "s0"); !errors.Is(err, ErrInvalidVote) {
		t.Fatalf("err = %v, want invalid vote", err)
	}
}

func TestPublishesChangeEvents(t *testing.T) {
	db := newStore(t, 1)
	broker := feed.NewLocalBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := broker.Subscribe(ctx, feed.TopicChannel(topicID), nil)
	if err != nil {
		t.Fatal(err)
	}

	l := New(db, broker, zerolog.Nop())
	if _, err := l.CastOrToggleVote(ctx, topicID, "v1", "s0"); err != nil {
		t.Fatal(err)
	}

	kinds := map[feed.Kind]bool{}
	for len(kinds) < 2 {
		select {
		case ev := <-events:
			kinds[ev.Kind] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("events seen = %v", kinds)
		}
	}
	if !kinds[feed.KindSubmissions] || !kinds[feed.KindBallot] {
		t.Fatalf("events seen = %v", kinds)
	}
}

type op struct {
	voter      string
	submission string
}

func script(voters, submissions, opsPerVoter int) [][]op {
	scripts := make([][]op, voters)
	for v := 0; v < voters; v++ {
		rng := rand.New(rand.NewPCG(uint64(v), 42))
		voter := fmt.Sprintf("voter%d", v)
		for i := 0; i < opsPerVoter; i++ {
			scripts[v] = append(scripts[v], op{voter: voter, submission: fmt.Sprintf("s%d", rng.IntN(submissions))})
		}
	}
	return scripts
}

func tallies(t *testing.T, db *memstore.Store) map[string]int {
	t.Helper()
	subs, err := db.ListSubmissions(context.Background(), topicID)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]int, len(subs))
	for _, s := range subs {
		out[s.ID] = s.Votes
	}
	return out
}

func TestConcurrentVotesMatchSequentialReplay(t *testing.T) {
	const (
		voters      = 50
		submissions = 5
		opsPerVoter = 20
	)
	scripts := script(voters, submissions, opsPerVoter)
	ctx := context.Background()

	concurrent := newStore(t, submissions, memstore.WithMaxAttempts(100000))
	l := New(concurrent, nil, zerolog.Nop())

	var wg sync.WaitGroup
	var failures atomic.Int64
	for _, s := range scripts {
		wg.Add(1)
		go func(ops []op) {
			defer wg.Done()
			for _, o := range ops {
				if _, err := l.CastOrToggleVote(ctx, topicID, o.voter, o.submission); err != nil {
					failures.Add(1)
				}
			}
		}(s)
	}
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("%d votes failed", n)
	}

	sequential := newStore(t, submissions)
	seqLedger := New(sequential, nil, zerolog.Nop())
	for _, s := range scripts {
		for _, o := range s {
			if _, err := seqLedger.CastOrToggleVote(ctx, topicID, o.voter, o.submission); err != nil {
				t.Fatal(err)
			}
		}
	}

	got, want := tallies(t, concurrent), tallies(t, sequential)
	for id, n := range want {
		if got[id] != n {
			t.Errorf("%s: concurrent = %d, sequential = %d", id, got[id], n)
		}
	}

	ballots, err := concurrent.ListBallots(ctx, topicID)
	if err != nil {
		t.Fatal(err)
	}
	perSubmission := map[string]int{}
	for _, b := range ballots {
		perSubmission[b.SubmissionID]++
	}
	total := 0
	for id, n := range got {
		if perSubmission[id] != n {
			t.Errorf("%s: votes = %d, ballots = %d", id, n, perSubmission[id])
		}
		total += n
	}
	if total != len(ballots) {
		t.Errorf("total votes = %d, ballots = %d", total, len(ballots))
	}
}
