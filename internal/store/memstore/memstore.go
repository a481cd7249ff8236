// Package memstore is an in-process implementation of store.Store.
//
// Documents are kept by path with a per-document version. Transactions are
// optimistic: every read records the version it saw, writes are buffered,
// and commit re-checks the recorded versions under a single lock before
// applying the writes. A stale read fails the commit and the transaction
// function is run again.
package memstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"odaiboard/internal/models"
	"odaiboard/internal/store"
)

const defaultMaxAttempts = 5

type doc struct {
	value   any
	version uint64
}

type Store struct {
	mu          sync.RWMutex
	docs        map[string]doc
	seq         uint64
	maxAttempts int
}

type Option func(*Store)

// WithMaxAttempts bounds how many times RunInTx runs its function.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]doc),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ store.Store     = (*Store)(nil)
	_ store.UserStore = (*Store)(nil)
)

func (s *Store) get(path string) (any, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	return d.value, d.version, ok
}

// put must be called with mu held.
func (s *Store) put(path string, value any) {
	s.seq++
	s.docs[path] = doc{value: value, version: s.seq}
}

func (s *Store) list(prefix string) []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []any
	for path, d := range s.docs {
		if strings.HasPrefix(path, prefix) && !strings.Contains(path[len(prefix):], "/") {
			out = append(out, d.value)
		}
	}
	return out
}

func (s *Store) remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := &tx{s: s, reads: make(map[string]uint64), writes: make(map[string]any)}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if t.commit() {
			return nil
		}

		backoff := time.Duration(rand.IntN(attempt*50)+1) * time.Microsecond
		time.Sleep(backoff)
	}
	return fmt.Errorf("%w: gave up after %d attempts", store.ErrConflict, s.maxAttempts)
}

type tx struct {
	s      *Store
	reads  map[string]uint64
	writes map[string]any
}

func (t *tx) read(path string) (any, bool) {
	if v, ok := t.writes[path]; ok {
		return v, v != nil
	}
	value, version, ok := t.s.get(path)
	if _, seen := t.reads[path]; !seen {
		t.reads[path] = version
	}
	return value, ok
}

func (t *tx) commit() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for path, seen := range t.reads {
		if t.s.docs[path].version != seen {
			return false
		}
	}
	for path, v := range t.writes {
		if v == nil {
			delete(t.s.docs, path)
			continue
		}
		t.s.put(path, v)
	}
	return true
}

func (t *tx) GetBallot(_ context.Context, topicID, voterID string) (models.Ballot, error) {
	v, ok := t.read(store.BallotPath(topicID, voterID))
	if !ok {
		return models.Ballot{}, store.ErrNotFound
	}
	return v.(models.Ballot), nil
}

func (t *tx) GetSubmission(_ context.Context, topicID, submissionID string) (models.Submission, error) {
	v, ok := t.read(store.SubmissionPath(topicID, submissionID))
	if !ok {
		return models.Submission{}, store.ErrNotFound
	}
	return v.(models.Submission), nil
}

func (t *tx) SetVotes(ctx context.Context, topicID, submissionID string, votes int) error {
	if votes < 0 {
		return fmt.Errorf("set votes on %s: negative count %d", submissionID, votes)
	}
	sub, err := t.GetSubmission(ctx, topicID, submissionID)
	if err != nil {
		return err
	}
	sub.Votes = votes
	t.writes[store.SubmissionPath(topicID, submissionID)] = sub
	return nil
}

func (t *tx) PutBallot(_ context.Context, ballot models.Ballot) error {
	t.writes[store.BallotPath(ballot.TopicID, ballot.VoterID)] = ballot
	return nil
}

func (t *tx) DeleteBallot(_ context.Context, topicID, voterID string) error {
	t.writes[store.BallotPath(topicID, voterID)] = nil
	return nil
}

func (s *Store) CreateTopic(_ context.Context, topic models.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := store.TopicPath(topic.ID)
	if _, exists := s.docs[path]; exists {
		return fmt.Errorf("create topic %s: %w", topic.ID, store.ErrConflict)
	}
	s.put(path, topic)
	return nil
}

func (s *Store) GetTopic(_ context.Context, topicID string) (models.Topic, error) {
	v, _, ok := s.get(store.TopicPath(topicID))
	if !ok {
		return models.Topic{}, store.ErrNotFound
	}
	return v.(models.Topic), nil
}

func (s *Store) ListTopics(_ context.Context) ([]models.Topic, error) {
	values := s.list("topics/")
	topics := make([]models.Topic, 0, len(values))
	for _, v := range values {
		topics = append(topics, v.(models.Topic))
	}
	sort.Slice(topics, func(i, j int) bool {
		if !topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].CreatedAt.After(topics[j].CreatedAt)
		}
		return topics[i].ID > topics[j].ID
	})
	return topics, nil
}

func (s *Store) DeleteTopic(_ context.Context, topicID string) error {
	s.remove(store.TopicPath(topicID))
	return nil
}

func (s *Store) CreateSubmission(_ context.Context, sub models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[store.TopicPath(sub.TopicID)]; !ok {
		return fmt.Errorf("create submission in %s: %w", sub.TopicID, store.ErrNotFound)
	}
	prefix := store.SubmissionsPath(sub.TopicID)
	for path, d := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if existing := d.value.(models.Submission); existing.ID == sub.ID || existing.UserID == sub.UserID {
			return fmt.Errorf("create submission %s: %w", sub.ID, store.ErrConflict)
		}
	}
	s.put(store.SubmissionPath(sub.TopicID, sub.ID), sub)
	return nil
}

func (s *Store) UpdateSubmissionImage(_ context.Context, topicID, submissionID string, image store.ImageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := store.SubmissionPath(topicID, submissionID)
	d, ok := s.docs[path]
	if !ok {
		return store.ErrNotFound
	}
	sub := d.value.(models.Submission)
	sub.ImageURL = image.ImageURL
	sub.StoragePath = image.StoragePath
	sub.Caption = image.Caption
	sub.UpdatedAt = image.UpdatedAt
	s.put(path, sub)
	return nil
}

func (s *Store) GetSubmission(_ context.Context, topicID, submissionID string) (models.Submission, error) {
	v, _, ok := s.get(store.SubmissionPath(topicID, submissionID))
	if !ok {
		return models.Submission{}, store.ErrNotFound
	}
	return v.(models.Submission), nil
}

func (s *Store) FindSubmissionByUser(ctx context.Context, topicID, userID string) (models.Submission, error) {
	subs, err := s.ListSubmissions(ctx, topicID)
	if err != nil {
		return models.Submission{}, err
	}
	for _, sub := range subs {
		if sub.UserID == userID {
			return sub, nil
		}
	}
	return models.Submission{}, store.ErrNotFound
}

func (s *Store) ListSubmissions(_ context.Context, topicID string) ([]models.Submission, error) {
	values := s.list(store.SubmissionsPath(topicID))
	subs := make([]models.Submission, 0, len(values))
	for _, v := range values {
		subs = append(subs, v.(models.Submission))
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

func (s *Store) DeleteSubmission(_ context.Context, topicID, submissionID string) error {
	s.remove(store.SubmissionPath(topicID, submissionID))
	return nil
}

func (s *Store) GetBallot(_ context.Context, topicID, voterID string) (models.Ballot, error) {
	v, _, ok := s.get(store.BallotPath(topicID, voterID))
	if !ok {
		return models.Ballot{}, store.ErrNotFound
	}
	return v.(models.Ballot), nil
}

func (s *Store) ListBallots(_ context.Context, topicID string) ([]models.Ballot, error) {
	values := s.list(store.BallotsPath(topicID))
	ballots := make([]models.Ballot, 0, len(values))
	for _, v := range values {
		ballots = append(ballots, v.(models.Ballot))
	}
	sort.Slice(ballots, func(i, j int) bool { return ballots[i].VoterID < ballots[j].VoterID })
	return ballots, nil
}

func (s *Store) DeleteBallot(_ context.Context, topicID, voterID string) error {
	s.remove(store.BallotPath(topicID, voterID))
	return nil
}

func (s *Store) CreateUser(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, d := range s.docs {
		if strings.HasPrefix(path, "users/") && d.value.(models.User).Email == user.Email {
			return fmt.Errorf("create user %s: %w", user.Email, store.ErrConflict)
		}
	}
	s.put(store.UserPath(user.ID), user)
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (models.User, error) {
	v, _, ok := s.get(store.UserPath(userID))
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return v.(models.User), nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	for _, v := range s.list("users/") {
		if user := v.(models.User); user.Email == email {
			return user, nil
		}
	}
	return models.User{}, store.ErrNotFound
}

func (s *Store) UpdateUserStatus(_ context.Context, userID string, status models.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := store.UserPath(userID)
	d, ok := s.docs[path]
	if !ok {
		return store.ErrNotFound
	}
	user := d.value.(models.User)
	user.Status = status
	user.UpdatedAt = time.Now().UTC()
	s.put(path, user)
	return nil
}
