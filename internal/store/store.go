// Package store defines the document store the contest runs on.
//
// The logical layout is a tree of documents:
//
//	topics/{topicId}
//	topics/{topicId}/submissions/{submissionId}
//	topics/{topicId}/votes/{voterId}
//	users/{userId}
//
// Single-document operations are not transactional. Vote counts and ballots
// are only mutated through RunInTx, which commits all writes made through
// the Tx or none of them and retries the whole function on conflict.
package store

import (
	"context"
	"errors"
	"time"

	"odaiboard/internal/models"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrConflict         = errors.New("transaction conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("store unavailable")
)

// Tx is the view of the store inside a transaction. Reads observe committed
// state or the transaction's own earlier writes.
type Tx interface {
	GetBallot(ctx context.Context, topicID, voterID string) (models.Ballot, error)
	GetSubmission(ctx context.Context, topicID, submissionID string) (models.Submission, error)
	SetVotes(ctx context.Context, topicID, submissionID string, votes int) error
	PutBallot(ctx context.Context, ballot models.Ballot) error
	DeleteBallot(ctx context.Context, topicID, voterID string) error
}

type TxRunner interface {
	// RunInTx runs fn and commits its writes atomically. fn may be invoked
	// more than once and must not have side effects outside tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type TopicStore interface {
	CreateTopic(ctx context.Context, topic models.Topic) error
	GetTopic(ctx context.Context, topicID string) (models.Topic, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)
	DeleteTopic(ctx context.Context, topicID string) error
}

type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub models.Submission) error
	UpdateSubmissionImage(ctx context.Context, topicID, submissionID string, image ImageUpdate) error
	GetSubmission(ctx context.Context, topicID, submissionID string) (models.Submission, error)
	FindSubmissionByUser(ctx context.Context, topicID, userID string) (models.Submission, error)
	// ListSubmissions returns a topic's submissions oldest first.
	ListSubmissions(ctx context.Context, topicID string) ([]models.Submission, error)
	DeleteSubmission(ctx context.Context, topicID, submissionID string) error
}

type BallotStore interface {
	GetBallot(ctx context.Context, topicID, voterID string) (models.Ballot, error)
	ListBallots(ctx context.Context, topicID string) ([]models.Ballot, error)
	DeleteBallot(ctx context.Context, topicID, voterID string) error
}

type Store interface {
	TxRunner
	TopicStore
	SubmissionStore
	BallotStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, userID string) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error
}

// ImageUpdate replaces the image of an existing submission. Votes are kept.
type ImageUpdate struct {
	ImageURL    string
	StoragePath string
	Caption     string
	UpdatedAt   time.Time
}

func TopicPath(topicID string) string {
	return "topics/" + topicID
}

func SubmissionsPath(topicID string) string {
	return TopicPath(topicID) + "/submissions/"
}

func SubmissionPath(topicID, submissionID string) string {
	return SubmissionsPath(topicID) + submissionID
}

func BallotsPath(topicID string) string {
	return TopicPath(topicID) + "/votes/"
}

func BallotPath(topicID, voterID string) string {
	return BallotsPath(topicID) + voterID
}

func UserPath(userID string) string {
	return "users/" + userID
}
