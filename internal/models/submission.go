package models

import "time"

const thumbnailPrefix = "thumbs/"

type Submission struct {
	TopicID     string
	ID          string
	UserID      string
	ImageURL    string
	StoragePath string
	Caption     string
	Votes       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ThumbnailPath is the variant object key derived from the stored image.
func (s Submission) ThumbnailPath() string {
	return ThumbnailPath(s.StoragePath)
}

func ThumbnailPath(storagePath string) string {
	if storagePath == "" {
		return ""
	}
	return thumbnailPrefix + storagePath
}

// Ballot is a voter's single pick within a topic.
type Ballot struct {
	TopicID      string
	VoterID      string
	SubmissionID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
