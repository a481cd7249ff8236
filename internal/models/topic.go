package models

import (
	"time"

	"odaiboard/internal/phase"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Rules are optional free-text constraints shown with a topic.
type Rules struct {
	Aspect string `json:"aspect,omitempty"`
	Style  string `json:"style,omitempty"`
	Seed   string `json:"seed,omitempty"`
}

type Topic struct {
	ID                string
	Title             string
	Description       string
	Hint              string
	Prompt            string
	Rules             Rules
	Visibility        Visibility
	PublishAt         *time.Time
	UploadEndAt       *time.Time
	VotingEndAt       *time.Time
	CreatedBy         string
	CreatedByUsername string
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t Topic) Window() phase.Window {
	return phase.Window{
		PublishAt:   t.PublishAt,
		UploadEndAt: t.UploadEndAt,
		VotingEndAt: t.VotingEndAt,
	}
}

// VisibleTo reports whether userID may see the topic in listings.
func (t Topic) VisibleTo(userID string) bool {
	return t.Visibility != VisibilityPrivate || (userID != "" && t.CreatedBy == userID)
}
