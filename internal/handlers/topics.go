package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"odaiboard/internal/middleware"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
	"odaiboard/internal/service"
)

type phaseResponse struct {
	Phase           phase.Phase    `json:"phase"`
	Advisory        phase.Advisory `json:"advisory,omitempty"`
	AdvisoryMessage string         `json:"advisoryMessage,omitempty"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	Countdown       string         `json:"countdown,omitempty"`
}

func newPhaseResponse(res phase.Result, now time.Time) phaseResponse {
	resp := phaseResponse{
		Phase:           res.Phase,
		Advisory:        res.Advisory,
		AdvisoryMessage: res.Advisory.Message(),
		Deadline:        res.Deadline,
	}
	if res.Deadline != nil {
		resp.Countdown, _ = phase.Countdown(*res.Deadline, now)
	}
	return resp
}

type topicResponse struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Hint              string            `json:"hint,omitempty"`
	Prompt            string            `json:"prompt,omitempty"`
	Rules             models.Rules      `json:"rules"`
	Visibility        models.Visibility `json:"visibility"`
	PublishAt         *time.Time        `json:"publishAt"`
	UploadEndAt       *time.Time        `json:"uploadEndAt"`
	VotingEndAt       *time.Time        `json:"votingEndAt"`
	CreatedBy         string            `json:"createdBy"`
	CreatedByUsername string            `json:"createdByUsername"`
	IsActive          bool              `json:"isActive"`
	CreatedAt         time.Time         `json:"createdAt"`
	Phase             phaseResponse     `json:"phase"`
}

func newTopicResponse(topic models.Topic, now time.Time) topicResponse {
	return topicResponse{
		ID:                topic.ID,
		Title:             topic.Title,
		Description:       topic.Description,
		Hint:              topic.Hint,
		Prompt:            topic.Prompt,
		Rules:             topic.Rules,
		Visibility:        topic.Visibility,
		PublishAt:         topic.PublishAt,
		UploadEndAt:       topic.UploadEndAt,
		VotingEndAt:       topic.VotingEndAt,
		CreatedBy:         topic.CreatedBy,
		CreatedByUsername: topic.CreatedByUsername,
		IsActive:          topic.IsActive,
		CreatedAt:         topic.CreatedAt,
		Phase:             newPhaseResponse(phase.Evaluate(topic.Window(), now), now),
	}
}

func newTopicResponses(topics []models.Topic, now time.Time) []topicResponse {
	items := make([]topicResponse, 0, len(topics))
	for _, t := range topics {
		items = append(items, newTopicResponse(t, now))
	}
	return items
}

type createTopicRequest struct {
	Title       string            `json:"title" binding:"required,max=120"`
	Description string            `json:"description" binding:"max=2000"`
	Hint        string            `json:"hint" binding:"max=500"`
	Prompt      string            `json:"prompt" binding:"max=2000"`
	Rules       models.Rules      `json:"rules"`
	Visibility  models.Visibility `json:"visibility"`
	PublishAt   *time.Time        `json:"publishAt"`
	UploadEndAt *time.Time        `json:"uploadEndAt"`
	VotingEndAt *time.Time        `json:"votingEndAt"`
	WeekOffset  int               `json:"weekOffset" binding:"min=0,max=52"`
}

func (h HandlerSet) CreateTopic(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	topic, err := h.topics.Create(c.Request.Context(), user, service.TopicInput{
		Title:       req.Title,
		Description: req.Description,
		Hint:        req.Hint,
		Prompt:      req.Prompt,
		Rules:       req.Rules,
		Visibility:  req.Visibility,
		PublishAt:   req.PublishAt,
		UploadEndAt: req.UploadEndAt,
		VotingEndAt: req.VotingEndAt,
		WeekOffset:  req.WeekOffset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"topic": newTopicResponse(topic, h.now()),
	})
}

func (h HandlerSet) ListTopics(c *gin.Context) {
	topics, err := h.topics.List(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": newTopicResponses(topics, h.now()),
	})
}

func (h HandlerSet) GetTopic(c *gin.Context) {
	topic, err := h.topics.Get(c.Request.Context(), viewerID(c), c.Param("topicId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"topic": newTopicResponse(topic, h.now()),
	})
}

func (h HandlerSet) DeleteTopic(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.topics.Delete(c.Request.Context(), user, c.Param("topicId")); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
