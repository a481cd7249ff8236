package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"odaiboard/internal/media/sniffer"
	"odaiboard/internal/middleware"
	"odaiboard/internal/models"
	"odaiboard/internal/ranking"
	"odaiboard/internal/service"
)

// multipartOverhead leaves room for form fields around the file part.
const multipartOverhead = 1 << 20

type submissionResponse struct {
	ID           string    `json:"id"`
	TopicID      string    `json:"topicId"`
	UserID       string    `json:"userId"`
	ImageURL     string    `json:"imageUrl"`
	ThumbnailKey string    `json:"thumbnailKey,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	Votes        int       `json:"votes"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newSubmissionResponse(sub models.Submission) submissionResponse {
	return submissionResponse{
		ID:           sub.ID,
		TopicID:      sub.TopicID,
		UserID:       sub.UserID,
		ImageURL:     sub.ImageURL,
		ThumbnailKey: sub.ThumbnailPath(),
		Caption:      sub.Caption,
		Votes:        sub.Votes,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
}

type entryResponse struct {
	submissionResponse
	Rank   int  `json:"rank"`
	Winner bool `json:"winner,omitempty"`
}

func newEntryResponses(entries []ranking.Entry) []entryResponse {
	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryResponse{
			submissionResponse: newSubmissionResponse(e.Submission),
			Rank:               e.Rank,
			Winner:             e.Winner,
		})
	}
	return items
}

func (h HandlerSet) UploadSubmission(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if limit := h.cfg.Contest.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file_required", "message": err.Error()})
		return
	}
	defer file.Close()

	sub, err := h.submissions.Upload(c.Request.Context(), service.SubmissionInput{
		User:     user,
		TopicID:  c.Param("topicId"),
		Filename: header.Filename,
		Declared: sniffer.MimeTypeFromHTTP(http.Header(header.Header)),
		File:     file,
		Size:     header.Size,
		Caption:  c.PostForm("caption"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submission": newSubmissionResponse(sub),
	})
}

func (h HandlerSet) MySubmission(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, err := h.submissions.Mine(c.Request.Context(), user, c.Param("topicId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submission": newSubmissionResponse(sub),
	})
}

func (h HandlerSet) ListSubmissions(c *gin.Context) {
	subs, err := h.submissions.List(c.Request.Context(), viewerID(c), c.Param("topicId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]submissionResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, newSubmissionResponse(sub))
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
	})
}
