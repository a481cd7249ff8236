package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"odaiboard/internal/middleware"
)

type voteRequest struct {
	SubmissionID string `json:"submissionId" binding:"required"`
}

// Vote casts the caller's ballot, moves it, or withdraws it when the same
// submission is picked again.
func (h HandlerSet) Vote(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	out, err := h.votes.Vote(c.Request.Context(), user, c.Param("topicId"), req.SubmissionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"action":       out.Action,
		"submissionId": out.SubmissionID,
		"previousId":   out.PreviousID,
	})
}

func (h HandlerSet) Board(c *gin.Context) {
	board, err := h.votes.Board(c.Request.Context(), viewerID(c), c.Param("topicId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	now := h.now()
	c.JSON(http.StatusOK, gin.H{
		"topic":   newTopicResponse(board.Topic, now),
		"entries": newEntryResponses(board.Entries),
		"myVote":  board.MyVote,
	})
}

func (h HandlerSet) Results(c *gin.Context) {
	results, err := h.votes.Results(c.Request.Context(), viewerID(c), c.Param("topicId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"topic":   newTopicResponse(results.Topic, h.now()),
		"entries": newEntryResponses(results.Entries),
	})
}
