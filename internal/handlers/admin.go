package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"odaiboard/internal/models"
)

// AdminListTopics lists every topic, private ones included, newest first.
func (h HandlerSet) AdminListTopics(c *gin.Context) {
	limit := 50
	offset := 0

	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			offset = (v - 1) * limit
		}
	}

	topics, err := h.topics.ListAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	total := len(topics)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"items": newTopicResponses(topics[offset:end], h.now()),
		"total": total,
	})
}

type userStatusRequest struct {
	Status models.UserStatus `json:"status" binding:"required,oneof=active suspended"`
}

func (h HandlerSet) AdminSetUserStatus(c *gin.Context) {
	var req userStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.authService.SetStatus(c.Request.Context(), c.Param("userId"), req.Status); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
