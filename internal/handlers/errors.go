package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"odaiboard/internal/ledger"
	"odaiboard/internal/service"
	"odaiboard/internal/store"
)

type apiError struct {
	status int
	code   string
}

var errorTable = []struct {
	err error
	apiError
}{
	{store.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
	{service.ErrForbidden, apiError{http.StatusForbidden, "forbidden"}},
	{store.ErrPermissionDenied, apiError{http.StatusForbidden, "forbidden"}},
	{service.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "invalid_credentials"}},
	{service.ErrUserSuspended, apiError{http.StatusForbidden, "user_suspended"}},
	{service.ErrEmailTaken, apiError{http.StatusConflict, "email_taken"}},
	{service.ErrInvalidTopic, apiError{http.StatusBadRequest, "invalid_topic"}},
	{service.ErrInvalidInput, apiError{http.StatusBadRequest, "invalid_input"}},
	{ledger.ErrInvalidVote, apiError{http.StatusBadRequest, "invalid_vote"}},
	{service.ErrUnsupportedImage, apiError{http.StatusUnsupportedMediaType, "unsupported_image"}},
	{service.ErrFileTooLarge, apiError{http.StatusRequestEntityTooLarge, "file_too_large"}},
	{service.ErrUploadClosed, apiError{http.StatusConflict, "upload_closed"}},
	{service.ErrVotingClosed, apiError{http.StatusConflict, "voting_closed"}},
	{service.ErrResultsPending, apiError{http.StatusConflict, "results_pending"}},
	{store.ErrConflict, apiError{http.StatusConflict, "conflict"}},
	{store.ErrUnavailable, apiError{http.StatusServiceUnavailable, "unavailable"}},
}

// respondError writes {"error": code, "message": text}. Unknown errors are
// logged and reported as internal.
func (h HandlerSet) respondError(c *gin.Context, err error) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			c.AbortWithStatusJSON(entry.status, gin.H{"error": entry.code, "message": err.Error()})
			return
		}
	}
	h.log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_server_error",
		"message": "unexpected server error",
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
}
