package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"odaiboard/internal/feed"
	"odaiboard/internal/lifecycle"
	"odaiboard/internal/models"
	"odaiboard/internal/phase"
	"odaiboard/internal/ranking"
)

const heartbeatInterval = 15 * time.Second

type viewResponse struct {
	State           lifecycle.State `json:"state"`
	TopicID         string          `json:"topicId,omitempty"`
	Topic           *topicResponse  `json:"topic,omitempty"`
	Advisory        phase.Advisory  `json:"advisory,omitempty"`
	AdvisoryMessage string          `json:"advisoryMessage,omitempty"`
	Deadline        *time.Time      `json:"deadline,omitempty"`
	Error           string          `json:"error,omitempty"`
}

func newViewResponse(v lifecycle.View, now time.Time) viewResponse {
	resp := viewResponse{
		State:           v.State,
		TopicID:         v.TopicID,
		Advisory:        v.Advisory,
		AdvisoryMessage: v.Advisory.Message(),
		Deadline:        v.Deadline,
	}
	if v.Topic != nil {
		t := newTopicResponse(*v.Topic, now)
		resp.Topic = &t
	}
	if v.Err != nil {
		resp.Error = "unavailable"
	}
	return resp
}

// rankFor marks winners only once the topic has reached results.
func rankFor(state lifecycle.State, subs []models.Submission) []entryResponse {
	if state == lifecycle.StateResults {
		return newEntryResponses(ranking.Results(subs))
	}
	return newEntryResponses(ranking.Rank(subs))
}

func streamHeaders(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// StreamTopic follows one topic over server-sent events: "view" whenever
// its phase view changes, "submissions" with the live ranking (winners
// marked once results are out), and "ballot" with the caller's pick when
// signed in.
func (h HandlerSet) StreamTopic(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := viewerID(c)
	topicID := c.Param("topicId")

	if _, err := h.topics.Get(ctx, viewer, topicID); err != nil {
		h.respondError(c, err)
		return
	}

	subs, err := h.watcher.Submissions(ctx, topicID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var ballots <-chan feed.BallotSnapshot
	if viewer != "" {
		if ballots, err = h.watcher.Ballot(ctx, topicID, viewer); err != nil {
			h.respondError(c, err)
			return
		}
	}

	ctrl := lifecycle.NewController(h.watcher,
		lifecycle.WithTickInterval(h.cfg.Contest.TickInterval),
		lifecycle.WithLogger(h.log),
	)
	defer ctrl.Close()
	ctrl.Select(topicID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var (
		state    lifecycle.State
		latest   []models.Submission
		haveSubs bool
	)

	streamHeaders(c)
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v, ok := <-ctrl.Views():
			if !ok {
				return false
			}
			c.SSEvent("view", newViewResponse(v, h.now()))
			entered := v.State == lifecycle.StateResults && state != lifecycle.StateResults
			state = v.State
			if entered && haveSubs {
				c.SSEvent("submissions", gin.H{"entries": rankFor(state, latest)})
			}
			return v.State != lifecycle.StateNotFound
		case snap, ok := <-subs:
			if !ok {
				return false
			}
			if snap.Err != nil {
				h.log.Warn().Err(snap.Err).Str("topic_id", topicID).Msg("submissions snapshot failed")
				return true
			}
			latest, haveSubs = snap.Submissions, true
			c.SSEvent("submissions", gin.H{"entries": rankFor(state, latest)})
		case snap, ok := <-ballots:
			if !ok {
				return false
			}
			if snap.Err != nil {
				return true
			}
			c.SSEvent("ballot", gin.H{"submissionId": snap.Ballot.SubmissionID})
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": h.now().UTC()})
		}
		return true
	})
}

// StreamTopics sends the visible topic list whenever a topic is created,
// deleted or changes phase.
func (h HandlerSet) StreamTopics(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := viewerID(c)

	snaps, err := h.watcher.Topics(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	streamHeaders(c)
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap, ok := <-snaps:
			if !ok {
				return false
			}
			if snap.Err != nil {
				h.log.Warn().Err(snap.Err).Msg("topics snapshot failed")
				return true
			}
			visible := snap.Topics[:0]
			for _, t := range snap.Topics {
				if t.VisibleTo(viewer) {
					visible = append(visible, t)
				}
			}
			c.SSEvent("topics", gin.H{"items": newTopicResponses(visible, h.now())})
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": h.now().UTC()})
		}
		return true
	})
}
