package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"odaiboard/internal/cascade"
	"odaiboard/internal/config"
	"odaiboard/internal/feed"
	"odaiboard/internal/ledger"
	"odaiboard/internal/middleware"
	"odaiboard/internal/models"
	"odaiboard/internal/service"
	"odaiboard/internal/store"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// BlobStore is the object storage the API writes images to.
type BlobStore interface {
	service.BlobStore
	cascade.BlobStore
}

type Dependencies struct {
	Config *config.AppConfig
	Log    zerolog.Logger
	Store  store.Store
	Users  store.UserStore
	Broker feed.Broker
	Blobs  BlobStore
	Tasks  service.TaskQueue
	Checks map[string]HealthCheck
}

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	users       store.UserStore
	watcher     *feed.Watcher
	authService *service.AuthService
	topics      *service.TopicService
	submissions *service.SubmissionService
	votes       *service.VoteService
	checks      map[string]HealthCheck
	now         func() time.Time
}

func NewHandlerSet(deps Dependencies) HandlerSet {
	cfg := deps.Config
	log := deps.Log

	deleter := cascade.NewDeleter(deps.Store, deps.Blobs, deps.Tasks, deps.Broker, log)
	schedule := service.Schedule{Location: cfg.Contest.Location(), Hour: cfg.Contest.ScheduleHour}

	return HandlerSet{
		log:         log,
		cfg:         cfg,
		users:       deps.Users,
		watcher:     feed.NewWatcher(deps.Store, deps.Broker),
		authService: service.NewAuthService(deps.Users, cfg, log),
		topics:      service.NewTopicService(deps.Store, deleter, deps.Broker, schedule, log),
		submissions: service.NewSubmissionService(deps.Store, deps.Blobs, deps.Tasks, deps.Broker, cfg.Contest.MaxUploadBytes, log),
		votes:       service.NewVoteService(deps.Store, ledger.New(deps.Store, deps.Broker, log), log),
		checks:      deps.Checks,
		now:         time.Now,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	requireUser := middleware.Auth(h.cfg, h.users)
	optionalUser := middleware.OptionalAuth(h.cfg, h.users)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.GET("/me", requireUser, h.Me)
	}

	v1.GET("/stream/topics", optionalUser, h.StreamTopics)

	topics := v1.Group("/topics")
	{
		topics.GET("", optionalUser, h.ListTopics)
		topics.POST("", requireUser, h.CreateTopic)

		topic := topics.Group("/:topicId")
		topic.GET("", optionalUser, h.GetTopic)
		topic.DELETE("", requireUser, h.DeleteTopic)
		topic.GET("/stream", optionalUser, h.StreamTopic)
		topic.GET("/submissions", optionalUser, h.ListSubmissions)
		topic.POST("/submissions", requireUser, h.UploadSubmission)
		topic.GET("/submissions/mine", requireUser, h.MySubmission)
		topic.GET("/board", optionalUser, h.Board)
		topic.POST("/votes", requireUser, h.Vote)
		topic.GET("/results", optionalUser, h.Results)
	}

	admin := v1.Group("/admin")
	admin.Use(
		requireUser,
		middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleSuperAdmin),
	)
	admin.GET("/topics", h.AdminListTopics)
	admin.POST("/users/:userId/status", h.AdminSetUserStatus)
}

// viewerID is the authenticated user's id, or empty for anonymous requests.
func viewerID(c *gin.Context) string {
	user, _ := middleware.CurrentUser(c)
	return user.ID
}
