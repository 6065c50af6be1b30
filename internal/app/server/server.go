package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sifan077/TempLogin/config"
	"github.com/sifan077/TempLogin/internal/app/repository"
	"github.com/sifan077/TempLogin/internal/app/service"
	inthttp "github.com/sifan077/TempLogin/internal/http/handler"
	"github.com/sifan077/TempLogin/internal/http/middleware"
	httpUtil "github.com/sifan077/TempLogin/internal/http/util"
)

const readTimeout = 10 * time.Second

// Dependencies bundles the services and infrastructure required by the HTTP server.
type Dependencies struct {
	Logger     *zap.Logger
	Config     config.ServerConfig
	Postgres   *pgxpool.Pool
	Redis      *redis.Client
	DB         *gorm.DB
	Links      service.LinkService
	Access     service.AccessService
	AccessLogs repository.AccessLogRepository
	Secret     []byte
	Sessions   inthttp.SessionIssuer
	Now        func() time.Time
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "templogin",
		DisableStartupMessage: true,
		ReadTimeout:           readTimeout,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	logger := s.deps.Logger

	s.app.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger.Named("http")),
		middleware.CORS(),
	)

	inthttp.NewHealthHandler(inthttp.HealthDeps{
		Postgres: s.deps.Postgres,
		Redis:    s.deps.Redis,
		DB:       s.deps.DB,
	}).Register(s.app)

	loginHandler := inthttp.NewLoginHandler(inthttp.LoginDeps{
		Logger:   logger,
		Access:   s.deps.Access,
		Signer:   httpUtil.NewConfirmSigner(s.deps.Secret, s.deps.Config.ConfirmTTL),
		Sessions: s.deps.Sessions,
		Now:      s.deps.Now,
	})
	loginHandler.Register(s.app, middleware.RateLimit(
		s.deps.Redis,
		middleware.LoginRateLimitConfig(s.deps.Config.RateLimitRequests, s.deps.Config.RateLimitWindow),
		logger,
	))

	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:      logger,
		LinkService: s.deps.Links,
		AccessLogs:  s.deps.AccessLogs,
		Now:         s.deps.Now,
	})
	apiHandler.Register(s.app, middleware.AdminAuth(s.deps.Config.AdminKey))
}

// errorHandler keeps Fiber's own errors (unknown route, bad method) in the JSON shape
// the handlers use.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
