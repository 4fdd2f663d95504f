// Package relay is a development backend for the chat engine: REST endpoints for
// the fetch collaborator and a websocket endpoint speaking the event protocol.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"ledger-chat/internal/db"
	"ledger-chat/internal/models"
	"ledger-chat/internal/services"
)

type Server struct {
	app   *fiber.App
	hub   *Hub
	users *services.UserService
	chat  *services.ChatService
	log   *zap.Logger
}

// NewServer wires the routes. requestLog enables Fiber's access log.
func NewServer(users *services.UserService, chat *services.ChatService, hub *Hub, log *zap.Logger, requestLog bool) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{hub: hub, users: users, chat: chat, log: log.Named("relay")}

	app := fiber.New(fiber.Config{
		AppName:               "ledgerchat relay",
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler:          errorHandler,
	})

	// Middleware
	if requestLog {
		app.Use(logger.New())
	}
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")

	// Public Routes
	api.Post("/register", s.register)
	api.Post("/login", s.login)

	// Protected Routes
	protected := api.Group("/")
	protected.Use(AuthMiddleware(users))
	protected.Get("/me", s.me)
	protected.Get("/friends", s.friends)
	protected.Get("/conversations", s.conversations)
	protected.Post("/conversations/direct", s.createDirect)
	protected.Get("/conversations/:id", s.conversation)
	protected.Get("/conversations/:id/messages", s.messages)

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// WebSocket Route. The upgrade check runs before auth.
	app.Use("/ws", WSUpgradeMiddleware)
	app.Use("/ws", AuthMiddleware(users))
	app.Get("/ws", s.WebSocketHandler())

	s.app = app
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Hub() *Hub { return s.hub }

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func (s *Server) register(c *fiber.Ctx) error {
	var req services.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	user, err := s.users.Register(c.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrUserExists) {
			return c.Status(400).JSON(fiber.Map{"error": "username already exists"})
		}
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	token, err := s.users.GenerateJWT(user.ID, user.Username)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to generate access token"})
	}
	return c.Status(201).JSON(fiber.Map{"data": models.AuthResponse{Token: token, User: user}})
}

func (s *Server) login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	res, err := s.users.Login(c.Context(), req)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"data": res})
}

func (s *Server) me(c *fiber.Ctx) error {
	user, err := s.users.User(c.Context(), userID(c))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "user not found"})
	}
	return c.JSON(fiber.Map{"data": user})
}

func (s *Server) friends(c *fiber.Ctx) error {
	friends, err := s.users.Friends(c.Context(), userID(c), s.hub.IsUserOnline)
	if err != nil {
		s.log.Error("list friends", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch friends"})
	}
	return c.JSON(fiber.Map{"data": friends})
}

func (s *Server) conversations(c *fiber.Ctx) error {
	convs, err := s.chat.Conversations(c.Context(), userID(c))
	if err != nil {
		s.log.Error("list conversations", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch conversations"})
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	return c.JSON(fiber.Map{"data": convs})
}

func (s *Server) conversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.chat.CanAccess(c.Context(), id, userID(c)); err != nil {
		return c.Status(403).JSON(fiber.Map{"error": errorText(err)})
	}
	conv, err := s.chat.Conversation(c.Context(), id)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Conversation not found"})
	}
	return c.JSON(fiber.Map{"data": conv})
}

func (s *Server) createDirect(c *fiber.Ctx) error {
	var req models.CreateDirectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.ParticipantID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "participantId required"})
	}

	conv, created, err := s.chat.GetOrCreateDirect(c.Context(), userID(c), req.ParticipantID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": conv})
}

func (s *Server) messages(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit > 200 {
		limit = 200
	}

	res, err := s.chat.History(c.Context(), c.Params("id"), userID(c), page, limit)
	if err != nil {
		if errors.Is(err, services.ErrNotParticipant) {
			return c.Status(403).JSON(fiber.Map{"error": errorText(err)})
		}
		s.log.Error("fetch messages", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch messages"})
	}
	return c.JSON(res)
}

type Options struct {
	Port        int
	DatabaseURL string
	JWTSecret   string
	TokenTTL    time.Duration
	Seed        bool
	RequestLog  bool
}

// Run starts the relay and blocks until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, opts Options, log *zap.Logger) error {
	store, err := openStore(ctx, opts.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer store.Close()

	users := services.NewUserService(store, opts.JWTSecret, opts.TokenTTL)
	chat := services.NewChatService(store)
	if opts.Seed {
		if err := services.SeedDemo(ctx, users, chat); err != nil {
			return err
		}
		log.Info("seeded demo accounts", zap.Strings("users", []string{"alice", "bob", "carol"}))
	}

	srv := NewServer(users, chat, NewHub(log), log, opts.RequestLog)
	errc := make(chan error, 1)
	go func() {
		errc <- srv.App().Listen(fmt.Sprintf(":%d", opts.Port))
	}()
	log.Info("relay listening", zap.Int("port", opts.Port))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("Gracefully shutting down...")
	if err := srv.App().Shutdown(); err != nil {
		return err
	}
	log.Info("Server shutdown complete")
	return nil
}

func openStore(ctx context.Context, databaseURL string, log *zap.Logger) (services.Store, error) {
	if databaseURL == "" {
		log.Info("no database configured, keeping data in memory")
		return services.NewMemoryStore(), nil
	}
	pool, err := db.Open(ctx, databaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return services.NewPGStore(pool), nil
}
