package relay

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledger-chat/internal/models"
	"ledger-chat/internal/services"
	"ledger-chat/internal/utils"
)

// WSUpgradeMiddleware rejects plain HTTP requests to the websocket route.
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthMiddleware verifies the bearer token and stores the caller in locals.
func AuthMiddleware(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Token from query param `access_token` or the Authorization header
		token := c.Query("access_token")
		if token == "" {
			if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing token")
		}

		claims, err := users.ValidateToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}
		c.Locals("user_id", claims.UserID)
		c.Locals("username", claims.Username)
		return c.Next()
	}
}

// WebSocketHandler serves one client connection for its lifetime.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("user_id").(string)
		username, _ := c.Locals("username").(string)
		connID := uuid.New().String()
		log := s.log.With(zap.String("conn_id", connID), zap.String("user_id", userID))

		if s.hub.Register(connID, userID, username, c) {
			s.hub.BroadcastToAll(utils.EventFrame(s.log, models.EventUserStatusChanged,
				models.StatusEvent{UserID: userID, Status: models.StatusOnline}), userID)
		}
		log.Info("client connected", zap.Int("connections", s.hub.CountUserConnections(userID)))

		defer func() {
			if _, last := s.hub.Unregister(connID); last {
				s.hub.BroadcastToAll(utils.EventFrame(s.log, models.EventUserStatusChanged,
					models.StatusEvent{UserID: userID, Status: models.StatusOffline}), userID)
			}
			c.Close()
			log.Info("client disconnected")
		}()

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Warn("read failed", zap.Error(err))
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			s.HandleMessage(session{connID: connID, userID: userID, username: username}, msg)
		}
	})
}
