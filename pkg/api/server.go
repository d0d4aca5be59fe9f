// Package api exposes the hub over HTTP: REST endpoints for channels,
// messages and subscriptions, the SSE event stream, and the chat
// WebSocket.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/openclaw/mission-control/pkg/chat"
	"github.com/openclaw/mission-control/pkg/database"
	"github.com/openclaw/mission-control/pkg/events"
	"github.com/openclaw/mission-control/pkg/fabric"
	"github.com/openclaw/mission-control/pkg/services"
)

// Server is the HTTP surface of the hub.
type Server struct {
	e    *echo.Echo
	http *http.Server

	dbClient      *database.Client
	verifier      TokenVerifier
	revoker       Revoker
	registry      *fabric.Registry
	streamEngine  *events.StreamEngine
	chatManager   *chat.Manager
	channels      *services.ChannelService
	messages      *services.MessageService
	subscriptions *services.SubscriptionService
	broadcaster   *events.Broadcaster
	logger        *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(
	dbClient *database.Client,
	verifier TokenVerifier,
	registry *fabric.Registry,
	streamEngine *events.StreamEngine,
	chatManager *chat.Manager,
	channels *services.ChannelService,
	messages *services.MessageService,
	subscriptions *services.SubscriptionService,
	broadcaster *events.Broadcaster,
	logger *slog.Logger,
) *Server {
	s := &Server{
		dbClient:      dbClient,
		verifier:      verifier,
		revoker:       registry,
		registry:      registry,
		streamEngine:  streamEngine,
		chatManager:   chatManager,
		channels:      channels,
		messages:      messages,
		subscriptions: subscriptions,
		broadcaster:   broadcaster,
		logger:        logger,
	}

	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	org := e.Group("/api/v1/orgs/:slug", s.requireAuth())
	org.GET("/events/stream", s.streamHandler)
	org.GET("/events/subscriptions", s.listSubscriptionsHandler)
	org.PUT("/events/subscriptions", s.replaceSubscriptionsHandler)
	org.POST("/events", s.publishEventHandler)
	org.GET("/channels", s.listChannelsHandler)
	org.GET("/channels/:channel_id", s.getChannelHandler)
	org.GET("/channels/:channel_id/messages", s.listMessagesHandler)
	org.POST("/channels/:channel_id/messages", s.postMessageHandler)
	org.GET("/presence", s.presenceHandler)
	org.GET("/ws", s.wsHandler)

	s.e = e
	return s
}

// Start runs the HTTP server on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.e
}
