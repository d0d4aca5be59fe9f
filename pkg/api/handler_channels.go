package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/openclaw/mission-control/pkg/models"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
)

// listChannelsHandler handles GET /api/v1/orgs/:slug/channels.
func (s *Server) listChannelsHandler(c *echo.Context) error {
	p := principalFrom(c)

	channels, err := s.channels.List(c.Request().Context(), p)
	if err != nil {
		return mapServiceError(err)
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	return c.JSON(http.StatusOK, map[string]any{"channels": channels})
}

// getChannelHandler handles GET /api/v1/orgs/:slug/channels/:channel_id.
func (s *Server) getChannelHandler(c *echo.Context) error {
	p := principalFrom(c)

	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel id")
	}

	channel, err := s.channels.VerifyAccess(c.Request().Context(), p, channelID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, channel)
}

// listMessagesHandler handles GET /api/v1/orgs/:slug/channels/:channel_id/messages.
// Pagination is cursor based on message timestamps: "before" pages history
// newest first, "after" reads forward for catch-up. The cursors are RFC
// 3339 timestamps and are mutually exclusive.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	p := principalFrom(c)

	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel id")
	}
	if _, err := s.channels.VerifyAccess(c.Request().Context(), p, channelID); err != nil {
		return mapServiceError(err)
	}

	limit := defaultMessagePageSize
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = min(parsed, maxMessagePageSize)
	}

	beforeRaw := c.QueryParam("before")
	afterRaw := c.QueryParam("after")
	if beforeRaw != "" && afterRaw != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "before and after are mutually exclusive")
	}

	var messages []models.MessageView
	if afterRaw != "" {
		after, err := time.Parse(time.RFC3339Nano, afterRaw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after cursor")
		}
		messages, err = s.messages.ListAfter(c.Request().Context(), p.OrgID, channelID, after, limit)
		if err != nil {
			return mapServiceError(err)
		}
	} else {
		var before time.Time
		if beforeRaw != "" {
			before, err = time.Parse(time.RFC3339Nano, beforeRaw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid before cursor")
			}
		}
		messages, err = s.messages.ListBefore(c.Request().Context(), p.OrgID, channelID, before, limit)
		if err != nil {
			return mapServiceError(err)
		}
	}

	if messages == nil {
		messages = []models.MessageView{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// PostMessageRequest is the body of POST .../channels/:channel_id/messages.
// Mentions supplements the @<uuid> ids parsed out of content.
type PostMessageRequest struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions,omitempty"`
}

// postMessageHandler handles POST /api/v1/orgs/:slug/channels/:channel_id/messages.
// REST posts share the WebSocket write path, so they raise the same events
// and reach live chat subscribers.
func (s *Server) postMessageHandler(c *echo.Context) error {
	p := principalFrom(c)

	channelID, err := uuid.Parse(c.Param("channel_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel id")
	}

	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	mentions := make([]uuid.UUID, 0, len(req.Mentions))
	for _, raw := range req.Mentions {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid mention id")
		}
		mentions = append(mentions, id)
	}

	view, err := s.chatManager.PostMessage(c.Request().Context(), p, channelID, req.Content, "", mentions)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

// presenceHandler handles GET /api/v1/orgs/:slug/presence.
// Returns the user ids currently connected to chat anywhere in the org.
func (s *Server) presenceHandler(c *echo.Context) error {
	p := principalFrom(c)

	members, err := s.registry.Members(c.Request().Context(), p.OrgID)
	if err != nil {
		return mapServiceError(err)
	}
	if members == nil {
		members = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"online": members})
}
