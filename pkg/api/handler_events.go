package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/openclaw/mission-control/pkg/models"
)

// PublishEventRequest is the body of POST /api/v1/orgs/:slug/events.
// Domain producers use this to append and fan out an event without going
// through chat.
type PublishEventRequest struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// publishEventHandler handles POST /api/v1/orgs/:slug/events.
func (s *Server) publishEventHandler(c *echo.Context) error {
	p := principalFrom(c)

	var req PublishEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req.EventType = strings.TrimSpace(req.EventType)
	if req.EventType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event_type is required")
	}

	actorID := p.UserID
	stored, err := s.broadcaster.Broadcast(c.Request().Context(), models.Event{
		OrgID:     p.OrgID,
		Type:      req.EventType,
		ActorID:   &actorID,
		ActorKind: p.Kind,
		Payload:   req.Payload,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, stored)
}
