package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openclaw/mission-control/pkg/models"
)

// SubscriptionEntry is one filter entry in subscription requests and
// responses.
type SubscriptionEntry struct {
	TopicType string `json:"topic_type"`
	TopicID   string `json:"topic_id"`
}

// ReplaceSubscriptionsRequest is the body of PUT .../events/subscriptions.
type ReplaceSubscriptionsRequest struct {
	Subscriptions []SubscriptionEntry `json:"subscriptions"`
}

// listSubscriptionsHandler handles GET /api/v1/orgs/:slug/events/subscriptions.
func (s *Server) listSubscriptionsHandler(c *echo.Context) error {
	p := principalFrom(c)

	subs, err := s.subscriptions.List(c.Request().Context(), p.UserID, p.OrgID)
	if err != nil {
		return mapServiceError(err)
	}

	entries := make([]SubscriptionEntry, 0, len(subs))
	for _, sub := range subs {
		entries = append(entries, SubscriptionEntry{TopicType: sub.TopicKind, TopicID: sub.TopicID})
	}
	return c.JSON(http.StatusOK, map[string]any{"subscriptions": entries})
}

// replaceSubscriptionsHandler handles PUT /api/v1/orgs/:slug/events/subscriptions.
// The body replaces the user's entire filter set; an empty list clears it.
func (s *Server) replaceSubscriptionsHandler(c *echo.Context) error {
	p := principalFrom(c)

	var req ReplaceSubscriptionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	subs := make([]models.Subscription, 0, len(req.Subscriptions))
	for _, entry := range req.Subscriptions {
		subs = append(subs, models.Subscription{
			UserID:    p.UserID,
			OrgID:     p.OrgID,
			TopicKind: entry.TopicType,
			TopicID:   entry.TopicID,
		})
	}

	if err := s.subscriptions.Replace(c.Request().Context(), p.UserID, p.OrgID, subs); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"subscriptions": req.Subscriptions})
}
