package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openclaw/mission-control/pkg/fabric"
)

// sseWriter adapts the response writer to the stream engine. Flush is a
// no-op when the underlying writer does not support it.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (w *sseWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *sseWriter) Flush() {
	if w.f != nil {
		w.f.Flush()
	}
}

// streamHandler handles GET /api/v1/orgs/:slug/events/stream.
// The response is a long-lived SSE stream; the Last-Event-ID header (or
// last_event_id query parameter, for EventSource polyfills) resumes from
// a previous cursor.
func (s *Server) streamHandler(c *echo.Context) error {
	p := principalFrom(c)

	lastEventID := c.Request().Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = c.QueryParam("last_event_id")
	}

	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	var rw http.ResponseWriter = c.Response()
	flusher, _ := rw.(http.Flusher)
	w := &sseWriter{w: rw, f: flusher}

	err := s.streamEngine.Serve(c.Request().Context(), w, p, lastEventID)
	if errors.Is(err, fabric.ErrConnectionLimit) {
		// Nothing has been written yet, a regular JSON error still works.
		h.Set("Content-Type", "application/json")
		return c.JSON(http.StatusTooManyRequests, newConnectionLimitBody())
	}
	if err != nil {
		s.logger.Warn("Event stream ended with error",
			"org_id", p.OrgID, "user_id", p.UserID, "error", err)
	}
	return nil
}
