package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// SSE connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateStreaming    = "streaming"
)

const (
	backoffInitial = time.Second
	backoffMax     = 60 * time.Second
)

// StreamEvent is one parsed SSE frame from the hub.
type StreamEvent struct {
	Type string
	// ID is the raw id field, the hub's sequence id for real events.
	ID   string
	Data []byte
}

// EventHandler consumes inbound stream events. The SSE client blocks on
// the handler, so slow handlers apply backpressure to the stream.
type EventHandler func(ctx context.Context, ev StreamEvent)

// SSEClient maintains a resumable event stream from the hub. It
// reconnects with exponential backoff and treats a silent connection as
// dead once the heartbeat timeout passes.
type SSEClient struct {
	baseURL          string
	orgSlug          string
	token            string
	lastEventID      func() string
	handler          EventHandler
	heartbeatTimeout time.Duration
	logger           *slog.Logger
	http             *http.Client

	state atomic.Value
}

// NewSSEClient creates a stream client for one agent. lastEventID is
// called before each connection attempt so the resume cursor reflects
// processed events.
func NewSSEClient(baseURL string, agent AgentConfig, heartbeatTimeout time.Duration, lastEventID func() string, handler EventHandler, logger *slog.Logger) *SSEClient {
	c := &SSEClient{
		baseURL:          baseURL,
		orgSlug:          agent.OrgSlug,
		token:            agent.Token,
		lastEventID:      lastEventID,
		handler:          handler,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger,
		http:             &http.Client{},
	}
	c.state.Store(StateDisconnected)
	return c
}

// State returns the current connection state.
func (c *SSEClient) State() string {
	return c.state.Load().(string)
}

// Run connects and streams until ctx is cancelled.
func (c *SSEClient) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		if ctx.Err() != nil {
			c.state.Store(StateDisconnected)
			return
		}

		c.state.Store(StateConnecting)
		received, err := c.streamOnce(ctx)
		c.state.Store(StateDisconnected)

		if ctx.Err() != nil {
			return
		}

		// A connection that actually streamed resets the backoff; repeated
		// immediate failures keep doubling it.
		if received {
			backoff = backoffInitial
		}
		if err != nil {
			c.logger.Warn("Event stream disconnected", "error", err, "retry_in", backoff)
		} else {
			c.logger.Info("Event stream closed by hub", "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// streamOnce runs a single connection. Returns whether any frame or
// heartbeat arrived before the connection ended.
func (c *SSEClient) streamOnce(ctx context.Context) (received bool, err error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/orgs/%s/events/stream", c.baseURL, c.orgSlug)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")
	if id := c.lastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}

	c.state.Store(StateStreaming)
	c.logger.Info("Event stream connected", "org", c.orgSlug)

	// Watchdog: the hub heartbeats every 30s, so a connection silent past
	// the timeout is dead even if TCP has not noticed.
	activity := make(chan struct{}, 1)
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		timer := time.NewTimer(c.heartbeatTimeout)
		defer timer.Stop()
		for {
			select {
			case <-reqCtx.Done():
				return
			case <-activity:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(c.heartbeatTimeout)
			case <-timer.C:
				c.logger.Warn("Heartbeat timeout, dropping connection",
					"timeout", c.heartbeatTimeout)
				cancel()
				return
			}
		}
	}()
	defer func() { cancel(); <-watchdogDone }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ev StreamEvent
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		received = true
		select {
		case activity <- struct{}{}:
		default:
		}

		switch {
		case line == "":
			if ev.Type != "" || data.Len() > 0 {
				ev.Data = []byte(data.String())
				c.handler(ctx, ev)
			}
			ev = StreamEvent{}
			data.Reset()

		case strings.HasPrefix(line, ":"):
			// Heartbeat comment, activity already recorded.

		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	err = scanner.Err()
	if err == nil || errors.Is(err, io.EOF) || reqCtx.Err() != nil {
		return received, nil
	}
	return received, err
}
