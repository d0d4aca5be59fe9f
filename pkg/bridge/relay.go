package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	relayMaxAttempts  = 3
	relayRetryBackoff = time.Second
)

// HubClient calls the hub's REST API on behalf of the agent.
type HubClient struct {
	baseURL    string
	orgSlug    string
	token      string
	senderID   string
	senderName string
	http       *http.Client
}

// NewHubClient creates a hub REST client bound to one agent's org and
// credential.
func NewHubClient(baseURL string, agent AgentConfig) *HubClient {
	return &HubClient{
		baseURL:    baseURL,
		orgSlug:    agent.OrgSlug,
		token:      agent.Token,
		senderID:   agent.SenderID.String(),
		senderName: agent.Name,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HubClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method,
		fmt.Sprintf("%s/api/v1/orgs/%s%s", c.baseURL, c.orgSlug, path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// PostMessage posts a message to a channel, retrying transient failures.
// 429 responses honor Retry-After; any other 4xx fails immediately since
// retrying cannot fix the request.
func (c *HubClient) PostMessage(ctx context.Context, channelID uuid.UUID, content string) error {
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	body := map[string]string{
		"content":     content,
		"sender_id":   c.senderID,
		"sender_name": c.senderName,
	}

	var lastErr error
	for attempt := 1; attempt <= relayMaxAttempts; attempt++ {
		resp, err := c.do(ctx, http.MethodPost, path, body)
		if err != nil {
			lastErr = err
		} else {
			status := resp.StatusCode
			retryAfter := resp.Header.Get("Retry-After")
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			switch {
			case status < 300:
				return nil
			case status == http.StatusTooManyRequests:
				lastErr = fmt.Errorf("hub rate limited the relay")
				if wait, err := strconv.Atoi(retryAfter); err == nil && wait > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(time.Duration(wait) * time.Second):
					}
					continue
				}
			case status >= 400 && status < 500:
				return fmt.Errorf("hub rejected message with status %d", status)
			default:
				lastErr = fmt.Errorf("hub returned status %d", status)
			}
		}

		if attempt < relayMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(relayRetryBackoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("message relay failed after %d attempts: %w", relayMaxAttempts, lastErr)
}

// Subscriptions returns the bridge user's event filter entries.
func (c *HubClient) Subscriptions(ctx context.Context) ([]SubscriptionEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/events/subscriptions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subscriptions request failed with status %d", resp.StatusCode)
	}

	var body struct {
		Subscriptions []SubscriptionEntry `json:"subscriptions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}
	return body.Subscriptions, nil
}

// ReplaceSubscriptions replaces the bridge user's event filter.
func (c *HubClient) ReplaceSubscriptions(ctx context.Context, entries []SubscriptionEntry) error {
	resp, err := c.do(ctx, http.MethodPut, "/events/subscriptions",
		map[string]any{"subscriptions": entries})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscription update failed with status %d", resp.StatusCode)
	}
	return nil
}

// SubscriptionEntry mirrors the hub's subscription wire format.
type SubscriptionEntry struct {
	TopicType string `json:"topic_type"`
	TopicID   string `json:"topic_id"`
}

// outboundMessage is one queued agent message.
type outboundMessage struct {
	ChannelID uuid.UUID
	Content   string
}

// Relay buffers outbound agent messages and delivers them to the hub in
// order. The buffer is bounded; when full the oldest message is dropped
// so a long hub outage cannot grow memory without limit.
type Relay struct {
	hub     *HubClient
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []outboundMessage
	cap    int
	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// NewRelay creates a relay with the given queue capacity.
func NewRelay(hub *HubClient, capacity int, metrics *Metrics, logger *slog.Logger) *Relay {
	return &Relay{
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		cap:     capacity,
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the delivery loop.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Enqueue queues a message for delivery.
func (r *Relay) Enqueue(channelID uuid.UUID, content string) {
	r.mu.Lock()
	if len(r.queue) >= r.cap {
		dropped := r.queue[0]
		r.queue = r.queue[1:]
		r.logger.Warn("Outbound queue full, dropping oldest message",
			"channel_id", dropped.ChannelID)
		r.metrics.OutboundErrors.Inc()
	}
	r.queue = append(r.queue, outboundMessage{ChannelID: channelID, Content: content})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// QueueLen returns the number of undelivered messages.
func (r *Relay) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Stop flushes the remaining queue within the timeout, then stops the
// delivery loop.
func (r *Relay) Stop(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for r.QueueLen() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n := r.QueueLen(); n > 0 {
		r.logger.Warn("Shutdown with undelivered messages", "count", n)
	}
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	for {
		msg, ok := r.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
				continue
			}
		}

		if err := r.hub.PostMessage(ctx, msg.ChannelID, msg.Content); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("Failed to relay message",
				"channel_id", msg.ChannelID, "error", err)
			r.metrics.OutboundErrors.Inc()
			continue
		}
		r.metrics.OutboundMessages.Inc()
	}
}

func (r *Relay) dequeue() (outboundMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return outboundMessage{}, false
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, true
}
