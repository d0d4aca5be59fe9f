package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GatewayClient forwards inbound traffic to the agent runtime's REST
// gateway and returns its replies.
type GatewayClient struct {
	baseURL string
	http    *http.Client
}

// NewGatewayClient creates a runtime gateway client. The generous timeout
// covers agent turns that involve model calls.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// DeliverMessage posts a chat message to the runtime and returns its
// response text, empty when the runtime chose not to answer.
func (g *GatewayClient) DeliverMessage(ctx context.Context, session *SessionMapping, msg InboundMessage) (string, error) {
	var out struct {
		Response string `json:"response"`
	}
	err := g.post(ctx, "/v1/chat", map[string]string{
		"session_key": session.SessionKey,
		"org_slug":    session.OrgSlug,
		"channel_id":  msg.ChannelID.String(),
		"message_id":  msg.MessageID.String(),
		"sender_id":   msg.SenderID.String(),
		"sender":      msg.SenderName,
		"message":     msg.Content,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Response, nil
}

// DeliverCommand posts a slash command to the runtime's command endpoint
// and returns its output.
func (g *GatewayClient) DeliverCommand(ctx context.Context, session *SessionMapping, cmd InboundCommand) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	err := g.post(ctx, "/v1/command", map[string]string{
		"session_key": session.SessionKey,
		"org_slug":    session.OrgSlug,
		"channel_id":  cmd.ChannelID.String(),
		"message_id":  cmd.MessageID.String(),
		"sender_id":   cmd.SenderID.String(),
		"command":     cmd.Command,
		"args":        cmd.Args,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Output, nil
}

func (g *GatewayClient) post(ctx context.Context, path string, body map[string]string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode runtime request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("runtime request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("runtime returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode runtime response: %w", err)
	}
	return nil
}
