package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// commandPrefix marks messages the bridge handles itself instead of
// passing to the agent runtime.
const commandPrefix = "mc-bridge "

// InboundMessage is a chat message delivered to the agent runtime.
type InboundMessage struct {
	MessageID  uuid.UUID
	ChannelID  uuid.UUID
	SenderID   uuid.UUID
	SenderName string
	Content    string
}

// InboundCommand is a slash command delivered to the agent runtime.
type InboundCommand struct {
	MessageID uuid.UUID
	ChannelID uuid.UUID
	SenderID  uuid.UUID
	Command   string
	Args      string
}

// Deliverer hands inbound traffic to the local agent runtime. A returned
// reply is posted back to the originating channel; empty means no reply.
type Deliverer interface {
	DeliverMessage(ctx context.Context, session *SessionMapping, msg InboundMessage) (string, error)
	DeliverCommand(ctx context.Context, session *SessionMapping, cmd InboundCommand) (string, error)
}

// Router consumes one agent's stream events, resolves the agent session
// for each inbound message, handles bridge-local commands, maintains
// session mappings from assignment events, and keeps the resume cursor
// current.
type Router struct {
	agent   AgentConfig
	state   *StateStore
	hub     *HubClient
	relay   *Relay
	runtime Deliverer
	metrics *Metrics
	logger  *slog.Logger
}

// NewRouter creates a router for one agent.
func NewRouter(agent AgentConfig, state *StateStore, hub *HubClient, relay *Relay, runtime Deliverer, metrics *Metrics, logger *slog.Logger) *Router {
	return &Router{
		agent:   agent,
		state:   state,
		hub:     hub,
		relay:   relay,
		runtime: runtime,
		metrics: metrics,
		logger:  logger,
	}
}

// eventBody is the subset of the hub event envelope the router reads.
// The event type comes from the SSE event line, not the body.
type eventBody struct {
	SequenceID int64           `json:"sequence_id"`
	RawPayload json.RawMessage `json:"payload"`
}

// HandleEvent processes one stream event. Safe to call from the SSE
// client's goroutine; errors are logged, never fatal to the stream.
func (r *Router) HandleEvent(ctx context.Context, ev StreamEvent) {
	switch ev.Type {
	case "events.reset":
		r.logger.Warn("Cursor expired, resetting local cursor")
		if err := r.state.ResetCursor(ctx, r.agentID()); err != nil {
			r.logger.Error("Failed to reset cursor", "error", err)
		}
		return
	case "session.revoked":
		r.logger.Error("Hub revoked the bridge credential, stream will close")
		return
	}

	var body eventBody
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		r.logger.Warn("Dropping malformed event", "type", ev.Type, "error", err)
		return
	}
	payload := map[string]string{}
	if len(body.RawPayload) > 0 {
		var anyPayload map[string]any
		if err := json.Unmarshal(body.RawPayload, &anyPayload); err == nil {
			for k, v := range anyPayload {
				if s, ok := v.(string); ok {
					payload[k] = s
				}
			}
		}
	}

	switch ev.Type {
	case "message.created":
		r.handleMessage(ctx, payload)
	case "command.invoked":
		r.handleCommandEvent(ctx, payload)
	case "project.user_assigned", "project.user_unassigned":
		r.handleProjectAssignment(ctx, ev.Type, payload)
	case "sub_agent.created", "sub_agent.terminated":
		r.handleSubAgent(ctx, ev.Type, payload)
	}

	r.advanceCursor(ctx, ev.ID, body.SequenceID)
}

func (r *Router) handleMessage(ctx context.Context, payload map[string]string) {
	senderID, err := uuid.Parse(payload["sender_id"])
	if err != nil {
		r.logger.Warn("Message event without valid sender, dropping")
		return
	}
	// The agent's own relayed messages come back on the stream.
	if senderID == r.agent.SenderID {
		return
	}

	channelID, err := uuid.Parse(payload["channel_id"])
	if err != nil {
		r.logger.Warn("Message event without valid channel, dropping")
		return
	}
	messageID, _ := uuid.Parse(payload["message_id"])
	content := payload["content"]

	r.metrics.InboundMessages.Inc()

	if strings.HasPrefix(content, commandPrefix) {
		r.handleLocalCommand(ctx, channelID, strings.TrimPrefix(content, commandPrefix))
		return
	}

	session, err := r.resolveSession(ctx, channelID, payload["project_id"])
	if err != nil {
		r.logger.Error("Failed to resolve agent session",
			"channel_id", channelID, "error", err)
		return
	}

	reply, err := r.runtime.DeliverMessage(ctx, session, InboundMessage{
		MessageID:  messageID,
		ChannelID:  channelID,
		SenderID:   senderID,
		SenderName: payload["sender_name"],
		Content:    content,
	})
	if err != nil {
		r.logger.Error("Runtime delivery failed",
			"session_key", session.SessionKey, "error", err)
		return
	}
	if reply != "" {
		r.relay.Enqueue(channelID, reply)
	}
}

// handleCommandEvent forwards a slash command to the runtime's command
// endpoint.
func (r *Router) handleCommandEvent(ctx context.Context, payload map[string]string) {
	senderID, err := uuid.Parse(payload["sender_id"])
	if err != nil || senderID == r.agent.SenderID {
		return
	}
	channelID, err := uuid.Parse(payload["channel_id"])
	if err != nil {
		r.logger.Warn("Command event without valid channel, dropping")
		return
	}
	messageID, _ := uuid.Parse(payload["message_id"])

	r.metrics.InboundMessages.Inc()

	session, err := r.resolveSession(ctx, channelID, payload["project_id"])
	if err != nil {
		r.logger.Error("Failed to resolve agent session",
			"channel_id", channelID, "error", err)
		return
	}

	r.metrics.CommandsRouted.Inc()

	reply, err := r.runtime.DeliverCommand(ctx, session, InboundCommand{
		MessageID: messageID,
		ChannelID: channelID,
		SenderID:  senderID,
		Command:   payload["command"],
		Args:      payload["args"],
	})
	if err != nil {
		r.logger.Error("Runtime command delivery failed",
			"session_key", session.SessionKey, "command", payload["command"], "error", err)
		return
	}
	if reply != "" {
		r.relay.Enqueue(channelID, reply)
	}
}

// handleProjectAssignment maintains the project session mapping when this
// agent is assigned to or removed from a project.
func (r *Router) handleProjectAssignment(ctx context.Context, eventType string, payload map[string]string) {
	if payload["user_id"] != r.agent.SenderID.String() {
		return
	}
	projectID := payload["project_id"]
	if projectID == "" {
		return
	}
	key := ProjectSessionKey(r.agent.OrgSlug, projectID)

	if eventType == "project.user_unassigned" {
		if err := r.state.DeleteMapping(ctx, key); err != nil {
			r.logger.Error("Failed to delete project session", "session_key", key, "error", err)
		}
		return
	}

	channelID, err := uuid.Parse(payload["channel_id"])
	if err != nil {
		r.logger.Warn("Assignment event without valid channel, skipping",
			"project_id", projectID)
		return
	}
	err = r.state.SaveMapping(ctx, SessionMapping{
		SessionKey:  key,
		AgentID:     r.agentID(),
		OrgSlug:     r.agent.OrgSlug,
		ChannelID:   channelID,
		ChannelType: "project",
	})
	if err != nil {
		r.logger.Error("Failed to save project session", "session_key", key, "error", err)
	}
}

// handleSubAgent maintains side-session mappings for sub-agents owned by
// this agent.
func (r *Router) handleSubAgent(ctx context.Context, eventType string, payload map[string]string) {
	if payload["agent_id"] != r.agent.SenderID.String() {
		return
	}
	subAgentID := payload["sub_agent_id"]
	if subAgentID == "" {
		return
	}
	key := SubSessionKey(r.agent.OrgSlug, subAgentID)

	if eventType == "sub_agent.terminated" {
		if err := r.state.DeleteMapping(ctx, key); err != nil {
			r.logger.Error("Failed to delete sub-agent session", "session_key", key, "error", err)
		}
		return
	}

	channelID, err := uuid.Parse(payload["channel_id"])
	if err != nil {
		r.logger.Warn("Sub-agent event without valid channel, skipping",
			"sub_agent_id", subAgentID)
		return
	}
	err = r.state.SaveMapping(ctx, SessionMapping{
		SessionKey:  key,
		AgentID:     r.agentID(),
		OrgSlug:     r.agent.OrgSlug,
		ChannelID:   channelID,
		ChannelType: "sub_agent",
	})
	if err != nil {
		r.logger.Error("Failed to save sub-agent session", "session_key", key, "error", err)
	}
}

// resolveSession finds or creates the session mapping for a channel.
// Project channels get a project-scoped session; everything else gets a
// per-channel side session.
func (r *Router) resolveSession(ctx context.Context, channelID uuid.UUID, projectID string) (*SessionMapping, error) {
	session, err := r.state.MappingForChannel(ctx, channelID)
	if err == nil {
		return session, nil
	}
	if err != ErrNoMapping {
		return nil, err
	}

	key := SubSessionKey(r.agent.OrgSlug, channelID.String())
	channelType := "org_wide"
	if projectID != "" {
		key = ProjectSessionKey(r.agent.OrgSlug, projectID)
		channelType = "project"
	}

	mapping := SessionMapping{
		SessionKey:  key,
		AgentID:     r.agentID(),
		OrgSlug:     r.agent.OrgSlug,
		ChannelID:   channelID,
		ChannelType: channelType,
	}
	if err := r.state.SaveMapping(ctx, mapping); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// handleLocalCommand executes a bridge-local command and replies on the
// same channel through the relay.
func (r *Router) handleLocalCommand(ctx context.Context, channelID uuid.UUID, command string) {
	r.metrics.CommandsRouted.Inc()

	fields := strings.Fields(command)
	if len(fields) == 0 {
		r.reply(channelID, "usage: mc-bridge subscribe|unsubscribe <topic_type> <topic_id> | subscriptions")
		return
	}

	switch fields[0] {
	case "subscriptions":
		entries, err := r.hub.Subscriptions(ctx)
		if err != nil {
			r.reply(channelID, fmt.Sprintf("failed to list subscriptions: %v", err))
			return
		}
		if len(entries) == 0 {
			r.reply(channelID, "no subscriptions, receiving all events")
			return
		}
		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, fmt.Sprintf("%s %s", e.TopicType, e.TopicID))
		}
		r.reply(channelID, "subscriptions:\n"+strings.Join(lines, "\n"))

	case "subscribe", "unsubscribe":
		if len(fields) != 3 {
			r.reply(channelID, fmt.Sprintf("usage: mc-bridge %s <topic_type> <topic_id>", fields[0]))
			return
		}
		if err := r.updateSubscriptions(ctx, fields[0], fields[1], fields[2]); err != nil {
			r.reply(channelID, fmt.Sprintf("failed to %s: %v", fields[0], err))
			return
		}
		r.reply(channelID, fmt.Sprintf("%sd %s %s", fields[0], fields[1], fields[2]))

	default:
		r.reply(channelID, fmt.Sprintf("unknown command %q", fields[0]))
	}
}

func (r *Router) updateSubscriptions(ctx context.Context, verb, topicType, topicID string) error {
	entries, err := r.hub.Subscriptions(ctx)
	if err != nil {
		return err
	}

	next := make([]SubscriptionEntry, 0, len(entries)+1)
	for _, e := range entries {
		if e.TopicType == topicType && e.TopicID == topicID {
			continue
		}
		next = append(next, e)
	}
	if verb == "subscribe" {
		next = append(next, SubscriptionEntry{TopicType: topicType, TopicID: topicID})
	}
	return r.hub.ReplaceSubscriptions(ctx, next)
}

func (r *Router) reply(channelID uuid.UUID, content string) {
	r.relay.Enqueue(channelID, content)
}

// advanceCursor persists the highest processed sequence id so the next
// connection resumes after it.
func (r *Router) advanceCursor(ctx context.Context, rawID string, bodySeq int64) {
	seq := bodySeq
	if parsed, err := strconv.ParseInt(rawID, 10, 64); err == nil && parsed > seq {
		seq = parsed
	}
	if seq <= 0 {
		return
	}
	if err := r.state.SaveCursor(ctx, r.agentID(), r.agent.OrgSlug, seq); err != nil {
		r.logger.Error("Failed to save cursor", "sequence_id", seq, "error", err)
	}
}

func (r *Router) agentID() string {
	return r.agent.SenderID.String()
}
