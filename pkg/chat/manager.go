package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openclaw/mission-control/pkg/events"
	"github.com/openclaw/mission-control/pkg/fabric"
	"github.com/openclaw/mission-control/pkg/models"
	"github.com/openclaw/mission-control/pkg/services"
)

const (
	writeTimeout = 10 * time.Second

	// revocationCheckEvery is the number of inbound frames between
	// credential revocation checks.
	revocationCheckEvery = 10
)

// MessageStore persists chat messages.
type MessageStore interface {
	Create(ctx context.Context, m models.Message) (*models.MessageView, error)
}

// ChannelAccess enforces channel visibility rules.
type ChannelAccess interface {
	VerifyAccess(ctx context.Context, p models.Principal, channelID uuid.UUID) (*models.Channel, error)
}

// EventSink is the broadcast path for events raised by chat activity.
type EventSink interface {
	Broadcast(ctx context.Context, ev models.Event) (*models.Event, error)
}

// ChatFabric fans chat frames out across instances.
type ChatFabric interface {
	PublishChat(ctx context.Context, orgID uuid.UUID, payload []byte) error
	SubscribeChat(ctx context.Context, orgID uuid.UUID) *redis.PubSub
}

// Registry is the connection registry surface the manager needs.
type Registry interface {
	Acquire(ctx context.Context, kind string, orgID uuid.UUID) error
	Release(ctx context.Context, kind string, orgID uuid.UUID) error
	AddMember(ctx context.Context, orgID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// Conn is one client connection. The api layer adapts *websocket.Conn to
// this surface.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// connection tracks one client's channel subscriptions.
type connection struct {
	conn      Conn
	principal models.Principal

	mu       sync.Mutex
	channels map[uuid.UUID]struct{}
}

// wants reports whether a frame for channelID should reach this
// connection. An empty subscription set is the legacy receive-all mode.
func (c *connection) wants(channelID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return true
	}
	_, ok := c.channels[channelID]
	return ok
}

// orgGroup is the set of local connections for one org, plus the fabric
// subscriber feeding them.
type orgGroup struct {
	conns  map[*connection]struct{}
	cancel context.CancelFunc
}

// Manager multiplexes chat over WebSocket connections. Frames published to
// an org's fabric channel reach every instance; each instance delivers to
// its local connections subscribed to the frame's channel. Senders receive
// their own message frames back, tagged with their client id.
type Manager struct {
	messages MessageStore
	channels ChannelAccess
	sink     EventSink
	fabricCh ChatFabric
	registry Registry
	logger   *slog.Logger

	mu   sync.RWMutex
	orgs map[uuid.UUID]*orgGroup
}

// NewManager creates a chat manager.
func NewManager(messages MessageStore, channels ChannelAccess, sink EventSink, fabricCh ChatFabric, registry Registry, logger *slog.Logger) *Manager {
	return &Manager{
		messages: messages,
		channels: channels,
		sink:     sink,
		fabricCh: fabricCh,
		registry: registry,
		logger:   logger,
		orgs:     map[uuid.UUID]*orgGroup{},
	}
}

// HandleConnection runs one client connection until it drops, ctx is
// cancelled, or the credential is revoked. The caller has already
// authenticated the principal.
func (m *Manager) HandleConnection(ctx context.Context, conn Conn, p models.Principal) error {
	if err := m.registry.Acquire(ctx, fabric.StreamWS, p.OrgID); err != nil {
		if errors.Is(err, fabric.ErrConnectionLimit) {
			_ = conn.Close(CloseConnectionLimit, ReasonConnectionLimit)
			return nil
		}
		return err
	}

	c := &connection{
		conn:      conn,
		principal: p,
		channels:  map[uuid.UUID]struct{}{},
	}
	m.register(c)

	if err := m.registry.AddMember(ctx, p.OrgID, p.UserID); err != nil {
		m.logger.Warn("Failed to add roster member", "org_id", p.OrgID, "error", err)
	}

	defer func() {
		m.deregister(c)
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.registry.Release(cleanupCtx, fabric.StreamWS, p.OrgID); err != nil {
			m.logger.Warn("Failed to release chat slot", "org_id", p.OrgID, "error", err)
		}
		if err := m.registry.RemoveMember(cleanupCtx, p.OrgID, p.UserID); err != nil {
			m.logger.Warn("Failed to remove roster member", "org_id", p.OrgID, "error", err)
		}
	}()

	hello, _ := json.Marshal(map[string]string{
		"user_id":      p.UserID.String(),
		"org_id":       p.OrgID.String(),
		"display_name": p.DisplayName,
	})
	m.send(ctx, c, ServerFrame{Type: FrameEstablished, Data: hello})

	m.logger.Info("Chat connection established",
		"org_id", p.OrgID, "user_id", p.UserID, "kind", p.Kind)

	frames := 0
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return err
		}

		m.handleFrame(ctx, c, data)

		frames++
		if frames%revocationCheckEvery == 0 {
			revoked, err := m.registry.IsRevoked(ctx, p.CredentialID)
			if err != nil {
				m.logger.Warn("Revocation check failed", "error", err)
				continue
			}
			if revoked {
				_ = conn.Close(CloseAuthFailed, ReasonCredentialRevoked)
				return nil
			}
		}
	}
}

func (m *Manager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.orgs[c.principal.OrgID]
	if !ok {
		subCtx, cancel := context.WithCancel(context.Background())
		group = &orgGroup{conns: map[*connection]struct{}{}, cancel: cancel}
		m.orgs[c.principal.OrgID] = group
		go m.runOrgSubscriber(subCtx, c.principal.OrgID)
	}
	group.conns[c] = struct{}{}
}

func (m *Manager) deregister(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.orgs[c.principal.OrgID]
	if !ok {
		return
	}
	delete(group.conns, c)
	if len(group.conns) == 0 {
		group.cancel()
		delete(m.orgs, c.principal.OrgID)
	}
}

// runOrgSubscriber feeds fabric chat frames to the org's local
// connections. One subscriber per org per instance, alive while the org
// has local connections.
func (m *Manager) runOrgSubscriber(ctx context.Context, orgID uuid.UUID) {
	sub := m.fabricCh.SubscribeChat(ctx, orgID)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				m.logger.Warn("Dropping malformed chat envelope", "org_id", orgID, "error", err)
				continue
			}
			m.deliverLocal(ctx, orgID, env)
		}
	}
}

func (m *Manager) deliverLocal(ctx context.Context, orgID uuid.UUID, env envelope) {
	var head struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(env.Frame, &head); err != nil {
		m.logger.Warn("Dropping malformed chat frame", "org_id", orgID, "error", err)
		return
	}

	if head.Type == FrameSessionRevoked {
		m.closeRevoked(orgID, head.Data)
		return
	}

	for _, c := range m.localConns(orgID) {
		// Frames without a channel (presence, etc.) go to everyone.
		if env.ChannelID != uuid.Nil && !c.wants(env.ChannelID) {
			continue
		}
		if err := m.sendRaw(ctx, c, env.Frame); err != nil {
			_ = c.conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

func (m *Manager) localConns(orgID uuid.UUID) []*connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.orgs[orgID]
	if !ok {
		return nil
	}
	conns := make([]*connection, 0, len(group.conns))
	for c := range group.conns {
		conns = append(conns, c)
	}
	return conns
}

// closeRevoked closes every local connection whose credential matches a
// revocation control frame.
func (m *Manager) closeRevoked(orgID uuid.UUID, data json.RawMessage) {
	var body struct {
		CredentialID string `json:"credential_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.CredentialID == "" {
		return
	}
	for _, c := range m.localConns(orgID) {
		if c.principal.CredentialID == body.CredentialID {
			m.logger.Info("Closing connection on credential revocation",
				"org_id", orgID, "user_id", c.principal.UserID)
			_ = c.conn.Close(CloseAuthFailed, ReasonCredentialRevoked)
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, c *connection, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.send(ctx, c, errorFrame("invalid_frame", "frame is not valid JSON"))
		return
	}

	switch frame.Type {
	case FramePing:
		m.send(ctx, c, ServerFrame{Type: FramePong})

	case FrameSubscribe:
		m.handleSubscribe(ctx, c, frame)

	case FrameUnsubscribe:
		m.handleUnsubscribe(ctx, c, frame)

	case FrameMessage:
		m.handleMessage(ctx, c, frame)

	case FrameTyping, FrameTypingStopped:
		m.handleTyping(ctx, c, frame)

	default:
		m.send(ctx, c, errorFrame("unknown_type", "unrecognized frame type"))
	}
}

// handleSubscribe validates each requested channel and adds the valid
// ones to the connection's subscription set. The reply carries the
// accepted set; ids that fail validation or access checks are left out.
func (m *Manager) handleSubscribe(ctx context.Context, c *connection, frame ClientFrame) {
	requested := frame.ChannelIDs
	if len(requested) == 0 && frame.ChannelID != "" {
		requested = []string{frame.ChannelID}
	}
	if len(requested) == 0 {
		m.send(ctx, c, errorFrame("invalid_channel", "subscribe requires channel_ids"))
		return
	}

	accepted := make([]string, 0, len(requested))
	var denied error
	for _, raw := range requested {
		channelID, err := uuid.Parse(raw)
		if err != nil {
			m.send(ctx, c, errorFrame("invalid_channel", "channel_id is not a valid id"))
			continue
		}
		if _, err := m.channels.VerifyAccess(ctx, c.principal, channelID); err != nil {
			denied = err
			continue
		}
		c.mu.Lock()
		c.channels[channelID] = struct{}{}
		c.mu.Unlock()
		accepted = append(accepted, channelID.String())
	}

	if len(accepted) == 0 && denied != nil {
		m.send(ctx, c, accessErrorFrame(denied))
		return
	}
	m.send(ctx, c, ServerFrame{Type: FrameSubscribed, ChannelIDs: accepted})
}

func (m *Manager) handleUnsubscribe(ctx context.Context, c *connection, frame ClientFrame) {
	channelID, err := uuid.Parse(frame.ChannelID)
	if err != nil {
		m.send(ctx, c, errorFrame("invalid_channel", "channel_id is not a valid id"))
		return
	}

	c.mu.Lock()
	delete(c.channels, channelID)
	c.mu.Unlock()

	m.send(ctx, c, ServerFrame{Type: FrameUnsubscribed, ChannelID: frame.ChannelID})
}

func (m *Manager) handleMessage(ctx context.Context, c *connection, frame ClientFrame) {
	channelID, err := uuid.Parse(frame.ChannelID)
	if err != nil {
		m.send(ctx, c, errorFrame("invalid_channel", "channel_id is not a valid id"))
		return
	}

	var mentions []uuid.UUID
	for _, raw := range frame.Mentions {
		if id, err := uuid.Parse(raw); err == nil {
			mentions = append(mentions, id)
		}
	}

	if _, err := m.PostMessage(ctx, c.principal, channelID, frame.Content, frame.ClientID, mentions); err != nil {
		if services.IsValidationError(err) {
			m.send(ctx, c, errorFrame("invalid_message", err.Error()))
			return
		}
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrAccessDenied) {
			m.send(ctx, c, accessErrorFrame(err))
			return
		}
		m.logger.Error("Failed to persist chat message",
			"org_id", c.principal.OrgID, "channel_id", channelID, "error", err)
		m.send(ctx, c, errorFrame("internal_error", "failed to store message"))
	}
}

// PostMessage validates, persists and fans out one message. It is the
// single write path for chat, shared by the WebSocket read loop and the
// REST endpoint. clientID is echoed back on the resulting frame so the
// sender can reconcile an optimistic send; pass empty for REST posts.
// mentions supplied by the client are unioned with the ids parsed out of
// content.
func (m *Manager) PostMessage(ctx context.Context, p models.Principal, channelID uuid.UUID, content, clientID string, mentions []uuid.UUID) (*models.MessageView, error) {
	channel, err := m.channels.VerifyAccess(ctx, p, channelID)
	if err != nil {
		return nil, err
	}

	view, err := m.messages.Create(ctx, models.Message{
		OrgID:     p.OrgID,
		ChannelID: channelID,
		SenderID:  p.UserID,
		Content:   content,
		Mentions:  unionMentions(ParseMentions(content), mentions),
	})
	if err != nil {
		return nil, err
	}

	m.raiseMessageEvents(ctx, p, channel, view)

	payload, err := json.Marshal(view)
	if err != nil {
		m.logger.Error("Failed to encode message view", "message_id", view.ID, "error", err)
		return view, nil
	}
	m.publishFrame(ctx, p.OrgID, channelID, ServerFrame{
		Type:      FrameMessage,
		ChannelID: channelID.String(),
		ClientID:  clientID,
		Data:      payload,
	})
	return view, nil
}

// raiseMessageEvents emits the events a stored message produces: always
// message.created, one mention.created per mentioned user, and
// command.invoked for slash commands.
func (m *Manager) raiseMessageEvents(ctx context.Context, p models.Principal, channel *models.Channel, view *models.MessageView) {
	base := map[string]any{
		"message_id":  view.ID.String(),
		"channel_id":  view.ChannelID.String(),
		"sender_id":   view.SenderID.String(),
		"sender_name": view.SenderDisplayName,
		"content":     view.Content,
	}
	if channel.ProjectID != nil {
		base["project_id"] = channel.ProjectID.String()
	}

	m.raise(ctx, p, events.TypeMessageCreated, base)

	for _, userID := range view.Mentions {
		// Mentioning yourself produces no notification.
		if userID == view.SenderID {
			continue
		}
		payload := map[string]any{
			"message_id":        view.ID.String(),
			"channel_id":        view.ChannelID.String(),
			"sender_id":         view.SenderID.String(),
			"mentioned_user_id": userID.String(),
		}
		if channel.ProjectID != nil {
			payload["project_id"] = channel.ProjectID.String()
		}
		m.raise(ctx, p, events.TypeMentionCreated, payload)
	}

	if command, args, ok := ParseCommand(view.Content); ok {
		payload := map[string]any{
			"message_id": view.ID.String(),
			"channel_id": view.ChannelID.String(),
			"sender_id":  view.SenderID.String(),
			"command":    command,
			"args":       args,
		}
		if channel.ProjectID != nil {
			payload["project_id"] = channel.ProjectID.String()
		}
		m.raise(ctx, p, events.TypeCommandInvoked, payload)
	}
}

func (m *Manager) raise(ctx context.Context, p models.Principal, eventType string, payload map[string]any) {
	actorID := p.UserID
	_, err := m.sink.Broadcast(ctx, models.Event{
		OrgID:     p.OrgID,
		Type:      eventType,
		ActorID:   &actorID,
		ActorKind: p.Kind,
		Payload:   payload,
	})
	if err != nil {
		m.logger.Error("Failed to broadcast chat event",
			"event_type", eventType, "org_id", p.OrgID, "error", err)
	}
}

func (m *Manager) handleTyping(ctx context.Context, c *connection, frame ClientFrame) {
	channelID, err := uuid.Parse(frame.ChannelID)
	if err != nil {
		m.send(ctx, c, errorFrame("invalid_channel", "channel_id is not a valid id"))
		return
	}
	if !c.wants(channelID) {
		return
	}

	p := c.principal
	data, _ := json.Marshal(map[string]string{
		"user_id":      p.UserID.String(),
		"display_name": p.DisplayName,
	})
	m.publishFrame(ctx, p.OrgID, channelID, ServerFrame{
		Type:      frame.Type,
		ChannelID: frame.ChannelID,
		Data:      data,
	})
}

func (m *Manager) publishFrame(ctx context.Context, orgID, channelID uuid.UUID, frame ServerFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error("Failed to encode chat frame", "error", err)
		return
	}
	payload, err := json.Marshal(envelope{ChannelID: channelID, Frame: raw})
	if err != nil {
		m.logger.Error("Failed to encode chat envelope", "error", err)
		return
	}
	if err := m.fabricCh.PublishChat(ctx, orgID, payload); err != nil {
		m.logger.Warn("Failed to publish chat frame", "org_id", orgID, "error", err)
	}
}

func (m *Manager) send(ctx context.Context, c *connection, frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error("Failed to encode server frame", "error", err)
		return
	}
	m.sendRaw(ctx, c, data)
}

func (m *Manager) sendRaw(ctx context.Context, c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, data); err != nil {
		m.logger.Warn("Failed to write chat frame",
			"org_id", c.principal.OrgID, "user_id", c.principal.UserID, "error", err)
		return err
	}
	return nil
}

func accessErrorFrame(err error) ServerFrame {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return errorFrame("channel_not_found", "channel does not exist")
	case errors.Is(err, services.ErrAccessDenied):
		return errorFrame("access_denied", "no access to this channel")
	default:
		return errorFrame("internal_error", "failed to verify channel access")
	}
}
