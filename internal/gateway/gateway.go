package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/events"
	"potluck-chat/internal/metrics"
	"potluck-chat/internal/realtime"
	"potluck-chat/internal/repository"
	"potluck-chat/internal/services"
	potluck_errors "potluck-chat/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Session is a live connection the gateway drives.
type Session interface {
	realtime.Conn
	SetViewing(conversationID int64)
}

// MessageService is the persistence side of the message operations.
type MessageService interface {
	Send(ctx context.Context, senderID int64, in services.SendInput) (message.Message, error)
	ToggleReaction(ctx context.Context, userID, conversationID, messageID int64, emoji string) (services.ReactionResult, error)
	MarkSeen(ctx context.Context, userID, conversationID int64) (services.SeenResult, error)
	Delete(ctx context.Context, userID, conversationID, messageID int64) (message.Message, error)
}

// MessageLimiter caps how many messages a user may send.
type MessageLimiter interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

// EventQueue accepts domain events for asynchronous delivery.
type EventQueue interface {
	Enqueue(env events.Envelope) bool
}

type Options struct {
	Hub         *realtime.Hub
	Broadcaster realtime.Broadcaster
	Presence    realtime.PresenceTracker
	Typing      realtime.TypingCoordinator
	Members     repository.MembershipStore
	Messages    MessageService

	Limiter MessageLimiter
	Events  EventQueue
	Metrics *metrics.Metrics
	Log     *zap.Logger

	// CoalesceWindow collapses conversation_update bursts per conversation.
	CoalesceWindow time.Duration
	// EphemeralRate and EphemeralBurst bound typing, view and ping events per connection.
	EphemeralRate  float64
	EphemeralBurst int
}

// Gateway is the real-time protocol handler. It is safe for concurrent use by many
// connections; each connection must feed it frames sequentially.
type Gateway struct {
	hub         *realtime.Hub
	broadcaster realtime.Broadcaster
	presence    realtime.PresenceTracker
	typing      realtime.TypingCoordinator
	members     repository.MembershipStore
	messages    MessageService
	limiter     MessageLimiter
	events      EventQueue
	metrics     *metrics.Metrics
	log         *zap.Logger

	updates *realtime.Coalescer[int64]
	routes  map[string]route

	ephemeralRate  rate.Limit
	ephemeralBurst int
	limitersMu     sync.Mutex
	limiters       map[string]*rate.Limiter
}

func New(opts Options) *Gateway {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = realtime.NewHub(opts.Log)
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = opts.Hub
	}
	if opts.Presence == nil {
		opts.Presence = realtime.NewMemoryPresence()
	}
	if opts.Typing == nil {
		opts.Typing = realtime.NewMemoryTyping(realtime.DefaultTypingTTL)
	}
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = 100 * time.Millisecond
	}
	if opts.EphemeralRate <= 0 {
		opts.EphemeralRate = 10
	}
	if opts.EphemeralBurst <= 0 {
		opts.EphemeralBurst = 20
	}

	g := &Gateway{
		hub:            opts.Hub,
		broadcaster:    opts.Broadcaster,
		presence:       opts.Presence,
		typing:         opts.Typing,
		members:        opts.Members,
		messages:       opts.Messages,
		limiter:        opts.Limiter,
		events:         opts.Events,
		metrics:        opts.Metrics,
		log:            opts.Log.Named("gateway"),
		ephemeralRate:  rate.Limit(opts.EphemeralRate),
		ephemeralBurst: opts.EphemeralBurst,
		limiters:       make(map[string]*rate.Limiter),
	}
	g.updates = realtime.NewCoalescer(opts.CoalesceWindow, g.flushConversationUpdate)
	g.registerRoutes()
	g.typing.OnExpire(g.typingExpired)
	return g
}

// Hub returns the local session registry.
func (g *Gateway) Hub() *realtime.Hub {
	return g.hub
}

// Close cancels pending coalesced updates.
func (g *Gateway) Close() {
	g.updates.Stop()
}

// Connect registers an authenticated session, joins it to its conversation rooms and
// announces the user when this is their first live connection.
func (g *Gateway) Connect(ctx context.Context, s Session) error {
	userID := s.UserID()
	convIDs, err := g.members.ConversationIDs(ctx, userID)
	if err != nil {
		return err
	}

	g.hub.Register(s)
	for _, id := range convIDs {
		g.hub.Join(s, realtime.ConversationRoom(id))
	}

	g.limitersMu.Lock()
	g.limiters[s.ID()] = rate.NewLimiter(g.ephemeralRate, g.ephemeralBurst)
	g.limitersMu.Unlock()
	g.metrics.ConnectionOpened()

	first, err := g.presence.Connect(ctx, userID)
	if err != nil {
		g.log.Warn("presence connect failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil
	}
	if first {
		g.metrics.UserOnline()
		g.announcePresence(ctx, userID, convIDs, EventUserOnline)
		g.emitEvent(events.EventTypePresenceOnline, events.AggregateTypePresence, userID, PresenceEvent{UserID: userID})
	}
	return nil
}

// Disconnect drops the session. The offline announcement fires only when the user's last
// connection goes away.
func (g *Gateway) Disconnect(ctx context.Context, s Session) {
	rooms := g.hub.Rooms(s)
	if !g.hub.Unregister(s) {
		return
	}

	g.limitersMu.Lock()
	delete(g.limiters, s.ID())
	g.limitersMu.Unlock()
	g.metrics.ConnectionClosed()

	userID := s.UserID()
	last, err := g.presence.Disconnect(ctx, userID)
	if err != nil {
		g.log.Warn("presence disconnect failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if !last {
		return
	}

	var convIDs []int64
	for _, room := range rooms {
		if id, ok := realtime.ParseConversationRoom(room); ok {
			convIDs = append(convIDs, id)
		}
	}
	for _, id := range convIDs {
		g.stopTyping(ctx, id, userID)
	}

	g.metrics.UserOffline()
	g.announcePresence(ctx, userID, convIDs, EventUserOffline)
	g.emitEvent(events.EventTypePresenceOffline, events.AggregateTypePresence, userID, PresenceEvent{UserID: userID})
}

// Handle processes one inbound frame from s. Failures are answered to s only.
func (g *Gateway) Handle(ctx context.Context, s Session, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		g.replyError(s, "", "", potluck_errors.ErrInvalidInput)
		return
	}
	g.metrics.Inbound(in.Event)

	if isEphemeral(in.Event) && !g.allowEphemeral(s) {
		g.log.Debug("ephemeral event throttled",
			zap.String("event", in.Event),
			zap.Int64("user_id", s.UserID()),
			zap.String("client_id", s.ID()))
		if in.Ack != "" {
			g.replyError(s, in.Event, in.Ack, potluck_errors.ErrRateLimited)
		}
		return
	}

	data, err := g.dispatch(ctx, s, in)
	switch {
	case in.Event == EventTyping && err != nil:
		g.log.Debug("typing relay failed", zap.Int64("user_id", s.UserID()), zap.Error(err))
		if in.Ack != "" {
			g.replyError(s, in.Event, in.Ack, err)
		}
	case err != nil:
		g.replyError(s, in.Event, in.Ack, err)
	case in.Ack != "":
		if data == nil {
			data = struct{}{}
		}
		payload, err := encodeAck(in.Ack, data)
		g.sendFrame(s, payload, err)
	}
}

// route handles one inbound event. Handlers are registered by event name, like a
// command bus.
type route func(ctx context.Context, s Session, in Inbound) (any, error)

// handle adapts a typed handler, decoding the frame data into its payload.
func handle[T any](fn func(ctx context.Context, s Session, p T) (any, error)) route {
	return func(ctx context.Context, s Session, in Inbound) (any, error) {
		var p T
		if err := decode(in.Data, &p); err != nil {
			return nil, err
		}
		return fn(ctx, s, p)
	}
}

func (g *Gateway) registerRoutes() {
	g.routes = map[string]route{
		EventSendMessage:    handle(g.sendMessage),
		EventToggleReaction: handle(g.toggleReaction),
		EventMarkAsSeen:     handle(g.markAsSeen),
		EventDeleteMessage:  handle(g.deleteMessage),
		EventTyping: handle(func(ctx context.Context, s Session, p TypingPayload) (any, error) {
			return nil, g.relayTyping(ctx, s, p)
		}),
		EventViewConversation: handle(func(ctx context.Context, s Session, p ViewPayload) (any, error) {
			return nil, g.viewConversation(ctx, s, p)
		}),
		EventGetOnlineUsers: func(ctx context.Context, s Session, in Inbound) (any, error) {
			return g.onlineUsers(ctx, s, in.Ack == "")
		},
		EventPing: func(_ context.Context, s Session, _ Inbound) (any, error) {
			g.send(s, EventPong, struct{}{})
			return nil, nil
		},
	}
}

func (g *Gateway) dispatch(ctx context.Context, s Session, in Inbound) (any, error) {
	r, ok := g.routes[in.Event]
	if !ok {
		return nil, potluck_errors.ErrUnknownEvent
	}
	return r(ctx, s, in)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return potluck_errors.ErrInvalidInput
	}
	return nil
}

func isEphemeral(event string) bool {
	switch event {
	case EventTyping, EventViewConversation, EventPing:
		return true
	}
	return false
}

func (g *Gateway) allowEphemeral(s Session) bool {
	g.limitersMu.Lock()
	l, ok := g.limiters[s.ID()]
	g.limitersMu.Unlock()
	return !ok || l.Allow()
}

// publish fans a frame out to a room and records the broadcast.
func (g *Gateway) publish(ctx context.Context, env realtime.Envelope, event string, data any) {
	payload, err := Encode(event, data)
	if err != nil {
		g.log.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	env.Payload = payload
	if err := g.broadcaster.Publish(ctx, env); err != nil {
		g.log.Warn("broadcast failed", zap.String("event", event), zap.String("room", env.Room), zap.Error(err))
		return
	}
	g.metrics.Broadcast(event)
}

func (g *Gateway) send(s Session, event string, data any) {
	payload, err := Encode(event, data)
	g.sendFrame(s, payload, err)
}

func (g *Gateway) sendFrame(s Session, payload []byte, err error) {
	if err != nil {
		g.log.Error("encode reply", zap.Error(err))
		return
	}
	if !s.Send(payload) {
		g.log.Warn("reply dropped", zap.String("client_id", s.ID()), zap.Int64("user_id", s.UserID()))
	}
}

func (g *Gateway) replyError(s Session, event, ack string, err error) {
	code := potluck_errors.Code(err)
	g.metrics.ErrorReply(code)

	data := ErrorData{Event: event, Error: publicMessage(err, code), Code: code}
	if ack != "" {
		payload, encErr := encodeAck(ack, data)
		g.sendFrame(s, payload, encErr)
	} else {
		g.send(s, EventError, data)
	}

	if code == potluck_errors.CodeInternal || code == potluck_errors.CodeStoreUnavailable {
		g.log.Error("event failed",
			zap.String("event", event),
			zap.Int64("user_id", s.UserID()),
			zap.String("client_id", s.ID()),
			zap.Error(err))
	}
}

// publicMessage hides store and internal details from callers.
func publicMessage(err error, code string) string {
	switch code {
	case potluck_errors.CodeStoreUnavailable:
		return potluck_errors.ErrStoreUnavailable.Error()
	case potluck_errors.CodeInternal:
		return "internal error"
	}
	return err.Error()
}

func (g *Gateway) emitEvent(eventType, aggregateType string, aggregateID int64, payload any) {
	if g.events == nil {
		return
	}
	env, err := events.NewEnvelope(eventType, aggregateType, aggregateID, payload)
	if err != nil {
		g.log.Error("encode domain event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if !g.events.Enqueue(env) {
		g.log.Warn("domain event dropped", zap.String("event_type", eventType))
	}
}
