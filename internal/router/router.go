// Package router receives typed messages from UI surfaces and dispatches
// them to the session store, the backend facade and the meeting relay. It
// keeps no state of its own.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/backendapi"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/emoji"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/relay"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/session"
)

// Tab is one connected UI surface the router can reply to.
type Tab interface {
	Send(msg []byte)
}

// TabRegistry resolves a tab id to its live connection. A request whose tab
// is gone degrades to a no-op.
type TabRegistry interface {
	Find(tabID uuid.UUID) (Tab, bool)
}

// Authorizer runs the interactive OAuth flow.
type Authorizer interface {
	Authorize(ctx context.Context) (code, redirectURI string, err error)
}

// Backend is the slice of the facade the router drives directly.
type Backend interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (string, error)
	CurrentUser(ctx context.Context, token string) (*backendapi.UserProfile, error)
	UpdateProfile(ctx context.Context, token, name string) (*backendapi.UserProfile, error)
	Emojis(ctx context.Context, token string) ([]emoji.Emoji, error)
}

// WorkspaceLister lists workspace emoji directly with a bot token,
// bypassing the backend proxy.
type WorkspaceLister interface {
	List(ctx context.Context, botToken string) ([]emoji.Emoji, error)
}

type Router struct {
	logger   *slog.Logger
	sessions *session.Store
	auth     Authorizer
	api      Backend
	relay    *relay.Relay
	tabs     TabRegistry

	// optional direct-listing path for setups with a pre-provisioned bot
	// token and no backend session
	workspace WorkspaceLister
	botToken  string
}

func New(logger *slog.Logger, sessions *session.Store, auth Authorizer, api Backend, rl *relay.Relay, tabs TabRegistry) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "message_router")),
		sessions: sessions,
		auth:     auth,
		api:      api,
		relay:    rl,
		tabs:     tabs,
	}
}

// SetWorkspaceFallback enables direct emoji listing with a bot token for
// tabs that ask for emoji before a backend session exists.
func (r *Router) SetWorkspaceFallback(ws WorkspaceLister, botToken string) {
	r.workspace = ws
	r.botToken = botToken
}

// HandleMessage is the transport's message callback. Responses are always
// produced asynchronously so a slow handler (the interactive login above
// all) never blocks the tab's read pump.
func (r *Router) HandleMessage(ctx context.Context, tabID uuid.UUID, msg []byte) {
	var req Message
	if err := json.Unmarshal(msg, &req); err != nil {
		r.logger.Warn("Failed to unmarshal tab message", slog.String("tabID", tabID.String()), slog.Any("error", err))
		return
	}

	var tab Tab
	if found, ok := r.tabs.Find(tabID); ok {
		tab = found
	}

	switch req.Type {
	case TypeLogin:
		go r.handleLogin(ctx, tab)
	case TypeLogout:
		go r.handleLogout(tab)
	case TypeGetAuthState:
		go r.respond(tab, TypeAuthState, r.sessions.Get())
	case TypeGetEmojis:
		go r.handleGetEmojis(ctx, tab)
	case TypeUpdateProfile:
		go r.handleUpdateProfile(ctx, tab, req.Payload)
	case TypeSubscribe:
		go r.handleSubscribe(tab, tabID, req.Payload)
	case TypeUnsubscribe:
		go r.handleUnsubscribe(tab, tabID, req.Payload)
	case TypeReactionPost:
		go r.handleReaction(ctx, tab, req.Payload, backendapi.ActionAdd)
	case TypeReactionDelete:
		go r.handleReaction(ctx, tab, req.Payload, backendapi.ActionRemove)
	default:
		r.logger.Warn("Ignoring unrecognized message type", slog.String("type", req.Type))
	}
}

func (r *Router) handleLogin(ctx context.Context, tab Tab) {
	code, redirectURI, err := r.auth.Authorize(ctx)
	if err != nil {
		r.logger.Warn("Authorization failed", slog.Any("error", err))
		r.respond(tab, TypeAuthError, err.Error())
		return
	}

	token, err := r.api.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		r.respond(tab, TypeAuthError, err.Error())
		return
	}

	user, err := r.api.CurrentUser(ctx, token)
	if err != nil {
		r.respond(tab, TypeAuthError, err.Error())
		return
	}

	if err := r.sessions.Set(token, user); err != nil {
		r.respond(tab, TypeAuthError, err.Error())
		return
	}

	r.logger.Info("Login completed", slog.String("userId", user.ID))
	r.respond(tab, TypeAuthSuccess, r.sessions.Get())
}

func (r *Router) handleLogout(tab Tab) {
	if err := r.sessions.Clear(); err != nil {
		r.respond(tab, TypeAuthError, err.Error())
		return
	}
	r.respond(tab, TypeAuthState, r.sessions.Get())
}

func (r *Router) handleGetEmojis(ctx context.Context, tab Tab) {
	sess := r.sessions.Get()
	if sess.Token == "" {
		if r.workspace != nil && r.botToken != "" {
			emojis, err := r.workspace.List(ctx, r.botToken)
			if err != nil {
				r.respond(tab, TypeEmojisError, err.Error())
				return
			}
			r.respond(tab, TypeEmojisSuccess, emojis)
			return
		}
		r.respond(tab, TypeEmojisError, session.ErrNotAuthenticated.Error())
		return
	}

	emojis, err := r.api.Emojis(ctx, sess.Token)
	if err != nil {
		r.respond(tab, TypeEmojisError, err.Error())
		return
	}
	r.respond(tab, TypeEmojisSuccess, emojis)
}

func (r *Router) handleUpdateProfile(ctx context.Context, tab Tab, payload json.RawMessage) {
	var req updateProfilePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		r.respond(tab, TypeAuthError, "invalid profile payload")
		return
	}

	sess := r.sessions.Get()
	if sess.Token == "" {
		r.respond(tab, TypeAuthError, session.ErrNotAuthenticated.Error())
		return
	}

	user, err := r.api.UpdateProfile(ctx, sess.Token, req.Name)
	if err != nil {
		r.respond(tab, TypeAuthError, err.Error())
		return
	}
	if err := r.sessions.Set(sess.Token, user); err != nil {
		r.respond(tab, TypeAuthError, err.Error())
		return
	}
	r.respond(tab, TypeAuthState, r.sessions.Get())
}

// handleSubscribe registers the tab on the meeting's stream. A request with
// no identifiable source tab degrades to a pass-through that only reports
// the session snapshot.
func (r *Router) handleSubscribe(tab Tab, tabID uuid.UUID, payload json.RawMessage) {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.MeetingID == "" {
		r.respond(tab, TypeAuthState, r.sessions.Get())
		return
	}

	if tab != nil {
		r.relay.Subscribe(req.MeetingID, tabID, &eventSender{tab: tab, logger: r.logger})
	}
	r.respond(tab, TypeAuthState, r.sessions.Get())
}

func (r *Router) handleUnsubscribe(tab Tab, tabID uuid.UUID, payload json.RawMessage) {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err == nil && req.MeetingID != "" && tab != nil {
		r.relay.Unsubscribe(req.MeetingID, tabID)
	}
	r.respond(tab, TypeAuthState, r.sessions.Get())
}

func (r *Router) handleReaction(ctx context.Context, tab Tab, payload json.RawMessage, action string) {
	var req reactionPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.MeetingID == "" {
		r.respond(tab, TypeReactionError, "invalid reaction payload")
		return
	}

	body := backendapi.ReactionBody{
		MessageID: req.MessageID,
		EmojiName: req.EmojiName,
		EmojiURL:  req.EmojiURL,
	}

	var err error
	if action == backendapi.ActionRemove {
		err = r.relay.Delete(ctx, req.MeetingID, body)
	} else {
		err = r.relay.Post(ctx, req.MeetingID, body)
	}
	if err != nil {
		r.respond(tab, TypeReactionError, err.Error())
		return
	}
	// the event itself arrives back through the meeting stream
	r.respond(tab, TypeReactionAck, nil)
}

func (r *Router) respond(tab Tab, msgType string, payload any) {
	if tab == nil {
		return
	}
	msg, err := Encode(msgType, payload)
	if err != nil {
		r.logger.Error("Failed to encode response", slog.String("type", msgType), slog.Any("error", err))
		return
	}
	tab.Send(msg)
}

// eventSender adapts a tab connection to the relay's fan-out interface,
// wrapping each event in the MEETING_EVENT envelope.
type eventSender struct {
	tab    Tab
	logger *slog.Logger
}

func (s *eventSender) SendEvent(ev backendapi.ReactionEvent) {
	msg, err := Encode(TypeMeetingEvent, ev)
	if err != nil {
		s.logger.Error("Failed to encode meeting event", slog.Any("error", err))
		return
	}
	s.tab.Send(msg)
}
