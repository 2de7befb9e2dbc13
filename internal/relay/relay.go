// Package relay is the meeting event relay: one long-lived push stream per
// meeting room, fanned out to every subscribed tab, with reconnect/backoff
// handled entirely inside the loop. Subscribers never see stream failures.
package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/backendapi"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/session"
)

// Sender delivers one decoded event to a subscribed tab. Delivery is
// send-and-forget; a tab that fails to take an event does not affect the
// others.
type Sender interface {
	SendEvent(ev backendapi.ReactionEvent)
}

// StreamOpener opens the per-meeting push stream. Injected so the read loop
// is testable without a backend.
type StreamOpener func(ctx context.Context, token, meetingID string) (io.ReadCloser, error)

// Poster forwards reaction add/removes to the backend as point requests.
type Poster interface {
	PostReaction(ctx context.Context, token, meetingID string, body backendapi.ReactionBody) error
	DeleteReaction(ctx context.Context, token, meetingID string, body backendapi.ReactionBody) error
}

// SessionSource yields the current session snapshot.
type SessionSource interface {
	Get() session.Session
}

const (
	retryBase       = 750 * time.Millisecond
	maxRetryDelay   = 30 * time.Second
	maxRetryAttempt = 8
)

// stream is the per-meeting state: the subscribed tabs, the cancellation
// handle for the read loop, and the reconnect bookkeeping. At most one
// exists per meeting id, and never with an empty tab set.
type stream struct {
	meetingID string
	tabs      map[uuid.UUID]Sender

	ctx    context.Context
	cancel context.CancelFunc

	// looping guards the whole connection loop (including backoff waits),
	// running is true only while a push connection is being read.
	looping          bool
	running          bool
	reconnectAttempt int
}

type Relay struct {
	logger   *slog.Logger
	sessions SessionSource
	open     StreamOpener
	poster   Poster

	// shrunk by tests to keep reconnect scenarios fast
	retryBase     time.Duration
	maxRetryDelay time.Duration

	mu      sync.Mutex
	streams map[string]*stream
}

func New(logger *slog.Logger, sessions SessionSource, open StreamOpener, poster Poster) *Relay {
	return &Relay{
		logger:        logger.With(slog.String("component", "meeting_relay")),
		sessions:      sessions,
		open:          open,
		poster:        poster,
		retryBase:     retryBase,
		maxRetryDelay: maxRetryDelay,
		streams:       make(map[string]*stream),
	}
}

// Subscribe adds a tab to a meeting's stream, creating the stream and
// starting its connection loop on the first subscriber. Adding the same tab
// twice is idempotent. A stream whose loop exited for lack of a session
// token is re-triggered here, so a subscribe after a login always gets a
// connection attempt even if the change notification was missed. The caller
// is not blocked on connection establishment.
func (r *Relay) Subscribe(meetingID string, tabID uuid.UUID, sender Sender) {
	r.mu.Lock()
	if st, ok := r.streams[meetingID]; ok {
		st.tabs[tabID] = sender
		restart := !st.looping
		r.mu.Unlock()
		r.logger.Debug("Tab joined existing meeting stream",
			slog.String("meetingId", meetingID),
			slog.String("tabID", tabID.String()),
		)
		if restart {
			// run's own guard makes a spurious restart harmless
			go r.run(st)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &stream{
		meetingID: meetingID,
		tabs:      map[uuid.UUID]Sender{tabID: sender},
		ctx:       ctx,
		cancel:    cancel,
	}
	r.streams[meetingID] = st
	r.mu.Unlock()

	r.logger.Info("Created meeting stream", slog.String("meetingId", meetingID))
	go r.run(st)
}

// Unsubscribe removes a tab; the last tab leaving tears the stream down.
// Unknown meeting ids are a no-op.
func (r *Relay) Unsubscribe(meetingID string, tabID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[meetingID]
	if !ok {
		return
	}
	delete(st.tabs, tabID)
	r.teardownIfEmptyLocked(st)
}

// TabClosed removes a tab from every meeting it was subscribed to. This is
// how the relay survives tab crashes that never sent an unsubscribe.
func (r *Relay) TabClosed(tabID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.streams {
		if _, ok := st.tabs[tabID]; !ok {
			continue
		}
		delete(st.tabs, tabID)
		r.teardownIfEmptyLocked(st)
	}
}

func (r *Relay) teardownIfEmptyLocked(st *stream) {
	if len(st.tabs) > 0 {
		return
	}
	st.cancel()
	delete(r.streams, st.meetingID)
	r.logger.Info("Removed empty meeting stream", slog.String("meetingId", st.meetingID))
}

// Post forwards a reaction add. The event reaches this tab and all others
// only by echoing back on the push stream.
func (r *Relay) Post(ctx context.Context, meetingID string, body backendapi.ReactionBody) error {
	sess := r.sessions.Get()
	if sess.Token == "" {
		return session.ErrNotAuthenticated
	}
	return r.poster.PostReaction(ctx, sess.Token, meetingID, body)
}

// Delete forwards a reaction removal.
func (r *Relay) Delete(ctx context.Context, meetingID string, body backendapi.ReactionBody) error {
	sess := r.sessions.Get()
	if sess.Token == "" {
		return session.ErrNotAuthenticated
	}
	return r.poster.DeleteReaction(ctx, sess.Token, meetingID, body)
}

// SessionChanged is the session store's change hook. A loop that exited
// because no token was stored gets re-triggered here once a login lands.
func (r *Relay) SessionChanged(sess session.Session) {
	if sess.Token == "" {
		return
	}
	r.mu.Lock()
	var idle []*stream
	for _, st := range r.streams {
		if !st.looping {
			idle = append(idle, st)
		}
	}
	r.mu.Unlock()

	for _, st := range idle {
		go r.run(st)
	}
}

// StreamCount reports how many meeting streams are live.
func (r *Relay) StreamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// TabCount reports how many tabs are subscribed to a meeting.
func (r *Relay) TabCount(meetingID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[meetingID]
	if !ok {
		return 0
	}
	return len(st.tabs)
}
