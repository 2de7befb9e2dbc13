package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/backendapi"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/session"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type staticSessions struct {
	token string
}

func (s staticSessions) Get() session.Session {
	return session.Session{IsAuthenticated: s.token != "", Token: s.token}
}

type mutableSessions struct {
	mu    sync.Mutex
	token string
}

func (s *mutableSessions) Get() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Session{IsAuthenticated: s.token != "", Token: s.token}
}

func (s *mutableSessions) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

type captureSender struct {
	mu     sync.Mutex
	events []backendapi.ReactionEvent
}

func (s *captureSender) SendEvent(ev backendapi.ReactionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSender) last() backendapi.ReactionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type capturePoster struct {
	mu      sync.Mutex
	posted  []string
	deleted []string
	token   string
}

func (p *capturePoster) PostReaction(ctx context.Context, token, meetingID string, body backendapi.ReactionBody) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.posted = append(p.posted, meetingID+"/"+body.EmojiName)
	return nil
}

func (p *capturePoster) DeleteReaction(ctx context.Context, token, meetingID string, body backendapi.ReactionBody) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.deleted = append(p.deleted, meetingID+"/"+body.EmojiName)
	return nil
}

// streamHub hands out one pipe per open call so tests can feed frames into
// live connections.
type streamHub struct {
	mu      sync.Mutex
	writers map[string]*io.PipeWriter
	opens   int32
	failing int32 // open calls to fail before succeeding
}

func newStreamHub() *streamHub {
	return &streamHub{writers: make(map[string]*io.PipeWriter)}
}

func (h *streamHub) open(ctx context.Context, token, meetingID string) (io.ReadCloser, error) {
	atomic.AddInt32(&h.opens, 1)
	if atomic.LoadInt32(&h.failing) > 0 {
		atomic.AddInt32(&h.failing, -1)
		return nil, fmt.Errorf("connection refused")
	}
	pr, pw := io.Pipe()
	h.mu.Lock()
	h.writers[meetingID] = pw
	h.mu.Unlock()
	return pr, nil
}

func (h *streamHub) openCount() int {
	return int(atomic.LoadInt32(&h.opens))
}

func (h *streamHub) emit(t *testing.T, meetingID, frame string) {
	t.Helper()
	h.mu.Lock()
	pw := h.writers[meetingID]
	h.mu.Unlock()
	if pw == nil {
		t.Fatalf("no open stream for meeting %s", meetingID)
	}
	if _, err := pw.Write([]byte(frame)); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func newTestRelay(hub *streamHub, token string) *Relay {
	r := New(newTestLogger(), staticSessions{token: token}, hub.open, &capturePoster{})
	r.retryBase = time.Millisecond
	r.maxRetryDelay = 10 * time.Millisecond
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const addFrame = `data: {"action":"add","meetingId":"abc123","messageId":"m1","emojiName":"tada","emojiUrl":"https://x/tada.png","user":{"id":"u1"}}` + "\n\n"

// --- Subscription lifecycle ---

func TestSubscribeIsIdempotentPerTab(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	tab := uuid.New()
	sender := &captureSender{}

	r.Subscribe("abc123", tab, sender)
	r.Subscribe("abc123", tab, sender)

	waitFor(t, "stream to open", func() bool { return hub.openCount() >= 1 })
	time.Sleep(20 * time.Millisecond)

	if got := r.TabCount("abc123"); got != 1 {
		t.Errorf("expected 1 tab entry, got %d", got)
	}
	if got := r.StreamCount(); got != 1 {
		t.Errorf("expected 1 stream, got %d", got)
	}
	if got := hub.openCount(); got != 1 {
		t.Errorf("expected a single connection, got %d opens", got)
	}
}

func TestLastTabLeavingTearsDownStream(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	tab1, tab2 := uuid.New(), uuid.New()

	r.Subscribe("abc123", tab1, &captureSender{})
	r.Subscribe("abc123", tab2, &captureSender{})
	waitFor(t, "stream to open", func() bool { return hub.openCount() >= 1 })

	r.Unsubscribe("abc123", tab1)
	if got := r.StreamCount(); got != 1 {
		t.Fatalf("stream removed while a tab remained, count=%d", got)
	}

	r.Unsubscribe("abc123", tab2)
	if got := r.StreamCount(); got != 0 {
		t.Fatalf("expected stream teardown after last unsubscribe, count=%d", got)
	}

	// a fresh subscribe creates a fresh stream with its own connection
	r.Subscribe("abc123", tab1, &captureSender{})
	waitFor(t, "fresh stream to open", func() bool { return hub.openCount() >= 2 })
	if got := r.StreamCount(); got != 1 {
		t.Errorf("expected recreated stream, count=%d", got)
	}
}

func TestTabClosedRemovesTabEverywhere(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	tab := uuid.New()
	other := uuid.New()

	r.Subscribe("meeting-a", tab, &captureSender{})
	r.Subscribe("meeting-b", tab, &captureSender{})
	r.Subscribe("meeting-b", other, &captureSender{})
	waitFor(t, "streams to open", func() bool { return hub.openCount() >= 2 })

	r.TabClosed(tab)

	if got := r.StreamCount(); got != 1 {
		t.Errorf("expected only meeting-b to survive, count=%d", got)
	}
	if got := r.TabCount("meeting-b"); got != 1 {
		t.Errorf("expected 1 tab left in meeting-b, got %d", got)
	}
}

func TestUnsubscribeUnknownMeetingIsNoop(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	r.Unsubscribe("nope", uuid.New())
	if got := r.StreamCount(); got != 0 {
		t.Errorf("unexpected stream, count=%d", got)
	}
}

// --- Fan-out ---

func TestEventFansOutToAllMeetingTabsOnly(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	s1, s2, s3 := &captureSender{}, &captureSender{}, &captureSender{}

	r.Subscribe("abc123", uuid.New(), s1)
	r.Subscribe("abc123", uuid.New(), s2)
	r.Subscribe("other", uuid.New(), s3)
	waitFor(t, "both streams to open", func() bool { return hub.openCount() >= 2 })

	hub.emit(t, "abc123", addFrame)

	waitFor(t, "both tabs to receive the event", func() bool {
		return s1.count() == 1 && s2.count() == 1
	})
	ev := s1.last()
	if ev.Action != backendapi.ActionAdd || ev.MessageID != "m1" || ev.EmojiName != "tada" || ev.User.ID != "u1" {
		t.Errorf("unexpected event: %+v", ev)
	}

	time.Sleep(20 * time.Millisecond)
	if s3.count() != 0 {
		t.Errorf("tab on a different meeting received %d events", s3.count())
	}
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	sender := &captureSender{}

	r.Subscribe("abc123", uuid.New(), sender)
	waitFor(t, "stream to open", func() bool { return hub.openCount() >= 1 })

	hub.emit(t, "abc123", "data: {not json\n\n")
	hub.emit(t, "abc123", addFrame)

	waitFor(t, "the valid event to arrive", func() bool { return sender.count() == 1 })
	if got := sender.last().EmojiName; got != "tada" {
		t.Errorf("expected the valid frame, got %q", got)
	}
}

func TestMultiLineFramePayloadIsJoined(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	sender := &captureSender{}

	r.Subscribe("abc123", uuid.New(), sender)
	waitFor(t, "stream to open", func() bool { return hub.openCount() >= 1 })

	hub.emit(t, "abc123", "data: {\"action\":\"remove\",\"meetingId\":\"abc123\",\n"+
		"data: \"messageId\":\"m2\",\"emojiName\":\"wave\",\"emojiUrl\":\"https://x/w.png\",\"user\":{\"id\":\"u2\"}}\n\n")

	waitFor(t, "the event to arrive", func() bool { return sender.count() == 1 })
	ev := sender.last()
	if ev.Action != backendapi.ActionRemove || ev.MessageID != "m2" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

// --- Connection loop ---

func TestNoTokenMeansNoConnectionAttempt(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "")

	r.Subscribe("abc123", uuid.New(), &captureSender{})
	time.Sleep(30 * time.Millisecond)

	if got := hub.openCount(); got != 0 {
		t.Errorf("expected no connection attempts without a token, got %d", got)
	}
	// the state itself stays; a session change re-triggers the loop
	if got := r.StreamCount(); got != 1 {
		t.Errorf("expected stream state to remain, count=%d", got)
	}
}

func TestSessionChangeRetriggersIdleLoop(t *testing.T) {
	hub := newStreamHub()
	sessions := &mutableSessions{}
	r := New(newTestLogger(), sessions, hub.open, &capturePoster{})
	r.retryBase = time.Millisecond
	r.maxRetryDelay = 10 * time.Millisecond

	r.Subscribe("abc123", uuid.New(), &captureSender{})
	time.Sleep(20 * time.Millisecond)
	if got := hub.openCount(); got != 0 {
		t.Fatalf("expected no connection attempts before login, got %d", got)
	}

	sessions.setToken("tok")
	r.SessionChanged(session.Session{IsAuthenticated: true, Token: "tok"})

	waitFor(t, "re-triggered loop to connect", func() bool { return hub.openCount() >= 1 })
}

func TestSubscribeRetriggersIdleLoop(t *testing.T) {
	hub := newStreamHub()
	sessions := &mutableSessions{}
	r := New(newTestLogger(), sessions, hub.open, &capturePoster{})
	r.retryBase = time.Millisecond
	r.maxRetryDelay = 10 * time.Millisecond

	r.Subscribe("abc123", uuid.New(), &captureSender{})
	time.Sleep(20 * time.Millisecond)
	if got := hub.openCount(); got != 0 {
		t.Fatalf("expected no connection attempts before login, got %d", got)
	}

	// the token lands but the change notification never reaches the relay;
	// the next subscribe alone must bring the stream up
	sessions.setToken("tok")
	r.Subscribe("abc123", uuid.New(), &captureSender{})

	waitFor(t, "subscribe to re-trigger the idle loop", func() bool { return hub.openCount() >= 1 })
	if got := r.TabCount("abc123"); got != 2 {
		t.Errorf("expected 2 tabs, got %d", got)
	}
}

func TestReconnectsAfterOpenFailures(t *testing.T) {
	hub := newStreamHub()
	hub.failing = 3
	r := newTestRelay(hub, "tok")
	sender := &captureSender{}

	r.Subscribe("abc123", uuid.New(), sender)
	waitFor(t, "connection after failures", func() bool { return hub.openCount() >= 4 })

	hub.emit(t, "abc123", addFrame)
	waitFor(t, "event after reconnect", func() bool { return sender.count() == 1 })
}

func TestSuccessfulConnectResetsAttemptCounter(t *testing.T) {
	hub := newStreamHub()
	hub.failing = 2
	r := newTestRelay(hub, "tok")

	r.Subscribe("abc123", uuid.New(), &captureSender{})
	waitFor(t, "connection after failures", func() bool { return hub.openCount() >= 3 })

	waitFor(t, "attempt counter reset", func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		st, ok := r.streams["abc123"]
		return ok && st.reconnectAttempt == 0 && st.running
	})
}

func TestCancelledStreamStopsWithoutReconnect(t *testing.T) {
	hub := newStreamHub()
	r := newTestRelay(hub, "tok")
	tab := uuid.New()

	r.Subscribe("abc123", tab, &captureSender{})
	waitFor(t, "stream to open", func() bool { return hub.openCount() >= 1 })

	r.Unsubscribe("abc123", tab)
	time.Sleep(50 * time.Millisecond)

	if got := hub.openCount(); got != 1 {
		t.Errorf("torn-down stream reconnected, opens=%d", got)
	}
}

// --- Posting ---

func TestPostAndDeleteForwardWithToken(t *testing.T) {
	hub := newStreamHub()
	poster := &capturePoster{}
	r := New(newTestLogger(), staticSessions{token: "tok"}, hub.open, poster)

	body := backendapi.ReactionBody{MessageID: "m1", EmojiName: "tada", EmojiURL: "https://x/tada.png"}
	if err := r.Post(context.Background(), "abc123", body); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if err := r.Delete(context.Background(), "abc123", body); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	poster.mu.Lock()
	defer poster.mu.Unlock()
	if poster.token != "tok" {
		t.Errorf("expected bearer token to be forwarded, got %q", poster.token)
	}
	if len(poster.posted) != 1 || poster.posted[0] != "abc123/tada" {
		t.Errorf("unexpected posts: %v", poster.posted)
	}
	if len(poster.deleted) != 1 {
		t.Errorf("unexpected deletes: %v", poster.deleted)
	}
}

func TestPostWithoutTokenFails(t *testing.T) {
	hub := newStreamHub()
	r := New(newTestLogger(), staticSessions{}, hub.open, &capturePoster{})

	err := r.Post(context.Background(), "abc123", backendapi.ReactionBody{EmojiName: "tada"})
	if err != session.ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}
