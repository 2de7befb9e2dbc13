package transport_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// testPeer is one accepted server-side connection plus the client socket
// talking to it.
type testPeer struct {
	conn   *transport.Connection
	client *websocket.Conn
}

func dial(t *testing.T, onMessage transport.MessageHandler, onClose transport.OnCloseHandler) *testPeer {
	t.Helper()

	var wg sync.WaitGroup
	accepted := make(chan *transport.Connection, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		conn := transport.NewConnection(
			context.Background(),
			&wg,
			wsConn,
			transport.ConnectionConfig{ReadTimeout: 5 * time.Second},
			onMessage,
			onClose,
			newTestLogger(),
		)
		conn.Run()
		accepted <- conn
		<-conn.Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case conn := <-accepted:
		return &testPeer{conn: conn, client: client}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection acceptance")
		return nil
	}
}

func TestInboundMessagesReachHandler(t *testing.T) {
	received := make(chan []byte, 1)
	peer := dial(t, func(ctx context.Context, tabID uuid.UUID, msg []byte) {
		received <- msg
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := peer.client.Write(ctx, websocket.MessageText, []byte(`{"type":"SLACK_GET_AUTH_STATE"}`)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != `{"type":"SLACK_GET_AUTH_STATE"}` {
			t.Errorf("unexpected message %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message handler")
	}
}

func TestSendReachesClient(t *testing.T) {
	peer := dial(t, nil, nil)

	peer.conn.Send([]byte(`{"type":"MEETING_EVENT"}`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := peer.client.Read(ctx)
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if string(data) != `{"type":"MEETING_EVENT"}` {
		t.Errorf("unexpected payload %q", data)
	}
}

func TestCloseHandlerFiresOnClientDisconnect(t *testing.T) {
	closed := make(chan uuid.UUID, 1)
	peer := dial(t, func(context.Context, uuid.UUID, []byte) {}, func(tabID uuid.UUID, err error) {
		closed <- tabID
	})

	peer.client.Close(websocket.StatusNormalClosure, "bye")

	select {
	case id := <-closed:
		if id != peer.conn.ID() {
			t.Errorf("close handler got id %s, want %s", id, peer.conn.ID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for close handler")
	}
}

func TestCloseBeforeRunBalancesWaitGroup(t *testing.T) {
	var wg sync.WaitGroup
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		conn := transport.NewConnection(
			context.Background(),
			&wg,
			wsConn,
			transport.ConnectionConfig{ReadTimeout: 5 * time.Second},
			nil,
			nil,
			newTestLogger(),
		)

		// teardown racing ahead of Run must neither panic nor wedge Wait
		conn.Close(nil)
		<-conn.Done()
		wg.Wait()
		close(done)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for close to complete")
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	peer := dial(t, nil, nil)

	peer.conn.Close(nil)
	<-peer.conn.Done()

	// must not panic or block
	peer.conn.Send([]byte("late"))
}
