// Package server wires the agent together: the websocket endpoint the
// extension surfaces attach to, the tab table, the session store, the
// backend facade, the meeting relay and the message router.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/backendapi"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/emoji"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/relay"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/router"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/server/middleware"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/session"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/slackauth"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/pkg/config"
	"github.com/ablaszkiewicz/google-meet-slack-emojis/pkg/transport"
)

type App struct {
	logger   *slog.Logger
	sessions *session.Store
	relay    *relay.Relay
	router   *router.Router
	tabs     *TabTable
	wg       sync.WaitGroup
	http     *http.Server
	config   *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	sessions, err := session.NewStore(cfg.Storage.Path, logger)
	if err != nil {
		return nil, err
	}

	api := backendapi.NewClient(cfg.Backend.BaseURL)
	rl := relay.New(logger, sessions, api.OpenEvents, api)
	sessions.Watch(rl.SessionChanged)

	auth := slackauth.NewAuthorizer(cfg.Slack, logger)
	tabs := NewTabTable()
	rt := router.New(logger, sessions, auth, api, rl, tabs)
	if cfg.Slack.BotToken != "" {
		rt.SetWorkspaceFallback(emoji.NewWorkspace(logger), cfg.Slack.BotToken)
	}

	app := &App{
		logger:   logger,
		sessions: sessions,
		relay:    rl,
		router:   rt,
		tabs:     tabs,
		config:   cfg,
		ctx:      rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewOriginAllowlist(app.logger, cfg.Server.AllowedOrigins),
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Agent listening", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger
	if reqMeta != nil {
		connLogger = a.logger.With(slog.String("remoteAddr", reqMeta.IP))
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: a.config.Transport.ReadTimeout},
		nil,
		nil,
		a.logger,
	)
	a.tabs.Register(conn)

	conn.SetOnMessageHandler(a.router.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Tab disconnected", slog.String("tabID", id.String()))
		// the tab-closed notification doubles as the implicit unsubscribe
		a.relay.TabClosed(id)
		a.tabs.Deregister(id)
	})

	connLogger.Info("Tab connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down agent...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active tab connections.
	a.logger.Info("Closing all tab connections...")
	for _, conn := range a.tabs.All() {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Agent shut down gracefully.")
	return nil
}
