// Package slackauth runs the interactive OAuth authorization-code flow
// against Slack. It only produces a code; the backend performs the actual
// token exchange.
package slackauth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pkg/errors"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/pkg/config"
)

// ErrAuthCancelled is returned when the user abandons the authorization
// flow before completing it.
var ErrAuthCancelled = errors.New("authorization cancelled by user")

// NoCodeError means the provider redirected back without a code parameter.
// Reason carries the provider's error query parameter when present.
type NoCodeError struct {
	Reason string
}

func (e *NoCodeError) Error() string {
	if e.Reason != "" {
		return "no authorization code received: " + e.Reason
	}
	return "no authorization code received"
}

type result struct {
	code string
	err  error
}

// Authorizer launches the user-facing authorization flow: a one-shot
// loopback redirect endpoint plus the system browser pointed at Slack's
// authorize URL.
type Authorizer struct {
	cfg         config.SlackConfig
	logger      *slog.Logger
	openBrowser func(url string) error
}

func NewAuthorizer(cfg config.SlackConfig, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "slack_auth")),
		openBrowser: openBrowser,
	}
}

// AuthorizeURL builds the Slack authorize URL for the given redirect URI.
func (a *Authorizer) AuthorizeURL(redirectURI string) string {
	params := url.Values{}
	params.Set("client_id", a.cfg.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("user_scope", strings.Join(a.cfg.UserScopes, ","))
	params.Set("scope", strings.Join(a.cfg.BotScopes, ","))
	return a.cfg.AuthURL + "?" + params.Encode()
}

// Authorize blocks until the user completes or abandons the flow. It
// resolves with the authorization code and the redirect URI that was used,
// which the backend needs to replay during the code exchange.
func (a *Authorizer) Authorize(ctx context.Context) (code, redirectURI string, err error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", "", errors.Wrap(err, "failed to open redirect listener")
	}

	redirectURI = fmt.Sprintf("http://%s/oauth/callback", listener.Addr().String())
	results := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if c := q.Get("code"); c != "" {
			fmt.Fprint(w, "Signed in. You can close this window.")
			results <- result{code: c}
			return
		}
		fmt.Fprint(w, "Sign-in failed. You can close this window.")
		results <- result{err: &NoCodeError{Reason: q.Get("error")}}
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	defer srv.Close()

	authURL := a.AuthorizeURL(redirectURI)
	a.logger.Info("Opening browser for Slack authorization")
	if err := a.openBrowser(authURL); err != nil {
		return "", "", errors.Wrap(err, "failed to open browser")
	}

	select {
	case res := <-results:
		if res.err != nil {
			return "", "", res.err
		}
		return res.code, redirectURI, nil
	case <-ctx.Done():
		return "", "", ErrAuthCancelled
	}
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}
