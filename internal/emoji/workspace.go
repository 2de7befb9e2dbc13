package emoji

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

// Workspace lists a Slack workspace's custom emoji directly, for the path
// where a bot token is already cached and the backend proxy is not needed.
type Workspace struct {
	logger *slog.Logger
}

func NewWorkspace(logger *slog.Logger) *Workspace {
	return &Workspace{logger: logger.With(slog.String("component", "emoji_workspace"))}
}

// List fetches emoji.list with the given bot token and returns the
// normalized listing.
func (w *Workspace) List(ctx context.Context, botToken string) ([]Emoji, error) {
	if botToken == "" {
		return nil, errors.New("missing bot token")
	}

	api := slack.New(botToken)
	listing, err := api.GetEmojiContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workspace emojis")
	}

	emojis := Normalize(FromSlackListing(listing))
	w.logger.Debug("Fetched workspace emojis", slog.Int("count", len(emojis)))
	return emojis, nil
}
