package backendapi

// UserProfile is the backend's view of the logged-in user. The agent only
// ever holds a read-only cached copy.
type UserProfile struct {
	ID              string `json:"id"`
	Email           string `json:"email,omitempty"`
	AuthMethod      string `json:"authMethod"`
	SlackTeamID     string `json:"slackTeamId,omitempty"`
	SlackTeamName   string `json:"slackTeamName,omitempty"`
	SlackUserID     string `json:"slackUserId,omitempty"`
	SlackUserName   string `json:"slackUserName,omitempty"`
	SlackUserAvatar string `json:"slackUserAvatar,omitempty"`
}

type exchangeCodeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type exchangeCodeResponse struct {
	Token string `json:"token"`
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

// ReactionBody is the payload for posting or withdrawing a meeting reaction.
type ReactionBody struct {
	MessageID string `json:"messageId"`
	EmojiName string `json:"emojiName"`
	EmojiURL  string `json:"emojiUrl"`
}

// ReactionUser identifies the user a relayed reaction belongs to.
type ReactionUser struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ReactionEvent is one add/remove event relayed on a meeting's push stream.
// The agent never persists these; they exist only in flight.
type ReactionEvent struct {
	Action    string       `json:"action"` // "add" or "remove"
	MeetingID string       `json:"meetingId"`
	MessageID string       `json:"messageId"`
	EmojiName string       `json:"emojiName"`
	EmojiURL  string       `json:"emojiUrl"`
	User      ReactionUser `json:"user"`
}

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)
