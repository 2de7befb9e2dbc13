package router

import "encoding/json"

// Request types accepted from UI surfaces. The set is closed; anything else
// is ignored.
const (
	TypeLogin          = "SLACK_LOGIN"
	TypeLogout         = "SLACK_LOGOUT"
	TypeGetAuthState   = "SLACK_GET_AUTH_STATE"
	TypeGetEmojis      = "SLACK_GET_EMOJIS"
	TypeUpdateProfile  = "SLACK_UPDATE_PROFILE"
	TypeSubscribe      = "MEETING_SUBSCRIBE"
	TypeUnsubscribe    = "MEETING_UNSUBSCRIBE"
	TypeReactionPost   = "MEETING_REACTION_POST"
	TypeReactionDelete = "MEETING_REACTION_DELETE"
)

// Response types sent back to UI surfaces.
const (
	TypeAuthSuccess   = "SLACK_AUTH_SUCCESS"
	TypeAuthError     = "SLACK_AUTH_ERROR"
	TypeAuthState     = "SLACK_AUTH_STATE"
	TypeEmojisSuccess = "SLACK_EMOJIS_SUCCESS"
	TypeEmojisError   = "SLACK_EMOJIS_ERROR"
	TypeReactionAck   = "MEETING_REACTION_ACK"
	TypeReactionError = "MEETING_REACTION_ERROR"
	TypeMeetingEvent  = "MEETING_EVENT"
)

// Message is the tagged envelope exchanged with UI surfaces in both
// directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode builds an outgoing message with the payload marshalled in place.
func Encode(msgType string, payload any) ([]byte, error) {
	msg := Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return json.Marshal(msg)
}

type subscribePayload struct {
	MeetingID string `json:"meetingId"`
}

type reactionPayload struct {
	MeetingID string `json:"meetingId"`
	MessageID string `json:"messageId"`
	EmojiName string `json:"emojiName"`
	EmojiURL  string `json:"emojiUrl"`
}

type updateProfilePayload struct {
	Name string `json:"name"`
}
