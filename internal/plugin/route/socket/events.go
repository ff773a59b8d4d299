package socket

import (
	"encoding/json"

	"github.com/chirino/messaging-service/internal/model"
	"github.com/chirino/messaging-service/internal/sessions"
)

// Event names carried in Envelope.Event.
const (
	EventJoin            = "join"
	EventConnectedUsers  = "connectedUsers"
	EventLoadTexts       = "loadTexts"
	EventTextsLoaded     = "textsLoaded"
	EventSendNewText     = "sendNewText"
	EventTextSent        = "textSent"
	EventNewTextReceived = "newTextReceived"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRequest struct {
	UserID string `json:"userId"`
}

type loadTextsRequest struct {
	UserID    string `json:"userId"`
	TextsWith string `json:"textsWith"`
	Page      int    `json:"page"`
}

type sendNewTextRequest struct {
	UserID       string `json:"userId"`
	UserToTextID string `json:"userToTextId"`
	Text         string `json:"text"`
}

type connectedUsersPayload struct {
	Users []sessions.Entry `json:"users"`
}

type textSentPayload struct {
	NewText model.Message `json:"newText"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
