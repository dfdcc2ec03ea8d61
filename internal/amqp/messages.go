package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// UserEventMessage carries one realtime event addressed to a user. Server
// instances consume these and emit them to the user's websocket connections.
type UserEventMessage struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewUserEventMessage encodes payload into a message for userID
func NewUserEventMessage(id, userID, eventType string, payload any) (*UserEventMessage, error) {
	if userID == "" || eventType == "" {
		return nil, errors.New("user event requires a user id and a type")
	}
	msg := &UserEventMessage{
		ID:        id,
		UserID:    userID,
		Type:      eventType,
		Timestamp: time.Now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// ToJSON converts the message to JSON bytes
func (m *UserEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// UserEventMessageFromJSON creates a message from JSON bytes
func UserEventMessageFromJSON(data []byte) (*UserEventMessage, error) {
	var msg UserEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" || msg.Type == "" {
		return nil, errors.New("user event is missing user id or type")
	}
	return &msg, nil
}
