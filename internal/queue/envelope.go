package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// fedifyIDAttribute is the push-subscription attribute name carrying
// the message id, named literally so a real Pub/Sub push
// subscription could call HandlePush unchanged (spec.md §4.5).
const fedifyIDAttribute = "fedifyId"

// pushEnvelope is the literal push-transport wire shape from spec.md
// §6: `{message:{message_id,data:<base64 JSON>,attributes:{fedifyId,...}}}`.
type pushEnvelope struct {
	Message pushMessage `json:"message"`
}

type pushMessage struct {
	MessageID  string            `json:"message_id"`
	Data       string            `json:"data"`
	Attributes map[string]string `json:"attributes"`
}

// encodeEnvelope builds the push envelope for msg, as published to
// the main or retry topic.
func encodeEnvelope(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal message payload: %w", err)
	}
	env := pushEnvelope{
		Message: pushMessage{
			MessageID: msg.ID,
			Data:      base64.StdEncoding.EncodeToString(data),
			Attributes: map[string]string{
				fedifyIDAttribute: msg.ID,
				"type":            string(msg.Type),
			},
		},
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal push envelope: %w", err)
	}
	return out, nil
}

// decodeEnvelope parses a push envelope back into a Message. Returns
// an error on malformed JSON or base64, mapped to HTTP 400 by the
// (out-of-scope) transport layer per spec.md §4.5 step 2.
func decodeEnvelope(raw []byte) (Message, error) {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("queue: decode push envelope: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return Message{}, fmt.Errorf("queue: decode envelope data: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("queue: decode message: %w", err)
	}
	if msg.ID == "" {
		if id := env.Message.Attributes[fedifyIDAttribute]; id != "" {
			msg.ID = id
		} else {
			msg.ID = env.Message.MessageID
		}
	}
	return msg, nil
}

// newMessageID generates a fresh message id for a locally-enqueued
// message.
func newMessageID() string {
	return uuid.NewString()
}
