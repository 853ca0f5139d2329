// Package sinks delivers decoded link messages to external consumers.
package sinks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/session"
)

// Envelope is the JSON shape every consumer sees for one received message.
// Schema holds the resolved document when it is valid JSON, otherwise the
// raw text (an ERROR: sentinel, for instance) as a JSON string.
type Envelope struct {
	Topic    string          `json:"topic"`
	Body     json.RawMessage `json:"body"`
	Schema   json.RawMessage `json:"schema,omitempty"`
	Msec     int64           `json:"msec"`
	Received time.Time       `json:"received"`
}

func NewEnvelope(m session.ReceivedMessage) (Envelope, error) {
	env := Envelope{
		Topic:    m.Topic,
		Body:     m.Body,
		Msec:     m.Msec,
		Received: m.Received,
	}
	if len(env.Body) == 0 {
		env.Body = json.RawMessage("null")
	}
	if len(m.Schema) > 0 {
		if json.Valid(m.Schema) {
			env.Schema = m.Schema
		} else {
			quoted, err := json.Marshal(string(m.Schema))
			if err != nil {
				return Envelope{}, fmt.Errorf("sinks: schema: %w", err)
			}
			env.Schema = quoted
		}
	}
	return env, nil
}

// Marshal renders m as an Envelope.
func Marshal(m session.ReceivedMessage) ([]byte, error) {
	env, err := NewEnvelope(m)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("sinks: marshal %s: %w", m.Topic, err)
	}
	return out, nil
}
