package duel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// MessageType is the self-describing kind tag carried by every envelope.
type MessageType string

const (
	TypePunch  MessageType = "punch"
	TypeHealth MessageType = "health"
	TypeScore  MessageType = "score"
	// TypeConcede tells the peer the sender gave up the point of a round.
	TypeConcede MessageType = "concede"
	// TypeRematch resets both engines and starts a new match.
	TypeRematch MessageType = "rematch"
)

// ScoreBoard is the payload of the reserved score message.
type ScoreBoard struct {
	Player int `json:"player"`
	Enemy  int `json:"enemy"`
}

// Concession is the payload of a concede message. Round is the round the sender
// resolved against itself, so a late concession for an older round is ignored.
type Concession struct {
	Round int `json:"round"`
}

// RematchRequest is the payload of a rematch message, from the sender's side.
type RematchRequest struct {
	AttacksFirst bool `json:"attacksFirst"`
}

// Message is the decoded form of one wire envelope. Exactly one payload field is
// meaningful, selected by Type.
type Message struct {
	Type MessageType
	// ID and From are stamped by the synchronizer; both are optional on the wire.
	ID   string
	From string

	Punch   *Direction
	Health  float64
	Score   *ScoreBoard
	Concede *Concession
	Rematch *RematchRequest
}

// envelope is the wire shape: {"kind":"punch","id":"...","from":"...","payload":{...}}
type envelope struct {
	Kind    MessageType     `json:"kind"`
	ID      string          `json:"id,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type punchPayload struct {
	Type     string   `json:"type"`
	Strength *float64 `json:"strength"`
}

type concedePayload struct {
	Round *int `json:"round"`
}

type rematchPayload struct {
	AttacksFirst *bool `json:"attacksFirst"`
}

// Encode serializes m. Invalid messages are refused rather than sent half-formed.
func Encode(m Message) ([]byte, error) {
	var payload any
	switch m.Type {
	case TypePunch:
		if m.Punch == nil {
			return nil, errors.New("encode: punch message without direction")
		}
		d, err := NewDirection(m.Punch.Kind, m.Punch.Strength)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		payload = punchPayload{Type: d.Kind.String(), Strength: &d.Strength}
	case TypeHealth:
		if math.IsNaN(m.Health) || math.IsInf(m.Health, 0) {
			return nil, fmt.Errorf("encode: invalid health %v", m.Health)
		}
		payload = m.Health
	case TypeScore:
		if m.Score == nil {
			return nil, errors.New("encode: score message without board")
		}
		payload = *m.Score
	case TypeConcede:
		if m.Concede == nil || m.Concede.Round < 1 {
			return nil, errors.New("encode: concede message without a round")
		}
		payload = concedePayload{Round: &m.Concede.Round}
	case TypeRematch:
		if m.Rematch == nil {
			return nil, errors.New("encode: rematch message without request")
		}
		payload = rematchPayload{AttacksFirst: &m.Rematch.AttacksFirst}
	default:
		return nil, fmt.Errorf("encode: unknown message kind %q", m.Type)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(envelope{Kind: m.Type, ID: m.ID, From: m.From, Payload: raw})
}

// Decode parses one envelope. Every failure is a *DecodeError.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, &DecodeError{Reason: "empty message"}
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return Message{}, &DecodeError{Reason: fmt.Sprintf("%q message without payload", env.Kind)}
	}

	m := Message{Type: env.Kind, ID: env.ID, From: env.From}
	switch env.Kind {
	case TypePunch:
		var p punchPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return Message{}, &DecodeError{Reason: "malformed punch payload", Err: err}
		}
		if p.Strength == nil {
			return Message{}, &DecodeError{Reason: "punch payload without strength"}
		}
		kind, err := ParseKind(p.Type)
		if err != nil {
			return Message{}, &DecodeError{Reason: "bad punch direction", Err: err}
		}
		d, err := NewDirection(kind, *p.Strength)
		if err != nil {
			return Message{}, &DecodeError{Reason: "bad punch strength", Err: err}
		}
		m.Punch = &d
	case TypeHealth:
		var h *float64
		if err := strictUnmarshal(env.Payload, &h); err != nil || h == nil {
			return Message{}, &DecodeError{Reason: "malformed health payload", Err: err}
		}
		m.Health = *h
	case TypeScore:
		var sb ScoreBoard
		if err := strictUnmarshal(env.Payload, &sb); err != nil {
			return Message{}, &DecodeError{Reason: "malformed score payload", Err: err}
		}
		m.Score = &sb
	case TypeConcede:
		var p concedePayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return Message{}, &DecodeError{Reason: "malformed concede payload", Err: err}
		}
		if p.Round == nil || *p.Round < 1 {
			return Message{}, &DecodeError{Reason: "concede payload without a valid round"}
		}
		m.Concede = &Concession{Round: *p.Round}
	case TypeRematch:
		var p rematchPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return Message{}, &DecodeError{Reason: "malformed rematch payload", Err: err}
		}
		if p.AttacksFirst == nil {
			return Message{}, &DecodeError{Reason: "rematch payload without attacksFirst"}
		}
		m.Rematch = &RematchRequest{AttacksFirst: *p.AttacksFirst}
	default:
		return Message{}, &DecodeError{Reason: fmt.Sprintf("unknown message kind %q", env.Kind)}
	}
	return m, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after payload")
	}
	return nil
}
