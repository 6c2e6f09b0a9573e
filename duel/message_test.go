package duel

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	up := Direction{Kind: KindUp, Strength: 312.5}
	msgs := []Message{
		{Type: TypePunch, Punch: &up},
		{Type: TypePunch, ID: "m-1", From: "engine-a", Punch: &Direction{Kind: KindRight, Strength: 0}},
		{Type: TypeHealth, Health: 72.25},
		{Type: TypeHealth, Health: -3},
		{Type: TypeScore, Score: &ScoreBoard{Player: 2, Enemy: 1}},
		{Type: TypeConcede, ID: "m-2", Concede: &Concession{Round: 3}},
		{Type: TypeRematch, Rematch: &RematchRequest{AttacksFirst: true}},
		{Type: TypeRematch, Rematch: &RematchRequest{AttacksFirst: false}},
	}
	for _, m := range msgs {
		data, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestEncodeWireShape(t *testing.T) {
	data, err := Encode(Message{Type: TypePunch, Punch: &Direction{Kind: KindLeft, Strength: 250}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "punch", raw["kind"])
	assert.Equal(t, map[string]any{"type": "left", "strength": 250.0}, raw["payload"])

	data, err = Encode(Message{Type: TypeHealth, Health: 80})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"health","payload":80}`, string(data))
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode(Message{Type: TypePunch})
	assert.Error(t, err)

	_, err = Encode(Message{Type: TypePunch, Punch: &Direction{Kind: KindNone, Strength: 10}})
	assert.Error(t, err)

	nan := 0.0
	_, err = Encode(Message{Type: TypeHealth, Health: nan / nan})
	assert.Error(t, err)

	_, err = Encode(Message{Type: "taunt"})
	assert.Error(t, err)

	// a board-less score would otherwise decode as a zero board
	_, err = Encode(Message{Type: TypeScore})
	assert.Error(t, err)

	_, err = Encode(Message{Type: TypeConcede})
	assert.Error(t, err)
	_, err = Encode(Message{Type: TypeConcede, Concede: &Concession{}})
	assert.Error(t, err)

	_, err = Encode(Message{Type: TypeRematch})
	assert.Error(t, err)
}

func TestDecodeFailures(t *testing.T) {
	cases := map[string]string{
		"empty":            ``,
		"truncated":        `{"kind":"punch","payload":{"type":"up"`,
		"unknown kind":     `{"kind":"taunt","payload":{}}`,
		"missing payload":  `{"kind":"punch"}`,
		"null payload":     `{"kind":"health","payload":null}`,
		"bad direction":    `{"kind":"punch","payload":{"type":"forward","strength":10}}`,
		"no strength":      `{"kind":"punch","payload":{"type":"up"}}`,
		"negative":         `{"kind":"punch","payload":{"type":"up","strength":-1}}`,
		"extra field":      `{"kind":"punch","payload":{"type":"up","strength":1,"speed":3}}`,
		"health as object": `{"kind":"health","payload":{"value":3}}`,
		"punch as number":  `{"kind":"punch","payload":12}`,
		"score as string":  `{"kind":"score","payload":"2-1"}`,
		"not json":         `punch up 300`,
		"concede round 0":  `{"kind":"concede","payload":{"round":0}}`,
		"concede no round": `{"kind":"concede","payload":{}}`,
		"rematch no role":  `{"kind":"rematch","payload":{}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			var de *DecodeError
			require.Error(t, err)
			assert.True(t, errors.As(err, &de), "want *DecodeError, got %T", err)
		})
	}
}

func TestDecodeClampsStrength(t *testing.T) {
	m, err := Decode([]byte(`{"kind":"punch","payload":{"type":"down","strength":4000}}`))
	require.NoError(t, err)
	require.NotNil(t, m.Punch)
	assert.Equal(t, KindDown, m.Punch.Kind)
	assert.Equal(t, MaxStrength, m.Punch.Strength)
}

func TestDirection(t *testing.T) {
	assert.Equal(t, KindDown, KindUp.Opposite())
	assert.Equal(t, KindUp, KindDown.Opposite())
	assert.Equal(t, KindRight, KindLeft.Opposite())
	assert.Equal(t, KindLeft, KindRight.Opposite())

	d, err := NewDirection(KindUp, 1200)
	require.NoError(t, err)
	assert.Equal(t, MaxStrength, d.Strength)

	_, err = NewDirection(KindUp, -0.1)
	assert.Error(t, err)

	zero := 0.0
	_, err = NewDirection(KindUp, zero/zero)
	assert.Error(t, err)

	k, err := ParseKind("LEFT")
	require.NoError(t, err)
	assert.Equal(t, KindLeft, k)
	assert.Equal(t, "trailing", Direction{Kind: KindRight}.Placement())
	assert.Equal(t, 180.0, Direction{Kind: KindDown}.Degrees())
}
