package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedesk/internal/domain"
)

type frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

func TestEnvelopeAcrossCodecs(t *testing.T) {
	event := domain.InputEvent{Kind: domain.InputMouse, Mouse: &domain.MouseInput{X: 10, Y: 20, Action: domain.MouseMove}}
	for _, c := range []Codec{JSON{}, CBOR{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(frame{Type: "mouse_input", ID: "m1", SessionID: "s1", Payload: event})
			require.NoError(t, err)

			env, err := c.DecodeEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, "mouse_input", env.Type)
			assert.Equal(t, "m1", env.ID)
			assert.Equal(t, "s1", env.SessionID)

			var decoded domain.InputEvent
			require.NoError(t, env.Payload.Decode(&decoded))
			assert.Equal(t, event, decoded)
		})
	}
}

func TestCBORCarriesBinaryAndTime(t *testing.T) {
	c := CBOR{}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	chunk := domain.FileChunk{TransferID: "t1", Index: 3, Data: []byte{0, 1, 2, 255}}
	data, err := c.Marshal(frame{Type: "transfer_chunk", Payload: map[string]any{"chunk": chunk, "at": at}})
	require.NoError(t, err)

	env, err := c.DecodeEnvelope(data)
	require.NoError(t, err)
	var payload struct {
		Chunk domain.FileChunk `json:"chunk"`
		At    time.Time        `json:"at"`
	}
	require.NoError(t, env.Payload.Decode(&payload))
	assert.Equal(t, chunk, payload.Chunk)
	assert.True(t, at.Equal(payload.At))
}

func TestMalformedFrames(t *testing.T) {
	_, err := JSON{}.DecodeEnvelope([]byte("{"))
	assert.Equal(t, "invalid_frame", domain.CodeOf(err))

	_, err = JSON{}.DecodeEnvelope([]byte(`{"id":"x"}`))
	assert.Equal(t, "missing_message_type", domain.CodeOf(err))

	env, err := JSON{}.DecodeEnvelope([]byte(`{"type":"leave_session"}`))
	require.NoError(t, err)
	assert.True(t, env.Payload.Empty())
	var v struct{}
	assert.Equal(t, "missing_payload", domain.CodeOf(env.Payload.Decode(&v)))

	env, err = JSON{}.DecodeEnvelope([]byte(`{"type":"chat_message","payload":{"text":5}}`))
	require.NoError(t, err)
	var chat struct {
		Text string `json:"text"`
	}
	err = env.Payload.Decode(&chat)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestForName(t *testing.T) {
	assert.Equal(t, "cbor", ForName("cbor").Name())
	assert.Equal(t, "json", ForName("").Name())
	assert.True(t, ForName("cbor").Binary())
}
