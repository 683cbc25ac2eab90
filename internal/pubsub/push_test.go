package pubsub

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTrip(t *testing.T) {
	env, err := Encode("m-1", map[string]any{"app_code": "APP1"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "APP1", out["app_code"])
	assert.Equal(t, "m-1", env.MessageID())
}

func TestDecodeErrors(t *testing.T) {
	var out map[string]any
	assert.ErrorIs(t, PushEnvelope{}.Decode(&out), ErrNoMessage)
	assert.ErrorIs(t, PushEnvelope{Message: &Message{}}.Decode(&out), ErrNoData)
	assert.ErrorIs(t, PushEnvelope{Message: &Message{Data: "%%"}}.Decode(&out), ErrInvalidData)

	notJSON := base64.StdEncoding.EncodeToString([]byte("nope"))
	assert.ErrorIs(t, PushEnvelope{Message: &Message{Data: notJSON}}.Decode(&out), ErrInvalidData)
	assert.Empty(t, PushEnvelope{}.MessageID())
}
