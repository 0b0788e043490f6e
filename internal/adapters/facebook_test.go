package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
)

const messengerBody = `{
  "object": "page",
  "entry": [{
    "messaging": [
      {
        "sender": {"id": "psid-777"},
        "recipient": {"id": "page-1"},
        "timestamp": 1756380000000,
        "message": {"mid": "m_abc", "text": "hola"}
      },
      {
        "sender": {"id": "psid-777"},
        "recipient": {"id": "page-1"},
        "timestamp": 1756380001000,
        "message": {}
      }
    ]
  }]
}`

func TestParseMessengerEvents(t *testing.T) {
	envs, err := parseMessengerEvents(channel.Facebook, []byte(messengerBody))
	require.NoError(t, err)
	// 第二个事件没有 mid（回执类），应被跳过
	require.Len(t, envs, 1)

	env := envs[0]
	assert.Equal(t, channel.Facebook, env.Channel)
	assert.Equal(t, "m_abc", env.ExternalID)
	assert.Equal(t, "psid-777", env.ThreadID)
	assert.Equal(t, []string{"page-1"}, env.To)
	assert.Equal(t, "hola", env.Content.Text)
	assert.Equal(t, time.UnixMilli(1756380000000).Unix(), env.Timestamp.Unix())
}

func TestInstagramSharesMessengerParsing(t *testing.T) {
	a := NewInstagramAdapter(nil, nil)
	envs, err := a.ParseWebhook(context.Background(), []byte(messengerBody))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, channel.Instagram, envs[0].Channel)
	assert.Equal(t, "psid-777", envs[0].ThreadID)
}
