package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
)

func metaSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const waWebhookBody = `{
  "entry": [{
    "changes": [{
      "value": {
        "contacts": [{"wa_id": "+34600111222", "profile": {"name": "Ana"}}],
        "messages": [{
          "from": "+34600111222",
          "id": "wamid.123",
          "timestamp": "1756380000",
          "type": "text",
          "text": {"body": "Hola"}
        }]
      }
    }]
  }]
}`

func newWhatsApp(cfg *config.MetaChannelConfig) *WhatsAppAdapter {
	if cfg == nil {
		cfg = &config.MetaChannelConfig{
			AppSecret:   "wa-secret",
			VerifyToken: "verify-me",
			AccessToken: "token",
			SenderID:    "10001",
		}
	}
	return NewWhatsAppAdapter(cfg, &http.Client{Timeout: time.Second})
}

func TestWhatsAppVerifyWebhook(t *testing.T) {
	a := newWhatsApp(nil)
	body := []byte(waWebhookBody)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", nil)
	req.Header.Set("X-Hub-Signature-256", metaSign("wa-secret", body))
	assert.NoError(t, a.VerifyWebhook(req, body))

	req.Header.Set("X-Hub-Signature-256", metaSign("wrong-secret", body))
	assert.ErrorIs(t, a.VerifyWebhook(req, body), ErrBadSignature)

	req.Header.Del("X-Hub-Signature-256")
	assert.ErrorIs(t, a.VerifyWebhook(req, body), ErrBadSignature)
}

func TestWhatsAppVerifySubscription(t *testing.T) {
	a := newWhatsApp(nil)
	assert.True(t, a.VerifySubscription("subscribe", "verify-me"))
	assert.False(t, a.VerifySubscription("subscribe", "nope"))
	assert.False(t, a.VerifySubscription("unsubscribe", "verify-me"))
	assert.False(t, a.VerifySubscription("subscribe", ""))
}

func TestWhatsAppParseWebhook(t *testing.T) {
	a := newWhatsApp(nil)
	envs, err := a.ParseWebhook(context.Background(), []byte(waWebhookBody))
	require.NoError(t, err)
	require.Len(t, envs, 1)

	env := envs[0]
	assert.Equal(t, channel.WhatsApp, env.Channel)
	assert.Equal(t, "wamid.123", env.ExternalID)
	assert.Equal(t, "+34600111222", env.ThreadID)
	assert.Equal(t, "+34600111222", env.From)
	assert.Equal(t, "Ana", env.FromName)
	assert.Equal(t, "Hola", env.Content.Text)
	assert.Equal(t, time.Unix(1756380000, 0).Unix(), env.Timestamp.Unix())
}

func TestWhatsAppSend(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/10001/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := newWhatsApp(&config.MetaChannelConfig{
		AccessToken: "token",
		SenderID:    "10001",
		APIBase:     srv.URL,
	})
	env := outboundEnv(channel.WhatsApp, "+34600111222", "Hola, ¿en qué puedo ayudarte?")
	require.NoError(t, a.Send(context.Background(), env))

	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "+34600111222", got["to"])
}

func TestWhatsAppSendClassifiesFailures(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	a := newWhatsApp(&config.MetaChannelConfig{SenderID: "10001", APIBase: srv.URL})
	env := outboundEnv(channel.WhatsApp, "+34600111222", "Hola")

	// 400：平台拒绝载荷，不值得重试
	err := a.Send(context.Background(), env)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	// 429/500：瞬时失败，可重试
	for _, s := range []int{http.StatusTooManyRequests, http.StatusInternalServerError} {
		status = s
		err = a.Send(context.Background(), env)
		require.Error(t, err)
		assert.False(t, IsPermanent(err), "status %d should be retryable", s)
	}

	// 没有收件人无从投递
	assert.True(t, IsPermanent(a.Send(context.Background(),
		outboundEnv(channel.WhatsApp, "", "Hola"))))
}
