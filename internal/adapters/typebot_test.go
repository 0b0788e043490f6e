package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

const typebotBody = `{
  "botId": "bot-1",
  "sessionId": "sess-9",
  "eventId": "ev-42",
  "timestamp": "2026-08-28T10:00:00Z",
  "userName": "Ana",
  "message": {"text": "quiero una cita"}
}`

func typebotSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestTypebotVerifyWebhookWithSecret(t *testing.T) {
	a := NewTypebotAdapter(&config.TypebotConfig{WebhookSecret: "tb-secret"},
		&http.Client{Timeout: time.Second}, false)
	body := []byte(typebotBody)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/typebot", nil)
	req.Header.Set("X-Typebot-Signature", typebotSign("tb-secret", body))
	assert.NoError(t, a.VerifyWebhook(req, body))

	req.Header.Set("X-Typebot-Signature", typebotSign("other", body))
	assert.ErrorIs(t, a.VerifyWebhook(req, body), ErrBadSignature)

	req.Header.Del("X-Typebot-Signature")
	assert.ErrorIs(t, a.VerifyWebhook(req, body), ErrBadSignature)
}

func TestTypebotVerifyWebhookWithoutSecret(t *testing.T) {
	body := []byte(typebotBody)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/typebot", nil)

	// 开发环境没配密钥放行，生产环境必须拒绝
	dev := NewTypebotAdapter(&config.TypebotConfig{}, &http.Client{Timeout: time.Second}, false)
	assert.NoError(t, dev.VerifyWebhook(req, body))

	prod := NewTypebotAdapter(&config.TypebotConfig{}, &http.Client{Timeout: time.Second}, true)
	assert.ErrorIs(t, prod.VerifyWebhook(req, body), ErrBadSignature)
}

func TestTypebotParseWebhook(t *testing.T) {
	a := NewTypebotAdapter(&config.TypebotConfig{}, &http.Client{Timeout: time.Second}, false)
	envs, err := a.ParseWebhook(context.Background(), []byte(typebotBody))
	require.NoError(t, err)
	require.Len(t, envs, 1)

	env := envs[0]
	assert.Equal(t, channel.Typebot, env.Channel)
	assert.Equal(t, "ev-42", env.ExternalID)
	assert.Equal(t, "bot-1/sess-9", env.ThreadID)
	assert.Equal(t, "Ana", env.FromName)
	assert.Equal(t, message.TypeBot, env.Type)
	assert.Equal(t, "quiero una cita", env.Content.Text)

	_, err = a.ParseWebhook(context.Background(), []byte(`{"botId":"bot-1"}`))
	assert.Error(t, err)
}

func TestTypebotSendRequiresActions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/bot-1/sess-9/continueChat", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewTypebotAdapter(&config.TypebotConfig{APIBase: srv.URL},
		&http.Client{Timeout: time.Second}, false)

	free := outboundEnv(channel.Typebot, "bot-1", "texto libre")
	free.ThreadID = "bot-1/sess-9"
	err := a.Send(context.Background(), free)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	structured := outboundEnv(channel.Typebot, "bot-1", "")
	structured.ThreadID = "bot-1/sess-9"
	structured.Content = message.Content{BotActions: []message.BotAction{
		{ID: "a1", Label: "Pedir cita", Payload: "BOOK"},
	}}
	assert.NoError(t, a.Send(context.Background(), structured))
}
