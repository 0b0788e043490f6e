package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/httptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/adapters"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/auth"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/mq"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/service"
)

type capturingQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (q *capturingQueue) Publish(_ context.Context, queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.published == nil {
		q.published = map[string][][]byte{}
	}
	q.published[queue] = append(q.published[queue], body)
	return nil
}

func (q *capturingQueue) bodies(queue string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.published[queue]
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestApp(t *testing.T) (*iris.Application, *capturingQueue, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Channels.WhatsApp = config.MetaChannelConfig{
		AppSecret:   "wa-secret",
		VerifyToken: "verify-me",
		SenderID:    "10001",
	}
	queue := &capturingQueue{}
	app := iris.New()
	RegisterRoutes(app, &Deps{
		Cfg:      cfg,
		Svc:      nil, // 下面的用例只打不经过服务层的端点
		Adapters: adapters.NewRegistry(&cfg.Channels, cfg.IsProduction()),
		Queue:    queue,
		Redis:    nil,
		Hub:      service.NewHub(),
	})
	return app, queue, cfg
}

func TestHealthIsOpen(t *testing.T) {
	app, _, _ := newTestApp(t)
	e := httptest.New(t, app)
	e.GET("/health").Expect().Status(httptest.StatusOK).Body().Contains("ok")
}

func TestAPIRequiresBearerToken(t *testing.T) {
	app, _, cfg := newTestApp(t)
	e := httptest.New(t, app)

	e.GET("/api/channels").Expect().Status(httptest.StatusUnauthorized)
	e.GET("/api/channels").
		WithHeader("Authorization", "Bearer not-a-jwt").
		Expect().Status(httptest.StatusUnauthorized)

	token, err := auth.GenerateToken(&cfg.JWT, 1, "recepcion")
	require.NoError(t, err)
	e.GET("/api/channels").
		WithHeader("Authorization", "Bearer "+token).
		Expect().Status(httptest.StatusOK).
		Body().Contains("whatsapp").Contains("requiresSubject")

	// 非 Bearer 方案不往 JWT 解析里塞：有效 token 也必须带对前缀
	e.GET("/api/channels").
		WithHeader("Authorization", token).
		Expect().Status(httptest.StatusUnauthorized)
	e.GET("/api/channels").
		WithHeader("Authorization", "Basic "+token).
		Expect().Status(httptest.StatusUnauthorized)

	// websocket 场景的 query 参数回退仍然可用
	e.GET("/api/channels").
		WithQuery("token", token).
		Expect().Status(httptest.StatusOK)
}

func TestWebhookSubscriptionHandshake(t *testing.T) {
	app, _, _ := newTestApp(t)
	e := httptest.New(t, app)

	e.GET("/webhooks/whatsapp").
		WithQuery("hub.mode", "subscribe").
		WithQuery("hub.verify_token", "verify-me").
		WithQuery("hub.challenge", "challenge-123").
		Expect().Status(httptest.StatusOK).
		Body().IsEqual("challenge-123")

	e.GET("/webhooks/whatsapp").
		WithQuery("hub.mode", "subscribe").
		WithQuery("hub.verify_token", "wrong").
		Expect().Status(httptest.StatusForbidden)

	e.GET("/webhooks/telegram").Expect().Status(httptest.StatusNotFound)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app, queue, _ := newTestApp(t)
	e := httptest.New(t, app)
	body := []byte(`{"entry":[]}`)

	// 未签名
	e.POST("/webhooks/whatsapp").WithBytes(body).
		Expect().Status(httptest.StatusUnauthorized)
	// 错误密钥签名
	e.POST("/webhooks/whatsapp").WithBytes(body).
		WithHeader("X-Hub-Signature-256", signBody("other-secret", body)).
		Expect().Status(httptest.StatusUnauthorized)

	// 拒绝的事件绝不入队
	assert.Empty(t, queue.bodies(mq.InboundQueue))
}

func TestWebhookEnqueuesEnvelopes(t *testing.T) {
	app, queue, _ := newTestApp(t)
	e := httptest.New(t, app)

	body := []byte(`{
	  "entry": [{"changes": [{"value": {
	    "contacts": [{"wa_id": "+34600111222", "profile": {"name": "Ana"}}],
	    "messages": [{"from": "+34600111222", "id": "wamid.123",
	      "timestamp": "1756380000", "type": "text", "text": {"body": "Hola"}}]
	  }}]}]
	}`)

	e.POST("/webhooks/whatsapp").WithBytes(body).
		WithHeader("X-Hub-Signature-256", signBody("wa-secret", body)).
		Expect().Status(httptest.StatusOK).
		Body().Contains(`"events":1`)

	published := queue.bodies(mq.InboundQueue)
	require.Len(t, published, 1)

	var env message.Envelope
	require.NoError(t, json.Unmarshal(published[0], &env))
	assert.Equal(t, channel.WhatsApp, env.Channel)
	assert.Equal(t, "wamid.123", env.ExternalID)
	assert.Equal(t, "+34600111222", env.ThreadID)
	assert.Equal(t, "Hola", env.Content.Text)
}
