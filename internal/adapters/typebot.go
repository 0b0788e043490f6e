package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

// TypebotAdapter 会话机器人平台适配器。
// 没有自由文本回复：出站只能是结构化动作列表。
// thread-id 推导：botId/sessionId 复合键，避免不同 bot 的会话 id 撞车。
type TypebotAdapter struct {
	cfg        *config.TypebotConfig
	client     *http.Client
	production bool
}

func NewTypebotAdapter(cfg *config.TypebotConfig, client *http.Client, production bool) *TypebotAdapter {
	return &TypebotAdapter{cfg: cfg, client: client, production: production}
}

func (a *TypebotAdapter) Channel() channel.Channel { return channel.Typebot }

func (a *TypebotAdapter) Capabilities() channel.Capabilities {
	return channel.CapabilitiesOf(channel.Typebot)
}

// VerifyWebhook 可选 HMAC：配了密钥就严格校验；
// 没配密钥时生产环境拒绝，开发环境放行。
func (a *TypebotAdapter) VerifyWebhook(r *http.Request, body []byte) error {
	if a.cfg.WebhookSecret == "" {
		if a.production {
			return ErrBadSignature
		}
		return nil
	}
	header := r.Header.Get("X-Typebot-Signature")
	if header == "" {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return ErrBadSignature
	}
	return nil
}

// typebotEvent bot 平台回调载荷
type typebotEvent struct {
	BotID     string `json:"botId"`
	SessionID string `json:"sessionId"`
	EventID   string `json:"eventId"`
	Timestamp string `json:"timestamp"`
	UserName  string `json:"userName"`
	Message   struct {
		Text string `json:"text"`
	} `json:"message"`
}

func (a *TypebotAdapter) ParseWebhook(_ context.Context, body []byte) ([]*message.Envelope, error) {
	var ev typebotEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode typebot payload: %w", err)
	}
	if ev.SessionID == "" || ev.BotID == "" {
		return nil, fmt.Errorf("typebot event without session")
	}
	ts, err := time.Parse(time.RFC3339, ev.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	session := ev.BotID + "/" + ev.SessionID
	env := &message.Envelope{
		Channel:    channel.Typebot,
		ExternalID: ev.EventID,
		ThreadID:   session,
		From:       session,
		FromName:   ev.UserName,
		To:         []string{ev.BotID},
		Timestamp:  ts,
		Type:       message.TypeBot,
		Content:    message.Content{Text: ev.Message.Text},
		Raw:        body,
	}
	return []*message.Envelope{env}, nil
}

func (a *TypebotAdapter) Send(ctx context.Context, env *message.Envelope) error {
	if len(env.Content.BotActions) == 0 {
		// bot 渠道没有自由编辑框，只接受动作回复
		return &PermanentError{Reason: "typebot channel only accepts structured actions"}
	}
	if len(env.To) == 0 {
		return &PermanentError{Reason: "typebot send without session"}
	}
	url := fmt.Sprintf("%s/sessions/%s/continueChat", a.cfg.APIBase, env.ThreadID)
	payload := map[string]interface{}{
		"actions": env.Content.BotActions,
	}
	return postJSON(ctx, a.client, url, "", payload)
}
