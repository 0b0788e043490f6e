package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

// messengerPayload Messenger 平台系（Facebook/Instagram Direct）共用的
// webhook 载荷结构
type messengerPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Timestamp int64 `json:"timestamp"` // 毫秒
			Message   struct {
				MID  string `json:"mid"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// parseMessengerEvents 展开 messaging 事件。
// thread-id 推导：page-scoped sender id，对同一页面同一用户稳定。
func parseMessengerEvents(ch channel.Channel, body []byte) ([]*message.Envelope, error) {
	var payload messengerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ch, err)
	}

	var envs []*message.Envelope
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			// echo/已读等无正文事件直接跳过
			if ev.Message.MID == "" {
				continue
			}
			envs = append(envs, &message.Envelope{
				Channel:    ch,
				ExternalID: ev.Message.MID,
				ThreadID:   ev.Sender.ID,
				From:       ev.Sender.ID,
				To:         []string{ev.Recipient.ID},
				Timestamp:  time.UnixMilli(ev.Timestamp),
				Type:       message.TypeText,
				Content:    message.Content{Text: ev.Message.Text},
				Raw:        body,
			})
		}
	}
	return envs, nil
}

// FacebookAdapter Facebook Messenger 适配器
type FacebookAdapter struct {
	cfg    *config.MetaChannelConfig
	client *http.Client
}

func NewFacebookAdapter(cfg *config.MetaChannelConfig, client *http.Client) *FacebookAdapter {
	return &FacebookAdapter{cfg: cfg, client: client}
}

func (a *FacebookAdapter) Channel() channel.Channel { return channel.Facebook }

func (a *FacebookAdapter) Capabilities() channel.Capabilities {
	return channel.CapabilitiesOf(channel.Facebook)
}

func (a *FacebookAdapter) VerifySubscription(mode, token string) bool {
	return mode == "subscribe" && token != "" && token == a.cfg.VerifyToken
}

func (a *FacebookAdapter) VerifyWebhook(r *http.Request, body []byte) error {
	return verifyMetaSignature(a.cfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256"))
}

func (a *FacebookAdapter) ParseWebhook(_ context.Context, body []byte) ([]*message.Envelope, error) {
	return parseMessengerEvents(channel.Facebook, body)
}

func (a *FacebookAdapter) Send(ctx context.Context, env *message.Envelope) error {
	if len(env.To) == 0 {
		return &PermanentError{Reason: "facebook send without recipient"}
	}
	base := a.cfg.APIBase
	if base == "" {
		base = defaultGraphAPIBase
	}
	payload := map[string]interface{}{
		"recipient":      map[string]string{"id": env.To[0]},
		"messaging_type": "RESPONSE",
		"message":        map[string]string{"text": env.Content.Text},
	}
	return postJSON(ctx, a.client, base+"/me/messages", a.cfg.AccessToken, payload)
}
