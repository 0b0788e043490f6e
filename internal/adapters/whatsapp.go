package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

// WhatsAppAdapter WhatsApp Cloud API 适配器。
// thread-id 推导：对端 wa_id（发送者手机号的平台规范形式）。
// 同一个人的重试/重发都带同一个 wa_id，天然收敛到一条会话。
type WhatsAppAdapter struct {
	cfg    *config.MetaChannelConfig
	client *http.Client
}

func NewWhatsAppAdapter(cfg *config.MetaChannelConfig, client *http.Client) *WhatsAppAdapter {
	return &WhatsAppAdapter{cfg: cfg, client: client}
}

func (a *WhatsAppAdapter) Channel() channel.Channel { return channel.WhatsApp }

func (a *WhatsAppAdapter) Capabilities() channel.Capabilities {
	return channel.CapabilitiesOf(channel.WhatsApp)
}

func (a *WhatsAppAdapter) VerifySubscription(mode, token string) bool {
	return mode == "subscribe" && token != "" && token == a.cfg.VerifyToken
}

func (a *WhatsAppAdapter) VerifyWebhook(r *http.Request, body []byte) error {
	return verifyMetaSignature(a.cfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256"))
}

// Cloud API webhook 载荷（只取需要的字段）
type waPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (a *WhatsAppAdapter) ParseWebhook(_ context.Context, body []byte) ([]*message.Envelope, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode whatsapp payload: %w", err)
	}

	var envs []*message.Envelope
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				ts := time.Now()
				if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					ts = time.Unix(sec, 0)
				}
				envs = append(envs, &message.Envelope{
					Channel:    channel.WhatsApp,
					ExternalID: m.ID,
					ThreadID:   m.From,
					From:       m.From,
					FromName:   names[m.From],
					To:         []string{a.cfg.SenderID},
					Timestamp:  ts,
					Type:       message.TypeText,
					Content:    message.Content{Text: m.Text.Body},
					Raw:        body,
				})
			}
		}
	}
	return envs, nil
}

func (a *WhatsAppAdapter) Send(ctx context.Context, env *message.Envelope) error {
	if len(env.To) == 0 {
		return &PermanentError{Reason: "whatsapp send without recipient"}
	}
	base := a.cfg.APIBase
	if base == "" {
		base = defaultGraphAPIBase
	}
	url := fmt.Sprintf("%s/%s/messages", base, a.cfg.SenderID)
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                env.To[0],
		"type":              "text",
		"text":              map[string]string{"body": env.Content.Text},
	}
	return postJSON(ctx, a.client, url, a.cfg.AccessToken, payload)
}
