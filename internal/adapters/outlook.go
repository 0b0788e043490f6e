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

const defaultGraphMSBase = "https://graph.microsoft.com/v1.0"

// OutlookAdapter Microsoft Graph 邮件适配器。
// 入站走 Graph 变更通知：通知本身只带资源 id，正文需要回查 Graph。
// thread-id 推导：邮件的 conversationId，同一封邮件往来稳定归属一条会话。
type OutlookAdapter struct {
	cfg    *config.OutlookConfig
	client *http.Client
}

func NewOutlookAdapter(cfg *config.OutlookConfig, client *http.Client) *OutlookAdapter {
	return &OutlookAdapter{cfg: cfg, client: client}
}

func (a *OutlookAdapter) Channel() channel.Channel { return channel.Outlook }

func (a *OutlookAdapter) Capabilities() channel.Capabilities {
	return channel.CapabilitiesOf(channel.Outlook)
}

// graphNotification Graph 变更通知载荷
type graphNotification struct {
	Value []struct {
		SubscriptionID string `json:"subscriptionId"`
		ClientState    string `json:"clientState"`
		Resource       string `json:"resource"`
		ResourceData   struct {
			ID string `json:"id"`
		} `json:"resourceData"`
	} `json:"value"`
}

// VerifyWebhook 校验每条通知携带的 clientState 是否等于订阅时登记的值
func (a *OutlookAdapter) VerifyWebhook(r *http.Request, body []byte) error {
	var n graphNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return ErrBadSignature
	}
	if len(n.Value) == 0 {
		return ErrBadSignature
	}
	for _, v := range n.Value {
		if a.cfg.ClientState == "" || v.ClientState != a.cfg.ClientState {
			return ErrBadSignature
		}
	}
	return nil
}

// graphMessage Graph 邮件实体（回查结果）
type graphMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Subject        string `json:"subject"`
	BodyPreview    string `json:"bodyPreview"`
	ReceivedAt     string `json:"receivedDateTime"`
	From           struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

func (a *OutlookAdapter) fetchMessage(ctx context.Context, id string) (*graphMessage, error) {
	base := a.cfg.APIBase
	if base == "" {
		base = defaultGraphMSBase
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/me/messages/%s", base, id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch graph message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch graph message: status %d", resp.StatusCode)
	}
	var m graphMessage
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseWebhook 通知只带资源 id，需要回查 Graph 取正文。
// 回查挂在请求 ctx 上，webhook 截止时间到了就放弃，让平台按通知重投。
func (a *OutlookAdapter) ParseWebhook(ctx context.Context, body []byte) ([]*message.Envelope, error) {
	var n graphNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode graph notification: %w", err)
	}

	var envs []*message.Envelope
	for _, v := range n.Value {
		m, err := a.fetchMessage(ctx, v.ResourceData.ID)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339, m.ReceivedAt)
		if err != nil {
			ts = time.Now()
		}
		raw, _ := json.Marshal(m)
		envs = append(envs, &message.Envelope{
			Channel:    channel.Outlook,
			ExternalID: m.ID,
			ThreadID:   m.ConversationID,
			From:       m.From.EmailAddress.Address,
			FromName:   m.From.EmailAddress.Name,
			To:         []string{a.cfg.Mailbox},
			Timestamp:  ts,
			Type:       message.TypeEmail,
			Content:    message.Content{Text: m.BodyPreview, Subject: m.Subject},
			Raw:        raw,
		})
	}
	return envs, nil
}

func (a *OutlookAdapter) Send(ctx context.Context, env *message.Envelope) error {
	if len(env.To) == 0 {
		return &PermanentError{Reason: "outlook send without recipient"}
	}
	if env.Content.Subject == "" {
		return &PermanentError{Reason: "email requires a subject"}
	}
	base := a.cfg.APIBase
	if base == "" {
		base = defaultGraphMSBase
	}
	recipients := make([]map[string]interface{}, 0, len(env.To))
	for _, to := range env.To {
		recipients = append(recipients, map[string]interface{}{
			"emailAddress": map[string]string{"address": to},
		})
	}
	payload := map[string]interface{}{
		"message": map[string]interface{}{
			"subject": env.Content.Subject,
			"body": map[string]string{
				"contentType": "Text",
				"content":     env.Content.Text,
			},
			"toRecipients": recipients,
		},
		"saveToSentItems": true,
	}
	return postJSON(ctx, a.client, base+"/me/sendMail", a.cfg.AccessToken, payload)
}
