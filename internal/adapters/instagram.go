package adapters

import (
	"context"
	"net/http"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

// InstagramAdapter Instagram Direct 适配器。
// 和 Messenger 共用 webhook 结构与 Graph 发送端点，
// 凭据与渠道标识独立。
type InstagramAdapter struct {
	cfg    *config.MetaChannelConfig
	client *http.Client
}

func NewInstagramAdapter(cfg *config.MetaChannelConfig, client *http.Client) *InstagramAdapter {
	return &InstagramAdapter{cfg: cfg, client: client}
}

func (a *InstagramAdapter) Channel() channel.Channel { return channel.Instagram }

func (a *InstagramAdapter) Capabilities() channel.Capabilities {
	return channel.CapabilitiesOf(channel.Instagram)
}

func (a *InstagramAdapter) VerifySubscription(mode, token string) bool {
	return mode == "subscribe" && token != "" && token == a.cfg.VerifyToken
}

func (a *InstagramAdapter) VerifyWebhook(r *http.Request, body []byte) error {
	return verifyMetaSignature(a.cfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256"))
}

func (a *InstagramAdapter) ParseWebhook(_ context.Context, body []byte) ([]*message.Envelope, error) {
	return parseMessengerEvents(channel.Instagram, body)
}

func (a *InstagramAdapter) Send(ctx context.Context, env *message.Envelope) error {
	if len(env.To) == 0 {
		return &PermanentError{Reason: "instagram send without recipient"}
	}
	base := a.cfg.APIBase
	if base == "" {
		base = defaultGraphAPIBase
	}
	payload := map[string]interface{}{
		"recipient": map[string]string{"id": env.To[0]},
		"message":   map[string]string{"text": env.Content.Text},
	}
	return postJSON(ctx, a.client, base+"/me/messages", a.cfg.AccessToken, payload)
}
