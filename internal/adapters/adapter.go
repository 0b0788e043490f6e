package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
)

// ErrBadSignature webhook 验签失败，事件不得入队
var ErrBadSignature = errors.New("webhook signature verification failed")

// PermanentError 平台明确拒绝载荷（收件人无效、内容不合规等），
// 重试没有意义，直接进死信。
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return "permanent delivery failure: " + e.Reason
}

// IsPermanent 判断发送失败是否无需重试
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Adapter 渠道适配器：一侧终结平台 webhook，一侧终结平台发送 API。
// 适配器不碰存储，入站只产出统一信封，出站只消费统一信封。
type Adapter interface {
	Channel() channel.Channel
	Capabilities() channel.Capabilities
	// VerifyWebhook 校验入站请求真实性，失败返回 ErrBadSignature
	VerifyWebhook(r *http.Request, body []byte) error
	// ParseWebhook 把平台载荷展开为零到多个统一信封。
	// 同一事件可能被平台重复投递，去重由核心服务负责。
	// ctx 携带 webhook 请求的截止时间，需要回查平台的实现必须透传。
	ParseWebhook(ctx context.Context, body []byte) ([]*message.Envelope, error)
	// Send 把统一信封翻译为平台发送调用。
	// 瞬时失败返回普通 error（会重试），明确拒绝返回 *PermanentError。
	Send(ctx context.Context, env *message.Envelope) error
}

// SubscriptionVerifier Meta 系渠道的订阅握手：平台 GET 回调带
// hub.verify_token，匹配则原样返回 hub.challenge。
type SubscriptionVerifier interface {
	VerifySubscription(mode, token string) bool
}

// Registry 渠道到适配器的映射
type Registry map[channel.Channel]Adapter

// NewRegistry 按配置构建全部六个渠道的适配器
func NewRegistry(cfg *config.ChannelsConfig, production bool) Registry {
	client := &http.Client{Timeout: 15 * time.Second}
	return Registry{
		channel.WhatsApp:  NewWhatsAppAdapter(&cfg.WhatsApp, client),
		channel.Facebook:  NewFacebookAdapter(&cfg.Facebook, client),
		channel.Instagram: NewInstagramAdapter(&cfg.Instagram, client),
		channel.Outlook:   NewOutlookAdapter(&cfg.Outlook, client),
		channel.SMS:       NewSMSAdapter(&cfg.SMS, client),
		channel.Typebot:   NewTypebotAdapter(&cfg.Typebot, client, production),
	}
}

// Get 查找渠道适配器
func (r Registry) Get(ch channel.Channel) (Adapter, error) {
	a, ok := r[ch]
	if !ok {
		return nil, fmt.Errorf("no adapter for channel %s", ch)
	}
	return a, nil
}
