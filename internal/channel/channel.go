package channel

import "fmt"

// Channel 渠道标识，一个渠道对应一个消息平台
type Channel string

const (
	WhatsApp  Channel = "whatsapp"
	Facebook  Channel = "facebook"
	Instagram Channel = "instagram"
	Outlook   Channel = "outlook"
	SMS       Channel = "sms"
	Typebot   Channel = "typebot"
)

// All 全部支持的渠道
func All() []Channel {
	return []Channel{WhatsApp, Facebook, Instagram, Outlook, SMS, Typebot}
}

// Parse 解析渠道字符串，未知渠道返回错误
func Parse(s string) (Channel, error) {
	c := Channel(s)
	switch c {
	case WhatsApp, Facebook, Instagram, Outlook, SMS, Typebot:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

func (c Channel) String() string { return string(c) }

// Capabilities 渠道能力描述，适配器和前端共用，避免散落的 if channel == xxx 判断
type Capabilities struct {
	// SupportsAttachments 是否支持附件
	SupportsAttachments bool `json:"supportsAttachments"`
	// SupportsStructuredReplies 是否支持结构化回复（按钮/动作）
	SupportsStructuredReplies bool `json:"supportsStructuredReplies"`
	// SupportsFreeCompose 是否支持自由文本回复；bot 渠道只能发动作
	SupportsFreeCompose bool `json:"supportsFreeCompose"`
	// RequiresSubject 发送时是否要求主题（邮件）
	RequiresSubject bool `json:"requiresSubject"`
	// MaxMessageLength 单条消息长度上限，0 表示不限
	MaxMessageLength int `json:"maxMessageLength"`
}

var capabilityTable = map[Channel]Capabilities{
	WhatsApp:  {SupportsAttachments: true, SupportsFreeCompose: true, MaxMessageLength: 4096},
	Facebook:  {SupportsAttachments: true, SupportsFreeCompose: true, MaxMessageLength: 2000},
	Instagram: {SupportsAttachments: true, SupportsFreeCompose: true, MaxMessageLength: 1000},
	Outlook:   {SupportsAttachments: true, SupportsFreeCompose: true, RequiresSubject: true},
	SMS:       {SupportsFreeCompose: true, MaxMessageLength: 1600}, // 10 段拼接上限
	Typebot:   {SupportsStructuredReplies: true},
}

// CapabilitiesOf 查询渠道能力，未知渠道返回零值
func CapabilitiesOf(c Channel) Capabilities {
	return capabilityTable[c]
}

// ThreadKey 生成带渠道前缀的会话主键。
// 各渠道的 platformID 来源不同（见各 adapter 的 thread-id 推导），
// 前缀保证跨渠道不可能碰撞：同一个手机号在 whatsapp 和 sms 是两个会话。
func ThreadKey(c Channel, platformID string) string {
	return string(c) + ":" + platformID
}
