package message

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
)

// 消息方向
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// 投递状态
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusUnread    = "unread"
	StatusFailed    = "failed"
)

// 消息类型
const (
	TypeText  = "text"
	TypeEmail = "email"
	TypeBot   = "bot"
)

// BotAction bot 渠道的结构化动作回复
type BotAction struct {
	ID      string `json:"id,omitempty"`
	Label   string `json:"label"`
	Payload string `json:"payload,omitempty"`
}

// Content 消息内容，邮件带主题，bot 渠道带动作列表
type Content struct {
	Text       string      `json:"text,omitempty"`
	Subject    string      `json:"subject,omitempty"`
	BotActions []BotAction `json:"botActions,omitempty"`
}

// Message 一条消息。方向创建后不可变，只有投递状态可以迁移。
// (channel, external_id) 唯一索引承担入站去重：平台重试 webhook 时同一
// externalId 的第二次写入是 no-op。
type Message struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	ExternalID *string         `gorm:"size:191;uniqueIndex:ux_msg_channel_ext,priority:2" json:"externalId,omitempty"`
	Channel    channel.Channel `gorm:"size:16;uniqueIndex:ux_msg_channel_ext,priority:1;not null" json:"channel"`
	ThreadID   string          `gorm:"size:191;index;not null" json:"threadId"`
	ContactID  uint64          `gorm:"index;not null" json:"contactId"`
	Direction  string          `gorm:"size:8;not null" json:"direction"`
	Type       string          `gorm:"size:16;not null" json:"type"`
	Content    Content         `gorm:"serializer:json;type:text" json:"content"`
	Timestamp  time.Time       `gorm:"index" json:"timestamp"`
	Status     string          `gorm:"size:16;not null" json:"status"`
	// Raw 平台原始载荷，留作审计
	Raw       []byte    `gorm:"type:mediumblob" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Envelope 统一消息信封，所有 adapter 的入站产物和出站队列载荷。
// ThreadID 是平台侧会话标识（不带渠道前缀），各渠道的推导规则见 adapter。
type Envelope struct {
	// MessageID 仅出站队列载荷使用：出站 worker 据此回写投递状态
	MessageID  string          `json:"messageId,omitempty"`
	Channel    channel.Channel `json:"channel"`
	ExternalID string          `json:"externalId,omitempty"`
	ThreadID   string          `json:"threadId"`
	From       string          `json:"from"`
	FromName   string          `json:"fromName,omitempty"`
	To         []string        `json:"to"`
	Timestamp  time.Time       `json:"timestamp"`
	Type       string          `json:"type"`
	Content    Content         `json:"content"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Repository 消息仓储接口
type Repository interface {
	// CreateIfAbsent 幂等写入：(channel, externalId) 已存在时返回 false 且不报错
	CreateIfAbsent(ctx context.Context, m *Message) (bool, error)
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListByThread 按时间升序分页返回会话消息，page 从 1 开始
	ListByThread(ctx context.Context, threadID string, page, limit int) ([]*Message, error)
	UpdateStatus(ctx context.Context, id, status string) error
}
