package thread

import (
	"context"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Thread 与一个 Contact 在一个渠道上的会话。
// 主键是 channel.ThreadKey 生成的 "渠道:平台会话id"，重放/重试天然落到同一条会话。
type Thread struct {
	ID        string          `gorm:"primaryKey;size:191" json:"id"`
	Channel   channel.Channel `gorm:"size:16;index;not null" json:"channel"`
	ContactID uint64          `gorm:"index;not null" json:"contactId"`
	Status    string          `gorm:"size:16;index;not null;default:active" json:"status"`

	// 反规范化的最后一条消息快照，供列表页渲染
	LastMessageText      string    `gorm:"size:512" json:"lastMessageText"`
	LastMessageAt        time.Time `gorm:"index" json:"lastMessageAt"`
	LastMessageDirection string    `gorm:"size:8" json:"lastMessageDirection"`

	UnreadCount int       `gorm:"not null;default:0" json:"unreadCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Snapshot 会话快照更新载荷
type Snapshot struct {
	Text      string
	At        time.Time
	Direction string
}

// Repository 会话仓储接口。
// ApplySnapshot / MarkRead 必须对同一会话的并发写原子生效，
// 防止入站消息与标记已读竞争时丢更新。
type Repository interface {
	GetByID(ctx context.Context, id string) (*Thread, error)
	Create(ctx context.Context, t *Thread) error
	// ListActive 按最近活跃排序返回未归档会话
	ListActive(ctx context.Context) ([]*Thread, error)
	// ApplySnapshot 更新快照，incrementUnread 为真时原子地 unread_count+1
	ApplySnapshot(ctx context.Context, id string, snap Snapshot, incrementUnread bool) error
	// MarkRead 清零未读数，并把该会话所有未读入站消息翻转为 read（单事务）
	MarkRead(ctx context.Context, id string) error
	// Archive 归档会话（不删除）
	Archive(ctx context.Context, id string) error
}
