package contact

import (
	"context"
	"time"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
)

// Contact 某个渠道上的一个对端。
// (handle, channel) 唯一：同一个手机号在 whatsapp 和 sms 是两个 Contact。
type Contact struct {
	ID          uint64          `gorm:"primaryKey" json:"id"`
	Channel     channel.Channel `gorm:"size:16;uniqueIndex:ux_contact_handle,priority:1;not null" json:"channel"`
	Handle      string          `gorm:"size:191;uniqueIndex:ux_contact_handle,priority:2;not null" json:"handle"` // 手机号 / page-scoped id / 邮箱 / bot 会话 id
	DisplayName string          `gorm:"size:191" json:"displayName"`
	AvatarURL   string          `gorm:"size:512" json:"avatarUrl,omitempty"`
	// IsRegistered 是否已关联诊所的患者/主人档案
	IsRegistered bool      `gorm:"not null;default:false" json:"isRegistered"`
	PatientRef   string    `gorm:"size:191" json:"patientRef,omitempty"` // 外部档案引用
	Metadata     string    `gorm:"type:text" json:"metadata,omitempty"`  // 自由元数据（JSON 串）
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Repository 联系人仓储接口
type Repository interface {
	GetByHandle(ctx context.Context, ch channel.Channel, handle string) (*Contact, error)
	GetByID(ctx context.Context, id uint64) (*Contact, error)
	GetByIDs(ctx context.Context, ids []uint64) ([]*Contact, error)
	Create(ctx context.Context, c *Contact) error
	Update(ctx context.Context, c *Contact) error
}
