package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/contact"
)

type contactRepo struct {
	db *gorm.DB
}

// NewContactRepository 创建联系人仓储
func NewContactRepository(db *gorm.DB) contact.Repository {
	return &contactRepo{db: db}
}

func (r *contactRepo) GetByHandle(ctx context.Context, ch channel.Channel, handle string) (*contact.Contact, error) {
	var c contact.Contact
	err := r.db.WithContext(ctx).
		Where("channel = ? AND handle = ?", ch, handle).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *contactRepo) GetByID(ctx context.Context, id uint64) (*contact.Contact, error) {
	var c contact.Contact
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *contactRepo) GetByIDs(ctx context.Context, ids []uint64) ([]*contact.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []*contact.Contact
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *contactRepo) Create(ctx context.Context, c *contact.Contact) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *contactRepo) Update(ctx context.Context, c *contact.Contact) error {
	return r.db.WithContext(ctx).Save(c).Error
}
