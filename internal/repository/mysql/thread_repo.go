package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/thread"
)

type threadRepo struct {
	db *gorm.DB
}

// NewThreadRepository 创建会话仓储
func NewThreadRepository(db *gorm.DB) thread.Repository {
	return &threadRepo{db: db}
}

func (r *threadRepo) GetByID(ctx context.Context, id string) (*thread.Thread, error) {
	var t thread.Thread
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *threadRepo) Create(ctx context.Context, t *thread.Thread) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *threadRepo) ListActive(ctx context.Context) ([]*thread.Thread, error) {
	var list []*thread.Thread
	err := r.db.WithContext(ctx).
		Where("status = ?", thread.StatusActive).
		Order("last_message_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ApplySnapshot 单条 UPDATE 完成快照更新，未读数用 SQL 表达式自增，
// 与并发的 MarkRead 在行锁上串行化，不会丢更新。
func (r *threadRepo) ApplySnapshot(ctx context.Context, id string, snap thread.Snapshot, incrementUnread bool) error {
	updates := map[string]interface{}{
		"last_message_text":      snap.Text,
		"last_message_at":        snap.At,
		"last_message_direction": snap.Direction,
	}
	if incrementUnread {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}
	return r.db.WithContext(ctx).
		Model(&thread.Thread{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkRead 在一个事务里清零未读数并翻转未读入站消息
func (r *threadRepo) MarkRead(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&thread.Thread{}).
			Where("id = ?", id).
			Update("unread_count", 0).Error; err != nil {
			return err
		}
		return tx.Model(&message.Message{}).
			Where("thread_id = ? AND direction = ? AND status = ?",
				id, message.DirectionInbound, message.StatusUnread).
			Update("status", message.StatusRead).Error
	})
}

func (r *threadRepo) Archive(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&thread.Thread{}).
		Where("id = ?", id).
		Update("status", thread.StatusArchived).Error
}
