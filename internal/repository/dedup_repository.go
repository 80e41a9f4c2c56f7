package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kagari-lab/viewerqueue/internal/model"
)

// DedupRepository 已处理消息台账。
type DedupRepository interface {
	// MarkIfNew 尝试登记 message_id。首次登记返回 true；
	// 已存在的 id 返回 false 且不做修改（插入即裁决，单条语句内原子）。
	MarkIfNew(ctx context.Context, messageID string, receivedAt int64) (bool, error)

	// PurgeBefore 删除 receivedAt 早于 cutoff 的台账行，返回删除条数。
	PurgeBefore(ctx context.Context, cutoff int64) (int64, error)
}

type GormDedupRepository struct {
	db *gorm.DB
}

func NewGormDedupRepository(db *gorm.DB) DedupRepository {
	return &GormDedupRepository{db: db}
}

func (r *GormDedupRepository) MarkIfNew(ctx context.Context, messageID string, receivedAt int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ProcessedMessage{MessageID: messageID, ReceivedAt: receivedAt})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormDedupRepository) PurgeBefore(ctx context.Context, cutoff int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&model.ProcessedMessage{})
	return res.RowsAffected, res.Error
}
