package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kagari-lab/viewerqueue/internal/model"
)

// GormQueueRepository QueueRepository 的 gorm 实现。
type GormQueueRepository struct {
	db *gorm.DB
}

func NewGormQueueRepository(db *gorm.DB) QueueRepository {
	return &GormQueueRepository{db: db}
}

type userCount struct {
	UserID string
	C      int64
}

// countsByUser 一次查询取回窗口内所有参与者的完成次数。
func countsByUser(tx *gorm.DB, windowStart int64) (map[string]int64, error) {
	var rows []userCount
	err := tx.Model(&model.Participation{}).
		Select("user_id", "COUNT(*) AS c").
		Where("completed_at >= ?", windowStart).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.UserID] = r.C
	}
	return counts, nil
}

func (r *GormQueueRepository) List(ctx context.Context, windowStart int64) ([]model.QueueItemView, error) {
	var items []model.QueueItem
	if err := r.db.WithContext(ctx).Order("position ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	counts, err := countsByUser(r.db.WithContext(ctx), windowStart)
	if err != nil {
		return nil, err
	}

	out := make([]model.QueueItemView, 0, len(items))
	for _, it := range items {
		out = append(out, model.QueueItemView{QueueItem: it, RecentParticipationCount: counts[it.UserID]})
	}
	return out, nil
}

func (r *GormQueueRepository) IsQueued(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n > 0, err
}

func (r *GormQueueRepository) Enqueue(ctx context.Context, entry NewEntry, now, windowStart int64) (*model.QueueItem, bool, error) {
	var item *model.QueueItem
	inserted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.QueueItem{}).Where("user_id = ?", entry.UserID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		var current []model.QueueItem
		if err := tx.Order("position ASC").Find(&current).Error; err != nil {
			return err
		}
		counts, err := countsByUser(tx, windowStart)
		if err != nil {
			return err
		}
		myCount := counts[entry.UserID]

		// 插到第一个完成次数严格更多的条目之前；并列时先来者在前。
		insertPos := int64(len(current))
		for idx, it := range current {
			if counts[it.UserID] > myCount {
				insertPos = int64(idx)
				break
			}
		}

		if err := tx.Model(&model.QueueItem{}).
			Where("position >= ?", insertPos).
			Update("position", gorm.Expr("position + 1")).Error; err != nil {
			return err
		}

		item = &model.QueueItem{
			ID:          uuid.New().String(),
			UserID:      entry.UserID,
			UserLogin:   entry.UserLogin,
			DisplayName: entry.DisplayName,
			AvatarURL:   entry.AvatarURL,
			EnqueuedAt:  now,
			Position:    insertPos,
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return item, inserted, nil
}

// deleteItemInTx 删除 + 收拢 + （可选）追加参与记录，事务内共用。
func deleteItemInTx(tx *gorm.DB, item *model.QueueItem, completed bool, now int64) error {
	if err := tx.Delete(&model.QueueItem{}, "id = ?", item.ID).Error; err != nil {
		return err
	}
	if err := tx.Model(&model.QueueItem{}).
		Where("position > ?", item.Position).
		Update("position", gorm.Expr("position - 1")).Error; err != nil {
		return err
	}
	if completed {
		return tx.Create(&model.Participation{UserID: item.UserID, CompletedAt: now}).Error
	}
	return nil
}

func (r *GormQueueRepository) Delete(ctx context.Context, id string, completed bool, now int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.QueueItem
		if err := tx.Where("id = ?", id).First(&item).Error; err != nil {
			return err
		}
		return deleteItemInTx(tx, &item, completed, now)
	})
}

func (r *GormQueueRepository) DeleteByUser(ctx context.Context, userID string, completed bool, now int64) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.QueueItem
		err := tx.Where("user_id = ?", userID).First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return deleteItemInTx(tx, &item, completed, now)
	})
	return found, err
}

func (r *GormQueueRepository) Move(ctx context.Context, id string, delta int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.QueueItem
		if err := tx.Where("id = ?", id).First(&item).Error; err != nil {
			return err
		}

		newPos := item.Position + delta
		if newPos < 0 {
			return nil
		}
		var neighbor model.QueueItem
		err := tx.Where("position = ?", newPos).First(&neighbor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&model.QueueItem{}).Where("id = ?", item.ID).
			Update("position", newPos).Error; err != nil {
			return err
		}
		return tx.Model(&model.QueueItem{}).Where("id = ?", neighbor.ID).
			Update("position", item.Position).Error
	})
}

func (r *GormQueueRepository) CountParticipations(ctx context.Context, userID string, windowStart int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Participation{}).
		Where("user_id = ? AND completed_at >= ?", userID, windowStart).
		Count(&n).Error
	return n, err
}
