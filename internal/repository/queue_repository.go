package repository

import (
	"context"

	"github.com/kagari-lab/viewerqueue/internal/model"
)

// NewEntry 入队所需的参与者信息（由准入管线补全头像后传入）。
type NewEntry struct {
	UserID      string
	UserLogin   string
	DisplayName string
	AvatarURL   string
}

// QueueRepository 公平队列的持久化操作。
// 所有写操作在单个事务内完成读-判-写，外部观察者只会看到操作前或操作后的状态。
type QueueRepository interface {
	// List 按 position 升序返回全部条目，并附带 [windowStart, now] 内的完成次数。
	List(ctx context.Context, windowStart int64) ([]model.QueueItemView, error)

	// IsQueued 廉价的成员检查。
	IsQueued(ctx context.Context, userID string) (bool, error)

	// Enqueue 计算插入点（第一个完成次数严格更多的条目之前，否则队尾）、
	// 后移让位并插入，整体原子。参与者已在队中时返回 inserted=false 且不做任何修改。
	Enqueue(ctx context.Context, entry NewEntry, now, windowStart int64) (item *model.QueueItem, inserted bool, err error)

	// Delete 删除条目并收拢空洞；completed 为真时同时追加一条参与记录。
	// 条目不存在返回 gorm.ErrRecordNotFound。
	Delete(ctx context.Context, id string, completed bool, now int64) error

	// DeleteByUser 按参与者删除（取消奖励路径）。无条目时返回 found=false，不算错误。
	DeleteByUser(ctx context.Context, userID string, completed bool, now int64) (found bool, err error)

	// Move 与紧邻条目交换位置。delta 只接受 ±1；越界是 no-op，
	// 条目不存在返回 gorm.ErrRecordNotFound。
	Move(ctx context.Context, id string, delta int64) error

	// CountParticipations 某参与者在窗口内的完成次数。
	CountParticipations(ctx context.Context, userID string, windowStart int64) (int64, error)
}
