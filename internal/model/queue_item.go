package model

// QueueItem 排队条目。Position 为 0 起始、全局连续无空洞的稠密序号，
// 每个 UserID 至多存在一条。
type QueueItem struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string `gorm:"type:varchar(36);uniqueIndex:ux_queue_user;not null" json:"user_id"`
	UserLogin   string `gorm:"type:varchar(64);not null" json:"user_login"`
	DisplayName string `gorm:"type:varchar(128);not null" json:"display_name"`
	AvatarURL   string `gorm:"type:varchar(512)" json:"profile_image_url"`
	EnqueuedAt  int64  `gorm:"not null" json:"enqueued_at"`
	Position    int64  `gorm:"index:idx_queue_position;not null" json:"position"`
}

func (QueueItem) TableName() string { return "queue_items" }

// QueueItemView list 输出：条目 + 回看窗口内的完成次数。
type QueueItemView struct {
	QueueItem
	RecentParticipationCount int64 `json:"recent_participation_count"`
}
