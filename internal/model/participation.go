package model

// Participation 一次已完成的参与记录，仅追加；只用于公平性回看统计。
type Participation struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"type:varchar(36);index:idx_part_user_completed;not null"`
	CompletedAt int64  `gorm:"index:idx_part_user_completed;not null"`
}

func (Participation) TableName() string { return "participations" }
