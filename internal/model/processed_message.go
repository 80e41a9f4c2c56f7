package model

// ProcessedMessage 去重台账：已处理的上游 message_id。
// 上游是 at-least-once 投递，插入即占位，重复插入视为已处理。
type ProcessedMessage struct {
	MessageID  string `gorm:"primaryKey;type:varchar(64)"`
	ReceivedAt int64  `gorm:"index;not null"`
}

func (ProcessedMessage) TableName() string { return "processed_messages" }
