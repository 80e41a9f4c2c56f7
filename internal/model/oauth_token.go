package model

// OAuthToken 单行（ID 恒为 1）保存当前授权凭证。
type OAuthToken struct {
	ID           int64  `gorm:"primaryKey"`
	AccessToken  string `gorm:"type:varchar(512);not null"`
	RefreshToken string `gorm:"type:varchar(512);not null"`
	ExpiresAt    int64  `gorm:"not null"`
}

func (OAuthToken) TableName() string { return "oauth_tokens" }

// AppKV 通用键值（broadcaster_id / broadcaster_login 等）。
type AppKV struct {
	Key   string `gorm:"primaryKey;type:varchar(64)"`
	Value string `gorm:"type:varchar(512);not null"`
}

func (AppKV) TableName() string { return "app_kv" }
