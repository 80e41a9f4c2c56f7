package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kagari-lab/viewerqueue/internal/model"
)

const (
	kvBroadcasterID    = "broadcaster_id"
	kvBroadcasterLogin = "broadcaster_login"
)

// TokenRepository 凭证单行 + 通用键值存储。
type TokenRepository interface {
	// GetToken 无凭证时返回 (nil, nil)。
	GetToken(ctx context.Context) (*model.OAuthToken, error)
	UpsertToken(ctx context.Context, token *model.OAuthToken) error
	DeleteToken(ctx context.Context) error

	GetKV(ctx context.Context, key string) (string, bool, error)
	SetKV(ctx context.Context, key, value string) error

	GetBroadcaster(ctx context.Context) (id, login string, err error)
	SetBroadcaster(ctx context.Context, id, login string) error
}

type GormTokenRepository struct {
	db *gorm.DB
}

func NewGormTokenRepository(db *gorm.DB) TokenRepository {
	return &GormTokenRepository{db: db}
}

func (r *GormTokenRepository) GetToken(ctx context.Context) (*model.OAuthToken, error) {
	var t model.OAuthToken
	err := r.db.WithContext(ctx).Where("id = 1").First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *GormTokenRepository) UpsertToken(ctx context.Context, token *model.OAuthToken) error {
	token.ID = 1
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at"}),
		}).
		Create(token).Error
}

func (r *GormTokenRepository) DeleteToken(ctx context.Context) error {
	return r.db.WithContext(ctx).Delete(&model.OAuthToken{}, "id = 1").Error
}

func (r *GormTokenRepository) GetKV(ctx context.Context, key string) (string, bool, error) {
	var row model.AppKV
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (r *GormTokenRepository) SetKV(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&model.AppKV{Key: key, Value: value}).Error
}

func (r *GormTokenRepository) GetBroadcaster(ctx context.Context) (string, string, error) {
	id, _, err := r.GetKV(ctx, kvBroadcasterID)
	if err != nil {
		return "", "", err
	}
	login, _, err := r.GetKV(ctx, kvBroadcasterLogin)
	if err != nil {
		return "", "", err
	}
	return id, login, nil
}

func (r *GormTokenRepository) SetBroadcaster(ctx context.Context, id, login string) error {
	if err := r.SetKV(ctx, kvBroadcasterID, id); err != nil {
		return err
	}
	return r.SetKV(ctx, kvBroadcasterLogin, login)
}
