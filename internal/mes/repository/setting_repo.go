package repository

import (
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Get 读取设置值，不存在时返回 ok=false
func (r *SettingRepository) Get(key string) (string, bool, error) {
	var setting entity.GlobalSetting
	err := r.db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return setting.Value, true, nil
}

func (r *SettingRepository) Set(key, value string) error {
	setting := entity.GlobalSetting{Key: key, Value: value}
	return r.db.Save(&setting).Error
}
