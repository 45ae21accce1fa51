package entity

import (
	"time"
)

// 生产订单策略开关键值
const (
	SettingRequireValidBOM          = "BUILDORDER_REQUIRE_VALID_BOM"
	SettingRequireActivePart        = "BUILDORDER_REQUIRE_ACTIVE_PART"
	SettingRequireLockedPart        = "BUILDORDER_REQUIRE_LOCKED_PART"
	SettingRequireResponsible       = "BUILDORDER_REQUIRE_RESPONSIBLE"
	SettingRequireClosedChilds      = "BUILDORDER_REQUIRE_CLOSED_CHILDS"
	SettingPreventOutputIncomplete  = "BUILDORDER_PREVENT_OUTPUT_COMPLETE_ON_INCOMPLETE_TESTS"
	SettingBuildReferencePattern    = "BUILDORDER_REFERENCE_PATTERN"
)

// GlobalSetting 全局设置键值
type GlobalSetting struct {
	Key       string    `json:"key" gorm:"primaryKey;size:100"`
	Value     string    `json:"value" gorm:"size:200;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GlobalSetting) TableName() string {
	return "mes_global_settings"
}
